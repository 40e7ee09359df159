// Package identity carries the authenticated caller through request
// handling. Set by the auth middleware, consumed by the entity engine.
package identity

import "strings"

type UserContext struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// HasRole checks whether the user has a specific role (case-insensitive).
func (u *UserContext) HasRole(role string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// HasAnyRole checks whether the user has at least one of the given roles.
func (u *UserContext) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if u.HasRole(role) {
			return true
		}
	}
	return false
}

// IsAdmin checks whether the user has the administrator role.
func (u *UserContext) IsAdmin() bool {
	return u.HasRole("administrator")
}

// Can checks whether the user holds an exact permission token.
func (u *UserContext) Can(permission string) bool {
	if u == nil {
		return false
	}
	for _, p := range u.Permissions {
		if strings.EqualFold(p, permission) {
			return true
		}
	}
	return false
}

// CanPrefixed checks whether the user holds any permission with the prefix.
func (u *UserContext) CanPrefixed(prefix string) bool {
	if u == nil {
		return false
	}
	for _, p := range u.Permissions {
		if strings.HasPrefix(strings.ToLower(p), strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

// AgentName is the identifier used for row-level agent restrictions:
// the username when present, else the email.
func (u *UserContext) AgentName() string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}
