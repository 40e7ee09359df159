package auth

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"opsdesk-backend/internal/engine"
	"opsdesk-backend/internal/identity"
	"opsdesk-backend/internal/store"
)

// Handler serves the authentication endpoints.
type Handler struct {
	store     *store.Store
	jwtSecret string
}

func NewHandler(s *store.Store, jwtSecret string) *Handler {
	return &Handler{store: s, jwtSecret: jwtSecret}
}

// Login handles POST /api/auth/login. The login field accepts either a
// username or an email address.
func (h *Handler) Login(c *fiber.Ctx) error {
	var body struct {
		Login    string `json:"login"`
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	login := body.Login
	if login == "" {
		login = body.Username
	}
	if login == "" {
		login = body.Email
	}
	if login == "" || body.Password == "" {
		return engine.UnauthorizedError("Login and password are required")
	}

	ctx := c.Context()

	user, err := store.QueryRow(ctx, h.store.Pool,
		`SELECT id, username, email, password_hash, active
		 FROM users WHERE username = $1 OR email = $1`, login)
	if err != nil {
		return engine.UnauthorizedError("Invalid credentials")
	}

	active, _ := user["active"].(bool)
	if !active {
		return engine.UnauthorizedError("Account is disabled")
	}

	passwordHash, _ := user["password_hash"].(string)
	if !CheckPassword(body.Password, passwordHash) {
		return engine.UnauthorizedError("Invalid credentials")
	}

	userID, _ := user["id"].(string)
	caller, err := LoadIdentity(ctx, h.store, userID)
	if err != nil {
		return engine.NewAppError("INTERNAL_ERROR", 500, "Failed to load user roles")
	}

	pair, err := h.generateTokenPair(ctx, caller)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"data": fiber.Map{
		"tokens": pair,
		"user": fiber.Map{
			"id":          caller.ID,
			"username":    caller.Username,
			"email":       caller.Email,
			"roles":       caller.Roles,
			"permissions": caller.Permissions,
		},
	}})
}

// Refresh handles POST /api/auth/refresh with single-use token rotation.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	if body.RefreshToken == "" {
		return engine.UnauthorizedError("Refresh token is required")
	}

	ctx := c.Context()

	row, err := store.QueryRow(ctx, h.store.Pool,
		`SELECT rt.token, rt.user_id, rt.expires_at, u.active
		 FROM refresh_tokens rt
		 JOIN users u ON u.id = rt.user_id
		 WHERE rt.token = $1`, body.RefreshToken)
	if err != nil {
		return engine.UnauthorizedError("Invalid refresh token")
	}

	expiresAt, _ := row["expires_at"].(time.Time)
	if time.Now().After(expiresAt) {
		_, _ = store.Exec(ctx, h.store.Pool,
			"DELETE FROM refresh_tokens WHERE token = $1", body.RefreshToken)
		return engine.UnauthorizedError("Refresh token expired")
	}

	active, _ := row["active"].(bool)
	if !active {
		return engine.UnauthorizedError("Account is disabled")
	}

	// Rotation: the presented token is consumed either way.
	_, _ = store.Exec(ctx, h.store.Pool,
		"DELETE FROM refresh_tokens WHERE token = $1", body.RefreshToken)

	userID, _ := row["user_id"].(string)
	caller, err := LoadIdentity(ctx, h.store, userID)
	if err != nil {
		return engine.NewAppError("INTERNAL_ERROR", 500, "Failed to load user roles")
	}

	pair, err := h.generateTokenPair(ctx, caller)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"data": fiber.Map{"tokens": pair}})
}

// Logout handles POST /api/auth/logout.
func (h *Handler) Logout(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	if body.RefreshToken != "" {
		_, _ = store.Exec(c.Context(), h.store.Pool,
			"DELETE FROM refresh_tokens WHERE token = $1", body.RefreshToken)
	}
	return c.JSON(fiber.Map{"message": "Logged out"})
}

// Me handles GET /api/auth/me for the authenticated caller.
func (h *Handler) Me(c *fiber.Ctx) error {
	caller := GetUser(c)
	if caller == nil {
		return engine.UnauthorizedError("Missing auth token")
	}
	return c.JSON(fiber.Map{"data": caller})
}

// RegisterRoutes registers auth routes on the given Fiber app.
func RegisterRoutes(app *fiber.App, h *Handler, authMiddleware fiber.Handler) {
	grp := app.Group("/api/auth")
	grp.Post("/login", h.Login)
	grp.Post("/refresh", h.Refresh)
	grp.Post("/logout", h.Logout)
	grp.Get("/me", authMiddleware, h.Me)
}

// LoadIdentity resolves a user's full identity, roles and permission
// tokens included, straight from the database.
func LoadIdentity(ctx context.Context, s *store.Store, userID string) (*identity.UserContext, error) {
	user, err := store.QueryRow(ctx, s.Pool,
		"SELECT id, username, email FROM users WHERE id = $1", userID)
	if err != nil {
		return nil, err
	}

	roleRows, err := store.QueryRows(ctx, s.Pool,
		`SELECT r.name FROM roles r
		 JOIN user_roles ur ON ur.role_id = r.id
		 WHERE ur.user_id = $1 ORDER BY r.name`, userID)
	if err != nil {
		return nil, err
	}
	roles := make([]string, 0, len(roleRows))
	for _, row := range roleRows {
		if name, ok := row["name"].(string); ok {
			roles = append(roles, name)
		}
	}

	permRows, err := store.QueryRows(ctx, s.Pool,
		`SELECT DISTINCT p.name FROM permissions p
		 JOIN role_permissions rp ON rp.permission_id = p.id
		 JOIN user_roles ur ON ur.role_id = rp.role_id
		 WHERE ur.user_id = $1 ORDER BY p.name`, userID)
	if err != nil {
		return nil, err
	}
	perms := make([]string, 0, len(permRows))
	for _, row := range permRows {
		if name, ok := row["name"].(string); ok {
			perms = append(perms, name)
		}
	}

	return &identity.UserContext{
		ID:          userID,
		Username:    asString(user["username"]),
		Email:       asString(user["email"]),
		Roles:       roles,
		Permissions: perms,
	}, nil
}

func (h *Handler) generateTokenPair(ctx context.Context, caller *identity.UserContext) (*TokenPair, error) {
	accessToken, err := GenerateAccessToken(caller.ID, caller.Username, caller.Roles, h.jwtSecret)
	if err != nil {
		return nil, engine.NewAppError("INTERNAL_ERROR", 500, "Failed to generate access token")
	}

	refreshToken := GenerateRefreshToken()
	expiresAt := time.Now().Add(RefreshTokenTTL)

	_, err = store.Exec(ctx, h.store.Pool,
		`INSERT INTO refresh_tokens (token, user_id, expires_at) VALUES ($1, $2, $3)`,
		refreshToken, caller.ID, expiresAt)
	if err != nil {
		return nil, engine.NewAppError("INTERNAL_ERROR", 500, "Failed to store refresh token")
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
