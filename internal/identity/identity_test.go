package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNilUserIsDeniedEverything(t *testing.T) {
	var u *UserContext
	assert.False(t, u.HasRole("administrator"))
	assert.False(t, u.IsAdmin())
	assert.False(t, u.Can("orders:action:add"))
	assert.False(t, u.CanPrefixed("orders:access:"))
	assert.Equal(t, "", u.AgentName())
}

func TestRoleChecksAreCaseInsensitive(t *testing.T) {
	u := &UserContext{Roles: []string{"Administrator", "supervisor"}}
	assert.True(t, u.HasRole("administrator"))
	assert.True(t, u.IsAdmin())
	assert.True(t, u.HasAnyRole("confirmation_agent", "supervisor"))
	assert.False(t, u.HasAnyRole("confirmation_agent"))
}

func TestPermissionTokens(t *testing.T) {
	u := &UserContext{Permissions: []string{"orders:access:status", "orders:action:update"}}

	assert.True(t, u.Can("orders:action:update"))
	assert.True(t, u.Can("Orders:Action:Update"))
	assert.False(t, u.Can("orders:action:delete"))

	assert.True(t, u.CanPrefixed("orders:access:"))
	assert.False(t, u.CanPrefixed("product:access:"))
}

func TestAgentNamePrefersUsername(t *testing.T) {
	assert.Equal(t, "amine", (&UserContext{Username: "amine", Email: "a@x.io"}).AgentName())
	assert.Equal(t, "a@x.io", (&UserContext{Email: "a@x.io"}).AgentName())
}
