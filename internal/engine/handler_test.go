package engine

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsdesk-backend/internal/identity"
)

func testApp(caller *identity.UserContext) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var appErr *AppError
			if e, ok := err.(*AppError); ok {
				appErr = e
			} else {
				appErr = NewAppError("INTERNAL_ERROR", 500, err.Error())
			}
			return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
		},
	})

	inject := func(c *fiber.Ctx) error {
		if caller != nil {
			c.Locals("user", caller)
		}
		return c.Next()
	}

	eng := New(nil, nil, Options{})
	RegisterRoutes(app, NewHandler(eng), inject)
	return app
}

func decodeError(t *testing.T, resp *http.Response) *AppError {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotNil(t, body.Error)
	return body.Error
}

func TestSearchUnknownDomainIs404(t *testing.T) {
	admin := &identity.UserContext{Roles: []string{"administrator"}}
	app := testApp(admin)

	req := httptest.NewRequest(http.MethodGet, "/api/entities/warehouse", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "UNKNOWN_DOMAIN", decodeError(t, resp).Code)
}

func TestSearchWithoutUserIs401(t *testing.T) {
	app := testApp(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/entities/product", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 401, resp.StatusCode)
}

func TestWriteWithoutActionGrantIs403(t *testing.T) {
	reader := &identity.UserContext{Permissions: []string{"product:access:price"}}
	app := testApp(reader)

	req := httptest.NewRequest(http.MethodDelete, "/api/entities/product/some-id", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 403, resp.StatusCode)
}

func TestMalformedFiltersIs400(t *testing.T) {
	admin := &identity.UserContext{Roles: []string{"administrator"}}
	app := testApp(admin)

	req := httptest.NewRequest(http.MethodGet, `/api/entities/product?filters=[1,2]`, nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, "INVALID_FILTERS", decodeError(t, resp).Code)
}
