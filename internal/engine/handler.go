package engine

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"opsdesk-backend/internal/identity"
)

type Handler struct {
	engine *Engine
}

func NewHandler(e *Engine) *Handler {
	return &Handler{engine: e}
}

// RegisterRoutes mounts the dynamic entity endpoints under /api/entities.
func RegisterRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	group := app.Group("/api/entities", middleware...)
	group.Get("/:domain/columns", h.ListColumns)
	group.Get("/:domain", h.Search)
	group.Get("/:domain/:id", h.GetByID)
	group.Post("/:domain", h.Create)
	group.Put("/:domain/:id", h.Update)
	group.Delete("/:domain/:id", h.Delete)
}

// Search handles GET /api/entities/:domain with query params q, filters
// (JSON), page, size, sort, dir.
func (h *Handler) Search(c *fiber.Ctx) error {
	caller := getUser(c)
	domainName := c.Params("domain")
	if err := checkPermission(caller, domainName, "read"); err != nil {
		return err
	}

	filters, err := ParseFilters(c.Query("filters"))
	if err != nil {
		return respondError(c, NewAppError("INVALID_FILTERS", 400, err.Error()))
	}

	pr := PageRequest{
		Page: queryInt(c, "page", 1),
		Size: queryInt(c, "size", 25),
		Sort: c.Query("sort"),
		Dir:  c.Query("dir"),
	}

	page, outcome, err := h.engine.Search(c.Context(), caller, domainName, c.Query("q"), filters, pr)
	if err != nil {
		return handleEngineError(c, err)
	}

	meta := fiber.Map{
		"page":  page.Page,
		"size":  page.Size,
		"total": page.Total,
	}
	if len(outcome.Skipped) > 0 {
		meta["skippedFilters"] = outcome.Skipped
	}
	return c.JSON(fiber.Map{"data": page.Items, "meta": meta})
}

// GetByID handles GET /api/entities/:domain/:id
func (h *Handler) GetByID(c *fiber.Ctx) error {
	caller := getUser(c)
	domainName := c.Params("domain")
	if err := checkPermission(caller, domainName, "read"); err != nil {
		return err
	}

	row, err := h.engine.Get(c.Context(), domainName, c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}
	return c.JSON(fiber.Map{"data": row})
}

// Create handles POST /api/entities/:domain
func (h *Handler) Create(c *fiber.Ctx) error {
	caller := getUser(c)
	domainName := c.Params("domain")
	if err := checkPermission(caller, domainName, "add"); err != nil {
		return err
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return respondError(c, NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body"))
	}

	row, err := h.engine.Create(c.Context(), domainName, body)
	if err != nil {
		return handleEngineError(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"data": row})
}

// Update handles PUT /api/entities/:domain/:id
func (h *Handler) Update(c *fiber.Ctx) error {
	caller := getUser(c)
	domainName := c.Params("domain")
	if err := checkPermission(caller, domainName, "update"); err != nil {
		return err
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return respondError(c, NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body"))
	}

	row, err := h.engine.Update(c.Context(), domainName, c.Params("id"), body)
	if err != nil {
		return handleEngineError(c, err)
	}
	return c.JSON(fiber.Map{"data": row})
}

// Delete handles DELETE /api/entities/:domain/:id
func (h *Handler) Delete(c *fiber.Ctx) error {
	caller := getUser(c)
	domainName := c.Params("domain")
	if err := checkPermission(caller, domainName, "delete"); err != nil {
		return err
	}

	id := c.Params("id")
	if err := h.engine.Delete(c.Context(), domainName, id); err != nil {
		return handleEngineError(c, err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id}})
}

// ListColumns handles GET /api/entities/:domain/columns
func (h *Handler) ListColumns(c *fiber.Ctx) error {
	caller := getUser(c)
	domainName := c.Params("domain")
	if err := checkPermission(caller, domainName, "read"); err != nil {
		return err
	}

	cols, err := h.engine.ListColumns(c.Context(), domainName)
	if err != nil {
		return handleEngineError(c, err)
	}
	return c.JSON(fiber.Map{"data": cols})
}

// checkPermission gates each verb on the caller's permission tokens.
// Administrators bypass; reads accept any column-access grant for the
// domain; writes require the matching action grant.
func checkPermission(caller *identity.UserContext, domainName, verb string) error {
	if caller == nil {
		return UnauthorizedError("Authentication required")
	}
	if caller.IsAdmin() {
		return nil
	}
	switch verb {
	case "read":
		if caller.CanPrefixed(domainName+":access:") || caller.Can(domainName+":read") {
			return nil
		}
	default:
		if caller.Can(fmt.Sprintf("%s:action:%s", domainName, verb)) {
			return nil
		}
	}
	return ForbiddenError(fmt.Sprintf("Permission denied for %s on %s", verb, domainName))
}

func getUser(c *fiber.Ctx) *identity.UserContext {
	user, _ := c.Locals("user").(*identity.UserContext)
	return user
}

func respondError(c *fiber.Ctx, appErr *AppError) error {
	return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
}

func handleEngineError(c *fiber.Ctx, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return respondError(c, appErr)
	}
	return err
}

func queryInt(c *fiber.Ctx, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return def
}
