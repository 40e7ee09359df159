package importer

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"opsdesk-backend/internal/domain"
	"opsdesk-backend/internal/engine"
	"opsdesk-backend/internal/schema"
)

type Handler struct {
	importer *Importer
}

func NewHandler(im *Importer) *Handler {
	return &Handler{importer: im}
}

// RegisterRoutes mounts the admin import endpoints. The caller supplies
// the auth and admin gates.
func RegisterRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	grp := app.Group("/api/admin", middleware...)
	grp.Post("/import/:domain", h.Import)
	grp.Get("/templates/:domain", h.Template)
}

// Import handles POST /api/admin/import/:domain with a multipart "file".
func (h *Handler) Import(c *fiber.Ctx) error {
	domainName := c.Params("domain")

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return engine.BadRequestError("A spreadsheet file is required")
	}

	f, err := fileHeader.Open()
	if err != nil {
		return engine.BadRequestError("Uploaded file could not be read")
	}
	defer f.Close()

	result, err := h.importer.Import(c.Context(), domainName, fileHeader.Filename, f)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnsupportedDomain):
			return engine.UnknownDomainError(domainName)
		case errors.Is(err, schema.ErrEmptySheet):
			return engine.BadRequestError("Spreadsheet has no header row")
		}
		return err
	}

	return c.JSON(fiber.Map{"data": result})
}

// Template handles GET /api/admin/templates/:domain, returning a blank
// spreadsheet with the domain's headers and type markers.
func (h *Handler) Template(c *fiber.Ctx) error {
	domainName := c.Params("domain")

	raw, err := schema.Template(domainName)
	if err != nil {
		return engine.UnknownDomainError(domainName)
	}

	name, _ := domain.Normalize(domainName)
	c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_template.xlsx"`, name))
	return c.Send(raw)
}
