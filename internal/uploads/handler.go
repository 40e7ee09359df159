// Package uploads exposes the HTTP surface for pushing files into object
// storage ahead of attaching them to a media reference column.
package uploads

import (
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"opsdesk-backend/internal/domain"
	"opsdesk-backend/internal/engine"
	"opsdesk-backend/internal/media"
	"opsdesk-backend/internal/semantics"
	"opsdesk-backend/internal/storage"
)

// Handler serves file uploads destined for media reference columns. The
// target column's semantics decide the size and mime constraints.
type Handler struct {
	objects  storage.ObjectStore
	reg      *semantics.Registry
	defaults media.Defaults
	local    *storage.LocalStore
}

func NewHandler(objects storage.ObjectStore, reg *semantics.Registry, defaults media.Defaults) *Handler {
	h := &Handler{objects: objects, reg: reg, defaults: defaults}
	if ls, ok := objects.(*storage.LocalStore); ok {
		h.local = ls
	}
	return h
}

func RegisterRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	app.Post("/api/storage/upload/:domain/:column", append(middleware, h.Upload)...)
	if h.local != nil {
		app.Get("/files/*", h.ServeLocal)
	}
}

// Upload handles POST /api/storage/upload/:domain/:column with a
// multipart "file".
func (h *Handler) Upload(c *fiber.Ctx) error {
	domainName := c.Params("domain")
	column := c.Params("column")

	table, err := domain.TableFor(domainName)
	if err != nil {
		return engine.UnknownDomainError(domainName)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return engine.BadRequestError("A file is required")
	}

	sem, err := h.reg.ForColumn(c.Context(), table, column)
	if err != nil {
		return err
	}
	if err := h.checkConstraints(fileHeader, sem); err != nil {
		return err
	}

	f, err := fileHeader.Open()
	if err != nil {
		return engine.BadRequestError("Uploaded file could not be read")
	}
	defer f.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	key := fmt.Sprintf("%s/%s/%s%s",
		domainName, column, uuid.New().String(), strings.ToLower(filepath.Ext(fileHeader.Filename)))

	obj, err := h.objects.Upload(c.Context(), key, contentType, fileHeader.Size, f)
	if err != nil {
		return engine.NewAppError("STORAGE_ERROR", 502, "File upload failed")
	}

	item := media.Item{
		Key:         obj.Key,
		URL:         obj.URL,
		ExpiresAt:   obj.ExpiresAt,
		ContentType: obj.ContentType,
		SizeBytes:   obj.SizeBytes,
	}
	return c.JSON(fiber.Map{"data": item})
}

func (h *Handler) checkConstraints(fh *multipart.FileHeader, sem *semantics.ColumnSemantics) error {
	maxSize := sem.MaxFileSizeBytes(h.defaults.MaxFileSizeBytes)
	if maxSize > 0 && fh.Size > maxSize {
		return engine.MediaConstraintError("file",
			fmt.Errorf("file exceeds the %d byte limit", maxSize))
	}

	allowed := sem.AllowedMimeTypes(h.defaults.AllowedMimeTypes)
	if len(allowed) == 0 {
		return nil
	}
	contentType := strings.ToLower(strings.TrimSpace(fh.Header.Get("Content-Type")))
	for _, mime := range allowed {
		if strings.EqualFold(strings.TrimSpace(mime), contentType) {
			return nil
		}
	}
	return engine.MediaConstraintError("file",
		fmt.Errorf("content type %s is not allowed", contentType))
}

// ServeLocal streams files for the local storage driver.
func (h *Handler) ServeLocal(c *fiber.Ctx) error {
	key := c.Params("*")
	f, err := h.local.Open(c.Context(), key)
	if err != nil {
		return engine.NewAppError("NOT_FOUND", 404, "File not found")
	}
	defer f.Close()

	return c.SendStream(f)
}
