package webhook

import (
	"crypto/subtle"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"opsdesk-backend/internal/engine"
	"opsdesk-backend/internal/store"
)

// SecretHeader carries the shared secret configured on the spreadsheet side.
const SecretHeader = "X-Sheet-Sync-Secret"

// Handler accepts push notifications from the connected spreadsheet and
// forwards them into the entity engine. Only rows past the import
// watermark are accepted; everything at or below it already arrived
// through the bulk import.
type Handler struct {
	store  *store.Store
	engine *engine.Engine
	secret string
}

func NewHandler(s *store.Store, e *engine.Engine, secret string) *Handler {
	return &Handler{store: s, engine: e, secret: secret}
}

func RegisterRoutes(app *fiber.App, h *Handler) {
	app.Post("/api/sheet-sync/:domain", h.Sync)
}

type syncPayload struct {
	Row      map[string]any `json:"row"`
	RowIndex int            `json:"rowIndex"`
	Action   string         `json:"action"`
	ID       string         `json:"id,omitempty"`
}

func (h *Handler) Sync(c *fiber.Ctx) error {
	if h.secret == "" {
		return engine.ForbiddenError("Sheet sync is not configured")
	}
	given := c.Get(SecretHeader)
	if subtle.ConstantTimeCompare([]byte(given), []byte(h.secret)) != 1 {
		return engine.ForbiddenError("Invalid sync secret")
	}

	domainName := c.Params("domain")

	var body syncPayload
	if err := c.BodyParser(&body); err != nil {
		return engine.BadRequestError("Invalid sync payload")
	}

	watermark := 0
	if row, err := store.QueryRow(c.Context(), h.store.Pool,
		"SELECT last_row_index FROM sheet_watermarks WHERE domain = $1",
		strings.ToLower(strings.TrimSpace(domainName))); err == nil {
		watermark = toInt(row["last_row_index"])
	}
	if body.RowIndex > 0 && body.RowIndex <= watermark {
		// Already covered by the bulk import; acknowledge without applying.
		return c.JSON(fiber.Map{"data": fiber.Map{"applied": false, "reason": "below watermark"}})
	}

	switch strings.ToLower(body.Action) {
	case "", "upsert":
		return h.upsert(c, domainName, body)
	case "delete":
		if body.ID == "" {
			return engine.BadRequestError("Delete requires an id")
		}
		if err := h.engine.Delete(c.Context(), domainName, body.ID); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"data": fiber.Map{"applied": true}})
	default:
		return engine.BadRequestError("Unknown sync action: " + body.Action)
	}
}

func (h *Handler) upsert(c *fiber.Ctx, domainName string, body syncPayload) error {
	if len(body.Row) == 0 {
		return engine.BadRequestError("Sync row is empty")
	}

	if body.ID != "" {
		row, err := h.engine.Update(c.Context(), domainName, body.ID, body.Row)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"data": fiber.Map{"applied": true, "row": row}})
	}

	row, err := h.engine.Create(c.Context(), domainName, body.Row)
	if err != nil {
		return err
	}
	log.Printf("Sheet sync created %s row %s (sheet row %d)", domainName, row.ID, body.RowIndex)
	return c.JSON(fiber.Map{"data": fiber.Map{"applied": true, "row": row}})
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
