package dashboard

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"opsdesk-backend/internal/domain"
	"opsdesk-backend/internal/store"
)

// Handler aggregates KPI figures across the configured domain tables.
// Unconfigured domains contribute zeros rather than errors: the dashboard
// renders before any spreadsheet was ever imported.
type Handler struct {
	store *store.Store
}

func NewHandler(s *store.Store) *Handler {
	return &Handler{store: s}
}

func RegisterRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	app.Get("/api/dashboard/summary", append(middleware, h.Summary)...)
}

// Summary handles GET /api/dashboard/summary.
func (h *Handler) Summary(c *fiber.Ctx) error {
	ctx := c.Context()

	summary := fiber.Map{
		"ordersByStatus": h.ordersByStatus(ctx),
		"totalOrders":    h.rowCount(ctx, "orders"),
		"revenue":        h.sumColumn(ctx, "orders", []string{"total_price", "total", "amount", "price"}),
		"expenses":       h.sumColumn(ctx, "expenses", []string{"amount", "cost", "total"}),
		"adSpend":        h.sumColumn(ctx, "ads", []string{"spend", "amount", "cost", "budget"}),
		"products":       h.rowCount(ctx, "product"),
		"employees":      h.rowCount(ctx, "employee"),
	}
	return c.JSON(fiber.Map{"data": summary})
}

func (h *Handler) ordersByStatus(ctx context.Context) map[string]int64 {
	out := map[string]int64{}

	// Every known status appears, even at zero.
	statuses, err := store.QueryRows(ctx, h.store.Pool,
		"SELECT code FROM order_status_ref ORDER BY sort_order")
	if err == nil {
		for _, row := range statuses {
			if code, ok := row["code"].(string); ok {
				out[code] = 0
			}
		}
	}

	table, _ := domain.TableFor("orders")
	if !h.hasColumn(ctx, table, "status") {
		return out
	}

	rows, err := store.QueryRows(ctx, h.store.Pool, fmt.Sprintf(
		"SELECT lower(status::text) AS status, COUNT(*) AS n FROM %s GROUP BY 1", table))
	if err != nil {
		log.Printf("WARN: dashboard order counts: %v", err)
		return out
	}
	for _, row := range rows {
		status, _ := row["status"].(string)
		if status == "" {
			continue
		}
		out[status] = toInt64(row["n"])
	}
	return out
}

func (h *Handler) rowCount(ctx context.Context, domainName string) int64 {
	table, err := domain.TableFor(domainName)
	if err != nil {
		return 0
	}
	exists, err := h.store.TableExists(ctx, table)
	if err != nil || !exists {
		return 0
	}
	row, err := store.QueryRow(ctx, h.store.Pool,
		fmt.Sprintf("SELECT COUNT(*) AS n FROM %s", table))
	if err != nil {
		return 0
	}
	return toInt64(row["n"])
}

// sumColumn totals the first numeric column the table actually has, from
// a list of likely names. Spreadsheet-defined schemas make the column
// name a guess, not a constant.
func (h *Handler) sumColumn(ctx context.Context, domainName string, candidates []string) float64 {
	table, err := domain.TableFor(domainName)
	if err != nil {
		return 0
	}
	for _, col := range candidates {
		if !h.hasNumericColumn(ctx, table, col) {
			continue
		}
		row, err := store.QueryRow(ctx, h.store.Pool, fmt.Sprintf(
			"SELECT COALESCE(SUM(%s), 0) AS total FROM %s", col, table))
		if err != nil {
			log.Printf("WARN: dashboard sum of %s.%s: %v", table, col, err)
			return 0
		}
		return toFloat(row["total"])
	}
	return 0
}

func (h *Handler) hasColumn(ctx context.Context, table, column string) bool {
	row, err := store.QueryRow(ctx, h.store.Pool,
		`SELECT COUNT(*) AS n FROM information_schema.columns
		 WHERE table_name = $1 AND column_name = $2`,
		strings.ToLower(table), strings.ToLower(column))
	return err == nil && toInt64(row["n"]) > 0
}

func (h *Handler) hasNumericColumn(ctx context.Context, table, column string) bool {
	row, err := store.QueryRow(ctx, h.store.Pool,
		`SELECT COUNT(*) AS n FROM information_schema.columns
		 WHERE table_name = $1 AND column_name = $2
		   AND data_type IN ('bigint', 'integer', 'smallint', 'numeric', 'real', 'double precision')`,
		strings.ToLower(table), strings.ToLower(column))
	return err == nil && toInt64(row["n"]) > 0
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}
