// Package engine serves CRUD and search for every configured domain
// against tables whose columns are only known at runtime. Schema metadata
// is re-read from information_schema on every call, so a spreadsheet
// re-import is visible immediately without cache invalidation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/expr-lang/expr"

	"opsdesk-backend/internal/domain"
	"opsdesk-backend/internal/identity"
	"opsdesk-backend/internal/media"
	"opsdesk-backend/internal/semantics"
	"opsdesk-backend/internal/storage"
	"opsdesk-backend/internal/store"
)

// Notifier receives row-change events. Implemented by the SSE broadcaster;
// a nil Notifier disables fan-out.
type Notifier interface {
	Publish(domain, action string, payload map[string]any)
}

type Engine struct {
	store            *store.Store
	semantics        *semantics.Registry
	objects          storage.ObjectStore
	notifier         Notifier
	mediaDefaults    media.Defaults
	refreshThreshold time.Duration
	clockSkew        time.Duration
}

type Options struct {
	Objects          storage.ObjectStore
	Notifier         Notifier
	MediaDefaults    media.Defaults
	RefreshThreshold time.Duration
	ClockSkew        time.Duration
}

func New(s *store.Store, reg *semantics.Registry, opts Options) *Engine {
	if opts.MediaDefaults.MaxImages == 0 {
		opts.MediaDefaults = media.Defaults{
			MaxImages:        1,
			MaxFileSizeBytes: 5 * 1024 * 1024,
			AllowedMimeTypes: []string{"image/jpeg", "image/png", "image/webp", "image/gif"},
		}
	}
	return &Engine{
		store:            s,
		semantics:        reg,
		objects:          opts.Objects,
		notifier:         opts.Notifier,
		mediaDefaults:    opts.MediaDefaults,
		refreshThreshold: opts.RefreshThreshold,
		clockSkew:        opts.ClockSkew,
	}
}

type PageRequest struct {
	Page int
	Size int
	Sort string
	Dir  string
}

func (p PageRequest) normalized() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Size < 1 {
		p.Size = 25
	}
	if p.Size > 100 {
		p.Size = 100
	}
	return p
}

type Row struct {
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes"`
}

type Page struct {
	Items []Row `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Size  int   `json:"size"`
}

// resolveCatalog maps a domain to its table and loads the live column
// catalog. Unknown domains and never-imported tables both surface as 404s.
func (e *Engine) resolveCatalog(ctx context.Context, domainName string) (*Catalog, error) {
	table, err := domain.TableFor(domainName)
	if err != nil {
		return nil, UnknownDomainError(domainName)
	}
	cat, err := loadCatalog(ctx, e.store.Pool, e.semantics, table)
	if err != nil {
		return nil, fmt.Errorf("load catalog for %s: %w", table, err)
	}
	if cat == nil {
		return nil, UnconfiguredDomainError(domainName)
	}
	return cat, nil
}

// Search runs the schema-aware hybrid query: free text across all columns,
// structured per-column filters, the orders agent restriction, count and
// page fetch. The FilterOutcome records which filters were silently dropped.
func (e *Engine) Search(ctx context.Context, caller *identity.UserContext, domainName, freeText string, filters []Filter, pr PageRequest) (*Page, FilterOutcome, error) {
	var outcome FilterOutcome

	cat, err := e.resolveCatalog(ctx, domainName)
	if err != nil {
		return nil, outcome, err
	}
	pr = pr.normalized()

	pb := &paramBuilder{}
	var where []string

	if strings.TrimSpace(freeText) != "" {
		if clause := freeTextClause(cat, freeText, pb); clause != "" {
			where = append(where, clause)
		}
	}

	var filterClauses []string
	filterClauses, outcome = applyFilters(cat, filters, pb)
	where = append(where, filterClauses...)

	if clause, ok := e.agentRestriction(cat, caller, domainName, pb); ok {
		where = append(where, clause)
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = " WHERE " + strings.Join(where, " AND ")
	}

	countRow, err := store.QueryRow(ctx, e.store.Pool,
		"SELECT COUNT(*) AS count FROM "+cat.Table+whereSQL, pb.params...)
	if err != nil {
		return nil, outcome, fmt.Errorf("count %s: %w", cat.Table, err)
	}
	total := toInt64(countRow["count"])

	sortCol, sortDir := resolveSort(cat, pr.Sort, pr.Dir)
	sql := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s %s LIMIT %s OFFSET %s",
		strings.Join(cat.ColumnNames(), ", "), cat.Table, whereSQL,
		sortCol, sortDir,
		pb.Add(pr.Size), pb.Add((pr.Page-1)*pr.Size))

	rawRows, err := store.QueryRows(ctx, e.store.Pool, sql, pb.params...)
	if err != nil {
		return nil, outcome, fmt.Errorf("search %s: %w", cat.Table, err)
	}

	items := make([]Row, 0, len(rawRows))
	for _, raw := range rawRows {
		items = append(items, e.renderRow(ctx, cat, raw))
	}

	return &Page{Items: items, Total: total, Page: pr.Page, Size: pr.Size}, outcome, nil
}

// agentRestriction force-appends the orders-domain row filter for
// confirmation agents who are neither administrators nor supervisors.
func (e *Engine) agentRestriction(cat *Catalog, caller *identity.UserContext, domainName string, pb *paramBuilder) (string, bool) {
	name, err := domain.Normalize(domainName)
	if err != nil || name != "orders" {
		return "", false
	}
	if !caller.HasRole("confirmation_agent") || caller.HasAnyRole("administrator", "supervisor") {
		return "", false
	}
	col, ok := cat.Lookup("assigned_agent")
	if !ok {
		return "", false
	}
	return fmt.Sprintf("lower(%s::text) = %s", col.Name,
		pb.Add(strings.ToLower(caller.AgentName()))), true
}

func (e *Engine) Get(ctx context.Context, domainName, id string) (*Row, error) {
	cat, err := e.resolveCatalog(ctx, domainName)
	if err != nil {
		return nil, err
	}
	raw, err := e.fetchByID(ctx, cat, id)
	if err != nil {
		return nil, err
	}
	row := e.renderRow(ctx, cat, raw)
	return &row, nil
}

func (e *Engine) fetchByID(ctx context.Context, cat *Catalog, id string) (map[string]any, error) {
	raw, err := store.QueryRow(ctx, e.store.Pool,
		fmt.Sprintf("SELECT %s FROM %s WHERE id = $1",
			strings.Join(cat.ColumnNames(), ", "), cat.Table), id)
	if err != nil {
		// An id that cannot be parsed as a key references no row.
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidInput) {
			return nil, NotFoundError(cat.Table, id)
		}
		return nil, fmt.Errorf("fetch %s/%s: %w", cat.Table, id, err)
	}
	return raw, nil
}

// WritePlan is the coerced, validated column/value set for one insert or
// update, along with the attribute keys that were silently dropped.
type WritePlan struct {
	Columns []string
	Values  []any
	Skipped []string
}

// PlanWrite resolves each attribute against the catalog, coerces values to
// the column's physical type, routes media columns through the normalizer,
// and evaluates any semantics-declared validation rule. Unknown keys are
// dropped, never rejected; real validation failures are all collected.
func PlanWrite(cat *Catalog, attrs map[string]any, defaults media.Defaults) (*WritePlan, []ErrorDetail) {
	plan := &WritePlan{}
	var details []ErrorDetail

	for _, col := range cat.DataColumns() {
		v, ok := attrs[col.Name]
		if !ok {
			// Accept case-insensitive attribute keys.
			for key, kv := range attrs {
				if strings.EqualFold(key, col.Name) {
					v, ok = kv, true
					break
				}
			}
		}
		if !ok {
			continue
		}

		var coerced any
		if col.IsMedia() {
			ref := media.Parse(v, col.Semantics, defaults)
			if err := ref.Validate(); err != nil {
				details = append(details, ErrorDetail{
					Field: col.Name, Rule: "media", Message: err.Error(),
				})
				continue
			}
			stored, err := ref.StorageForm()
			if err != nil {
				details = append(details, ErrorDetail{
					Field: col.Name, Rule: "media", Message: err.Error(),
				})
				continue
			}
			coerced = stored
		} else {
			var err error
			coerced, err = coerceWriteValue(col, v)
			if err != nil {
				details = append(details, ErrorDetail{
					Field: col.Name, Rule: "type", Message: err.Error(),
				})
				continue
			}
		}

		if detail := checkRule(col, coerced, attrs); detail != nil {
			details = append(details, *detail)
			continue
		}

		plan.Columns = append(plan.Columns, col.Name)
		plan.Values = append(plan.Values, coerced)
	}

	// Anything not matching a catalog column was dropped.
	for key := range attrs {
		if _, ok := cat.Lookup(key); !ok || strings.EqualFold(key, "id") {
			plan.Skipped = append(plan.Skipped, key)
		}
	}

	return plan, details
}

// checkRule evaluates an optional expression from column semantics, e.g.
// "value >= 0". The expression sees the coerced value and the full record.
func checkRule(col Column, value any, record map[string]any) *ErrorDetail {
	rule, message := col.Semantics.Rule()
	if rule == "" {
		return nil
	}
	out, err := expr.Eval(rule, map[string]any{
		"value":  value,
		"record": record,
	})
	if err != nil {
		log.Printf("WARN: rule for column %s failed to evaluate: %v", col.Name, err)
		return nil
	}
	if ok, isBool := out.(bool); isBool && !ok {
		if message == "" {
			message = fmt.Sprintf("value for %s failed validation", col.Name)
		}
		return &ErrorDetail{Field: col.Name, Rule: "expression", Message: message}
	}
	return nil
}

func (e *Engine) Create(ctx context.Context, domainName string, attrs map[string]any) (*Row, error) {
	cat, err := e.resolveCatalog(ctx, domainName)
	if err != nil {
		return nil, err
	}

	plan, details := PlanWrite(cat, attrs, e.mediaDefaults)
	if len(details) > 0 {
		return nil, writeError(details)
	}

	pb := &paramBuilder{}
	sql := buildInsertSQL(cat.Table, plan.Columns, pb, plan.Values)
	row, err := store.QueryRow(ctx, e.store.Pool, sql, pb.params...)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", cat.Table, err)
	}
	id := fmt.Sprintf("%v", row["id"])

	raw, err := e.fetchByID(ctx, cat, id)
	if err != nil {
		return nil, err
	}
	rendered := e.renderRow(ctx, cat, raw)
	e.publish(domainName, "created", rendered)
	return &rendered, nil
}

func (e *Engine) Update(ctx context.Context, domainName, id string, attrs map[string]any) (*Row, error) {
	cat, err := e.resolveCatalog(ctx, domainName)
	if err != nil {
		return nil, err
	}
	if _, err := e.fetchByID(ctx, cat, id); err != nil {
		return nil, err
	}

	plan, details := PlanWrite(cat, attrs, e.mediaDefaults)
	if len(details) > 0 {
		return nil, writeError(details)
	}

	if len(plan.Columns) > 0 {
		pb := &paramBuilder{}
		sql := buildUpdateSQL(cat.Table, plan.Columns, plan.Values, id, pb)
		if _, err := store.Exec(ctx, e.store.Pool, sql, pb.params...); err != nil {
			if errors.Is(err, store.ErrInvalidInput) {
				return nil, NotFoundError(cat.Table, id)
			}
			return nil, fmt.Errorf("update %s/%s: %w", cat.Table, id, err)
		}
	}

	raw, err := e.fetchByID(ctx, cat, id)
	if err != nil {
		return nil, err
	}
	rendered := e.renderRow(ctx, cat, raw)
	e.publish(domainName, "updated", rendered)
	return &rendered, nil
}

func (e *Engine) Delete(ctx context.Context, domainName, id string) error {
	cat, err := e.resolveCatalog(ctx, domainName)
	if err != nil {
		return err
	}

	affected, err := store.Exec(ctx, e.store.Pool,
		"DELETE FROM "+cat.Table+" WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, store.ErrForeignKeyViolation) {
			return StillInUseError(domainName)
		}
		if errors.Is(err, store.ErrInvalidInput) {
			return NotFoundError(cat.Table, id)
		}
		return fmt.Errorf("delete %s/%s: %w", cat.Table, id, err)
	}
	if affected == 0 {
		return NotFoundError(cat.Table, id)
	}

	e.publish(domainName, "deleted", Row{ID: id})
	return nil
}

// ColumnDescriptor is the client-facing column listing for dynamic UIs.
type ColumnDescriptor struct {
	Name        string         `json:"name"`
	DisplayName string         `json:"displayName"`
	Type        string         `json:"type"`
	Nullable    bool           `json:"nullable"`
	Metadata    map[string]any `json:"metadata"`
}

// ListColumns describes every column except id in ordinal order, with the
// derived client type and merged semantics metadata. The orders status
// column additionally advertises the valid status labels so the caller
// renders it as a select.
func (e *Engine) ListColumns(ctx context.Context, domainName string) ([]ColumnDescriptor, error) {
	cat, err := e.resolveCatalog(ctx, domainName)
	if err != nil {
		return nil, err
	}
	name, _ := domain.Normalize(domainName)

	out := make([]ColumnDescriptor, 0, len(cat.Columns))
	for _, col := range cat.DataColumns() {
		desc := ColumnDescriptor{
			Name:        col.Name,
			DisplayName: col.DisplayName(),
			Type:        col.ClientType(),
			Nullable:    col.Nullable,
			Metadata:    map[string]any{},
		}
		if col.Semantics != nil {
			for k, v := range col.Semantics.Metadata {
				desc.Metadata[k] = v
			}
		}
		if desc.Type == ClientTypeMediaRef {
			desc.Metadata["maxImages"] = col.Semantics.MaxImages(e.mediaDefaults.MaxImages)
			desc.Metadata["maxFileSizeBytes"] = col.Semantics.MaxFileSizeBytes(e.mediaDefaults.MaxFileSizeBytes)
			desc.Metadata["allowedMimeTypes"] = col.Semantics.AllowedMimeTypes(e.mediaDefaults.AllowedMimeTypes)
		}
		if name == "orders" && col.Name == "status" {
			options, err := e.orderStatusOptions(ctx)
			if err != nil {
				log.Printf("WARN: load order status options: %v", err)
			} else {
				desc.Metadata["options"] = options
			}
		}
		out = append(out, desc)
	}
	return out, nil
}

func (e *Engine) orderStatusOptions(ctx context.Context) ([]string, error) {
	rows, err := store.QueryRows(ctx, e.store.Pool,
		"SELECT label FROM order_status_ref ORDER BY sort_order")
	if err != nil {
		return nil, err
	}
	options := make([]string, 0, len(rows))
	for _, row := range rows {
		options = append(options, asString(row["label"]))
	}
	return options, nil
}

// renderRow strips id into the row identifier and replaces media column
// payloads with the normalized, constraint-checked client view. URLs close
// to expiry are re-presigned for the response; persisting the refreshed
// payload is the sweep's job.
func (e *Engine) renderRow(ctx context.Context, cat *Catalog, raw map[string]any) Row {
	row := Row{
		ID:         fmt.Sprintf("%v", raw["id"]),
		Attributes: make(map[string]any, len(raw)),
	}
	for _, col := range cat.DataColumns() {
		v := raw[col.Name]
		if !col.IsMedia() {
			row.Attributes[col.Name] = v
			continue
		}
		ref := media.Parse(v, col.Semantics, e.mediaDefaults).EnforceConstraints()
		if e.objects != nil && ref.NeedsRefresh(e.refreshThreshold, e.clockSkew, time.Now()) {
			ref = ref.WithRefreshedItems(RefreshItems(ctx, e.objects, ref.Items))
		}
		row.Attributes[col.Name] = ref.ClientView()
	}
	return row
}

// RefreshItems re-issues the URL for each item, keeping the stale item
// when an individual refresh fails. Partial refresh is acceptable.
func RefreshItems(ctx context.Context, objects storage.ObjectStore, items []media.Item) []media.Item {
	out := make([]media.Item, len(items))
	for i, item := range items {
		out[i] = item
		if item.Key == "" {
			continue
		}
		obj, err := objects.Refresh(ctx, item.Key, item.ContentType, item.SizeBytes)
		if err != nil {
			log.Printf("WARN: refresh %s: %v", item.Key, err)
			continue
		}
		out[i].URL = obj.URL
		out[i].ExpiresAt = obj.ExpiresAt
	}
	return out
}

func (e *Engine) publish(domainName, action string, row Row) {
	if e.notifier == nil {
		return
	}
	e.notifier.Publish(domainName, action, map[string]any{
		"id":     row.ID,
		"action": action,
	})
}

// writeError picks the status for a failed write: media constraint
// violations surface as 400s, everything else as a collected 422.
func writeError(details []ErrorDetail) *AppError {
	for _, d := range details {
		if d.Rule == "media" {
			return MediaConstraintError(d.Field, errors.New(d.Message))
		}
	}
	return ValidationError(details)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
