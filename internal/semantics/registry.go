package semantics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"opsdesk-backend/internal/store"
)

// Registry persists column semantics in the column_semantics table.
type Registry struct {
	store *store.Store
}

func NewRegistry(s *store.Store) *Registry {
	return &Registry{store: s}
}

const selectColumns = `id, domain, table_name, column_name, semantic_type, metadata, created_at, updated_at`

// ForTable returns all semantics rows for a table.
func (r *Registry) ForTable(ctx context.Context, table string) ([]ColumnSemantics, error) {
	rows, err := store.QueryRows(ctx, r.store.Pool,
		`SELECT `+selectColumns+` FROM column_semantics WHERE table_name = $1 ORDER BY column_name`,
		strings.ToLower(table))
	if err != nil {
		return nil, fmt.Errorf("semantics for table %s: %w", table, err)
	}
	out := make([]ColumnSemantics, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

// ForColumn returns the semantics for one column, or nil when untagged.
func (r *Registry) ForColumn(ctx context.Context, table, column string) (*ColumnSemantics, error) {
	row, err := store.QueryRow(ctx, r.store.Pool,
		`SELECT `+selectColumns+` FROM column_semantics WHERE table_name = $1 AND column_name = $2`,
		strings.ToLower(table), strings.ToLower(column))
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("semantics for %s.%s: %w", table, column, err)
	}
	cs := fromRow(row)
	return &cs, nil
}

// AllMediaColumns returns every column tagged MEDIA_REF across all tables,
// used by the refresh sweep.
func (r *Registry) AllMediaColumns(ctx context.Context) ([]ColumnSemantics, error) {
	rows, err := store.QueryRows(ctx, r.store.Pool,
		`SELECT `+selectColumns+` FROM column_semantics WHERE semantic_type = $1 ORDER BY table_name, column_name`,
		TypeMediaRef)
	if err != nil {
		return nil, fmt.Errorf("media columns: %w", err)
	}
	out := make([]ColumnSemantics, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

// Upsert inserts or updates the semantics for one column. At most one row
// per (table, column) exists; conflicts update in place.
func (r *Registry) Upsert(ctx context.Context, domain, table, column, semanticType string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = store.Exec(ctx, r.store.Pool,
		`INSERT INTO column_semantics (domain, table_name, column_name, semantic_type, metadata)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (table_name, column_name)
		 DO UPDATE SET domain = EXCLUDED.domain,
		               semantic_type = EXCLUDED.semantic_type,
		               metadata = EXCLUDED.metadata,
		               updated_at = NOW()`,
		domain, strings.ToLower(table), strings.ToLower(column), semanticType, raw)
	if err != nil {
		return fmt.Errorf("upsert semantics %s.%s: %w", table, column, err)
	}
	return nil
}

func fromRow(row map[string]any) ColumnSemantics {
	cs := ColumnSemantics{
		ID:           asString(row["id"]),
		Domain:       asString(row["domain"]),
		TableName:    asString(row["table_name"]),
		ColumnName:   asString(row["column_name"]),
		SemanticType: asString(row["semantic_type"]),
	}
	switch meta := row["metadata"].(type) {
	case map[string]any:
		cs.Metadata = meta
	case []byte:
		_ = json.Unmarshal(meta, &cs.Metadata)
	case string:
		_ = json.Unmarshal([]byte(meta), &cs.Metadata)
	}
	if cs.Metadata == nil {
		cs.Metadata = map[string]any{}
	}
	if t, ok := row["created_at"].(time.Time); ok {
		cs.CreatedAt = t
	}
	if t, ok := row["updated_at"].(time.Time); ok {
		cs.UpdatedAt = t
	}
	return cs
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
