package engine

import (
	"context"
	"strings"

	"opsdesk-backend/internal/semantics"
	"opsdesk-backend/internal/store"
)

// Column is the per-request descriptor every operation consults before
// touching a value. Built fresh from information_schema on each call so a
// spreadsheet re-import is visible without cache invalidation.
type Column struct {
	Name      string
	DataType  string
	Ordinal   int
	Nullable  bool
	Semantics *semantics.ColumnSemantics
}

type Catalog struct {
	Table   string
	Columns []Column
	byName  map[string]Column
}

// Lookup resolves a caller-supplied name against the live catalog,
// case-insensitively. The catalog acts as the allow-list for every
// identifier that ends up in SQL text.
func (c *Catalog) Lookup(name string) (Column, bool) {
	col, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	return col, ok
}

// DataColumns returns every column except id, in ordinal order.
func (c *Catalog) DataColumns() []Column {
	out := make([]Column, 0, len(c.Columns))
	for _, col := range c.Columns {
		if col.Name != "id" {
			out = append(out, col)
		}
	}
	return out
}

// ColumnNames returns all physical names in ordinal order, id included.
func (c *Catalog) ColumnNames() []string {
	names := make([]string, len(c.Columns))
	for i, col := range c.Columns {
		names[i] = col.Name
	}
	return names
}

// loadCatalog reads column metadata for a table from information_schema
// and joins it with column semantics by lower-cased name. An empty result
// means the table was never created.
func loadCatalog(ctx context.Context, q store.Querier, reg *semantics.Registry, table string) (*Catalog, error) {
	rows, err := store.QueryRows(ctx, q,
		`SELECT column_name, data_type, ordinal_position, is_nullable
		 FROM information_schema.columns
		 WHERE table_schema = 'public' AND table_name = $1
		 ORDER BY ordinal_position`,
		strings.ToLower(table))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	semRows, err := reg.ForTable(ctx, table)
	if err != nil {
		return nil, err
	}
	semByName := make(map[string]*semantics.ColumnSemantics, len(semRows))
	for i := range semRows {
		semByName[strings.ToLower(semRows[i].ColumnName)] = &semRows[i]
	}

	cat := &Catalog{Table: strings.ToLower(table), byName: map[string]Column{}}
	for _, row := range rows {
		name := strings.ToLower(asString(row["column_name"]))
		col := Column{
			Name:      name,
			DataType:  strings.ToLower(asString(row["data_type"])),
			Ordinal:   toInt(row["ordinal_position"]),
			Nullable:  strings.EqualFold(asString(row["is_nullable"]), "YES"),
			Semantics: semByName[name],
		}
		cat.Columns = append(cat.Columns, col)
		cat.byName[name] = col
	}
	return cat, nil
}

// Client-facing column types for UI rendering.
const (
	ClientTypeText     = "TEXT"
	ClientTypeInteger  = "INTEGER"
	ClientTypeDecimal  = "DECIMAL"
	ClientTypeDate     = "DATE"
	ClientTypeBoolean  = "BOOLEAN"
	ClientTypeMediaRef = "MEDIA_REF"
)

// ClientType derives the rendering type: explicit semantics win, then a
// media-smelling name, then the raw SQL type.
func (col Column) ClientType() string {
	if col.Semantics.IsMediaRef() || nameSmellsMedia(col.Name) {
		return ClientTypeMediaRef
	}
	switch {
	case col.DataType == "boolean":
		return ClientTypeBoolean
	case col.IsIntegerType():
		return ClientTypeInteger
	case col.IsNumericType():
		return ClientTypeDecimal
	case col.IsDateType():
		return ClientTypeDate
	default:
		return ClientTypeText
	}
}

func (col Column) IsIntegerType() bool {
	switch col.DataType {
	case "bigint", "integer", "smallint":
		return true
	}
	return false
}

func (col Column) IsNumericType() bool {
	if col.IsIntegerType() {
		return true
	}
	switch col.DataType {
	case "numeric", "decimal", "real", "double precision":
		return true
	}
	return false
}

func (col Column) IsDateType() bool {
	return strings.HasPrefix(col.DataType, "timestamp") || col.DataType == "date"
}

func (col Column) IsMedia() bool {
	return col.Semantics.IsMediaRef()
}

var mediaNameHints = []string{"image", "photo", "picture", "avatar", "creative"}

func nameSmellsMedia(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range mediaNameHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return strings.HasSuffix(lower, "_url")
}

// DisplayName renders a human-friendly label: underscores to spaces,
// title case per word.
func (col Column) DisplayName() string {
	words := strings.Split(col.Name, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func asString(v any) string {
	s, _ := v.(string)
	return s
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
