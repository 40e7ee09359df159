package importer

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"opsdesk-backend/internal/domain"
	"opsdesk-backend/internal/media"
	"opsdesk-backend/internal/schema"
	"opsdesk-backend/internal/semantics"
	"opsdesk-backend/internal/store"
)

// Result summarizes one spreadsheet import.
type Result struct {
	Domain       string   `json:"domain"`
	Table        string   `json:"table"`
	Columns      []string `json:"columns"`
	MediaColumns []string `json:"mediaColumns"`
	RowsImported int      `json:"rowsImported"`
	RowsSkipped  int      `json:"rowsSkipped"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Importer turns an uploaded spreadsheet into a live domain table:
// schema inference, DDL, column semantics, seed data, permissions and
// the sync watermark, in that order.
type Importer struct {
	store    *store.Store
	reg      *semantics.Registry
	defaults media.Defaults
}

func New(s *store.Store, reg *semantics.Registry, defaults media.Defaults) *Importer {
	return &Importer{store: s, reg: reg, defaults: defaults}
}

func (im *Importer) Import(ctx context.Context, domainName, filename string, r io.Reader) (*Result, error) {
	name, err := domain.Normalize(domainName)
	if err != nil {
		return nil, err
	}
	table, _ := domain.TableFor(name)

	analysis, err := schema.Analyze(r, filename, table)
	if err != nil {
		return nil, err
	}

	existed, err := im.store.TableExists(ctx, table)
	if err != nil {
		return nil, err
	}

	if _, err := store.Exec(ctx, im.store.Pool, analysis.DDL); err != nil {
		return nil, fmt.Errorf("create table %s: %w", table, err)
	}

	result := &Result{
		Domain:   name,
		Table:    table,
		Warnings: analysis.Warnings,
	}
	if existed {
		// Existing columns are left as they are; a changed sheet layout
		// needs a manual migration.
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("table %s already existed; column definitions were not altered", table))
	}

	for _, col := range analysis.Columns {
		result.Columns = append(result.Columns, col.Name)
		if !col.IsMedia() {
			continue
		}
		result.MediaColumns = append(result.MediaColumns, col.Name)
		if err := im.reg.Upsert(ctx, name, table, col.Name, semantics.TypeMediaRef, mediaMetadata(col, im.defaults)); err != nil {
			return nil, err
		}
	}

	imported, skipped, err := im.seedRows(ctx, name, table, analysis)
	if err != nil {
		return nil, err
	}
	result.RowsImported = imported
	result.RowsSkipped = skipped

	if err := im.provisionPermissions(ctx, name, analysis.Columns); err != nil {
		return nil, err
	}

	total := len(analysis.DataRows)
	if _, err := store.Exec(ctx, im.store.Pool,
		`INSERT INTO sheet_watermarks (domain, last_row_index, imported_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (domain) DO UPDATE SET last_row_index = $2, imported_at = NOW()`,
		name, total); err != nil {
		return nil, fmt.Errorf("record watermark for %s: %w", name, err)
	}

	log.Printf("Imported %s: %d rows into %s (%d skipped)", name, imported, table, skipped)
	return result, nil
}

// mediaMetadata seeds the constraint metadata for a media-marked column.
// Images default to a single slot; generic files inherit the configured
// maximum.
func mediaMetadata(col schema.ColumnDefinition, def media.Defaults) map[string]any {
	meta := map[string]any{
		"maxImages":        def.MaxImages,
		"maxFileSizeBytes": def.MaxFileSizeBytes,
		"allowedMimeTypes": def.AllowedMimeTypes,
	}
	if strings.Contains(col.Marker, "image") {
		meta["maxImages"] = 1
	}
	return meta
}

// seedRows inserts the data rows carried by the sheet. Rows up to the
// recorded watermark were already imported by a previous run and are
// skipped, which makes re-importing the same file a no-op.
func (im *Importer) seedRows(ctx context.Context, domainName, table string, analysis *schema.Analysis) (imported, skipped int, err error) {
	if len(analysis.DataRows) == 0 {
		return 0, 0, nil
	}

	watermark := 0
	if row, werr := store.QueryRow(ctx, im.store.Pool,
		"SELECT last_row_index FROM sheet_watermarks WHERE domain = $1", domainName); werr == nil {
		watermark = toInt(row["last_row_index"])
	}

	cols := analysis.Columns
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}

	for idx, row := range analysis.DataRows {
		if skipSeedRow(idx, watermark, row) {
			skipped++
			continue
		}
		values := make([]any, len(cols))
		for i, c := range cols {
			var cell string
			if i < len(row) {
				cell = strings.TrimSpace(row[i])
			}
			v, cerr := coerceCell(c, cell)
			if cerr != nil {
				v = nil
			}
			values[i] = v
		}

		placeholders := make([]string, len(cols))
		for i := range cols {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}
		_, ierr := store.Exec(ctx, im.store.Pool, fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (%s)",
			table, strings.Join(names, ", "), strings.Join(placeholders, ", ")), values...)
		if ierr != nil {
			log.Printf("WARN: seed row into %s skipped: %v", table, ierr)
			skipped++
			continue
		}
		imported++
	}
	return imported, skipped, nil
}

// skipSeedRow reports whether a data row should not be inserted: rows up
// to the recorded watermark were imported by a previous run, and rows with
// no values at all carry nothing worth a database row. Both rules make
// re-importing the same sheet a seeding no-op.
func skipSeedRow(idx, watermark int, row []string) bool {
	if idx < watermark {
		return true
	}
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// coerceCell converts a raw spreadsheet cell to the parameter type of its
// inferred column. Empty cells become NULL.
func coerceCell(col schema.ColumnDefinition, cell string) (any, error) {
	if cell == "" {
		return nil, nil
	}
	switch col.Logical {
	case schema.TypeInteger:
		n, err := strconv.ParseInt(cell, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(cell, 64)
			if ferr != nil {
				return nil, err
			}
			return int64(f), nil
		}
		return n, nil
	case schema.TypeDecimal:
		return strconv.ParseFloat(cell, 64)
	case schema.TypeBoolean:
		return strconv.ParseBool(strings.ToLower(cell))
	case schema.TypeDate:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, cell); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("unparseable date %q", cell)
	case schema.TypeMediaRef:
		item := media.Item{Key: cell}
		if strings.Contains(cell, "://") {
			item = media.Item{URL: cell}
		}
		ref := media.Reference{Type: media.TypeMarker, Items: []media.Item{item}}
		return ref.StorageForm()
	default:
		return cell, nil
	}
}

// provisionPermissions creates per-column access tokens plus the three
// action tokens for the domain, and grants them all to the administrator
// role. Existing tokens are untouched.
func (im *Importer) provisionPermissions(ctx context.Context, domainName string, cols []schema.ColumnDefinition) error {
	tokens := make([]string, 0, len(cols)+3)
	for _, c := range cols {
		tokens = append(tokens, fmt.Sprintf("%s:access:%s", domainName, c.Name))
	}
	for _, action := range []string{"add", "update", "delete"} {
		tokens = append(tokens, fmt.Sprintf("%s:action:%s", domainName, action))
	}

	for _, token := range tokens {
		if _, err := store.Exec(ctx, im.store.Pool,
			"INSERT INTO permissions (name) VALUES ($1) ON CONFLICT (name) DO NOTHING", token); err != nil {
			return fmt.Errorf("provision permission %s: %w", token, err)
		}
		if _, err := store.Exec(ctx, im.store.Pool,
			`INSERT INTO role_permissions (role_id, permission_id)
			 SELECT r.id, p.id FROM roles r, permissions p
			 WHERE r.name = 'administrator' AND p.name = $1
			 ON CONFLICT DO NOTHING`, token); err != nil {
			return fmt.Errorf("grant permission %s: %w", token, err)
		}
	}
	return nil
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
