// Package schema turns an uploaded spreadsheet into column definitions and
// the DDL for a domain table. Row 1 must hold headers; row 2 may hold
// explicit type markers, which take precedence over value sampling.
package schema

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

type LogicalType string

const (
	TypeString   LogicalType = "STRING"
	TypeInteger  LogicalType = "INTEGER"
	TypeDecimal  LogicalType = "DECIMAL"
	TypeDate     LogicalType = "DATE"
	TypeBoolean  LogicalType = "BOOLEAN"
	TypeMediaRef LogicalType = "MEDIA_REF"
)

// ColumnDefinition describes one inferred column. Marker holds the raw
// type marker when the sheet used explicit markers (e.g. "minio:image").
type ColumnDefinition struct {
	SourceHeader string
	Name         string
	Logical      LogicalType
	SQLType      string
	Nullable     bool
	Marker       string
	Sample       string
}

// IsMedia reports whether the column stores externally-hosted file references.
func (c ColumnDefinition) IsMedia() bool {
	return c.Logical == TypeMediaRef
}

// Analysis is the result of inspecting one spreadsheet.
type Analysis struct {
	Table      string
	Columns    []ColumnDefinition
	DDL        string
	Warnings   []string
	MarkerMode bool
	// DataRows holds the seedable data rows (marker row excluded), each
	// aligned to Columns by index.
	DataRows [][]string
}

const maxSampleRows = 100

var ErrEmptySheet = errors.New("spreadsheet has no header row")

// Analyze reads the first sheet of an xlsx or csv file and infers the
// table shape. The file format is chosen by the filename extension.
func Analyze(r io.Reader, filename, table string) (*Analysis, error) {
	rows, err := readRows(r, filename)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rowBlank(rows[0]) {
		return nil, ErrEmptySheet
	}
	return analyzeRows(rows, table)
}

func analyzeRows(rows [][]string, table string) (*Analysis, error) {
	headers := rows[0]
	a := &Analysis{Table: table}

	names := normalizeHeaders(headers, &a.Warnings)

	markers, markerMode := parseMarkerRow(rows, len(headers))
	a.MarkerMode = markerMode

	dataStart := 1
	if markerMode {
		dataStart = 2
	}
	if dataStart < len(rows) {
		a.DataRows = rows[dataStart:]
	}

	for i, header := range headers {
		col := ColumnDefinition{
			SourceHeader: header,
			Name:         names[i],
			Nullable:     true,
		}
		if markerMode {
			col.Marker = markers[i].raw
			col.Logical = markers[i].logical
			col.SQLType = markers[i].sqlType
		} else {
			col.Logical, col.Nullable, col.Sample = sampleColumn(a.DataRows, i)
			if col.Sample == "" {
				a.Warnings = append(a.Warnings,
					fmt.Sprintf("column %q has no sample values, defaulting to STRING", names[i]))
			}
			col.SQLType = physicalType(col.Logical)
		}
		a.Columns = append(a.Columns, col)
	}

	a.DDL = buildDDL(table, a.Columns)
	return a, nil
}

func readRows(r io.Reader, filename string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1
		rows, err := reader.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		return padRows(rows), nil
	default:
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, fmt.Errorf("open xlsx: %w", err)
		}
		defer f.Close()

		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrEmptySheet
		}
		rows, err := f.GetRows(sheets[0])
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
		}
		return padRows(rows), nil
	}
}

// padRows right-pads every row to the header width so indexing is safe.
func padRows(rows [][]string) [][]string {
	if len(rows) == 0 {
		return rows
	}
	width := len(rows[0])
	for i, row := range rows {
		for len(row) < width {
			row = append(row, "")
		}
		rows[i] = row[:width]
	}
	return rows
}

func rowBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

var nonIdentifier = regexp.MustCompile(`[^a-z0-9_]`)

// NormalizeHeader converts a spreadsheet header into a safe SQL identifier:
// lowercase, whitespace to underscores, anything else stripped, prefixed
// with "c_" when it would start with a digit, "col" when empty.
func NormalizeHeader(header string) string {
	name := strings.ToLower(strings.TrimSpace(header))
	name = strings.Join(strings.Fields(name), "_")
	name = nonIdentifier.ReplaceAllString(name, "")
	name = strings.Trim(name, "_")
	if name == "" {
		return "col"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "c_" + name
	}
	return name
}

func normalizeHeaders(headers []string, warnings *[]string) []string {
	used := map[string]bool{"id": true}
	names := make([]string, len(headers))
	for i, header := range headers {
		name := NormalizeHeader(header)
		if strings.TrimSpace(header) == "" {
			name = fmt.Sprintf("col_%d", i+1)
			*warnings = append(*warnings,
				fmt.Sprintf("blank header at position %d, using %q", i+1, name))
		}
		base := name
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		used[name] = true
		names[i] = name
	}
	return names
}

type marker struct {
	raw     string
	logical LogicalType
	sqlType string
}

var numericMarker = regexp.MustCompile(`^numeric\s*\(\s*(\d+)\s*,\s*(\d+)\s*\)$`)

// parseMarker recognizes one explicit type marker, or ok=false.
func parseMarker(cell string) (marker, bool) {
	raw := strings.ToLower(strings.TrimSpace(cell))
	normalized := strings.ReplaceAll(raw, "_", "")

	switch normalized {
	case "text":
		return marker{raw, TypeString, "TEXT"}, true
	case "varchar", "varchar(255)":
		return marker{raw, TypeString, "VARCHAR(255)"}, true
	case "bigint":
		return marker{raw, TypeInteger, "BIGINT"}, true
	case "uuid":
		return marker{raw, TypeString, "UUID"}, true
	case "timestamp", "date":
		return marker{raw, TypeDate, "TIMESTAMP"}, true
	case "boolean":
		return marker{raw, TypeBoolean, "BOOLEAN"}, true
	case "minio:image", "minioimage", "minio:file", "miniofile":
		return marker{raw, TypeMediaRef, "TEXT"}, true
	}
	if m := numericMarker.FindStringSubmatch(normalized); m != nil {
		return marker{raw, TypeDecimal, fmt.Sprintf("NUMERIC(%s,%s)", m[1], m[2])}, true
	}
	return marker{}, false
}

// parseMarkerRow enables explicit mode only when row 2 exists and every
// cell holds a supported marker.
func parseMarkerRow(rows [][]string, width int) ([]marker, bool) {
	if len(rows) < 2 {
		return nil, false
	}
	markers := make([]marker, width)
	for i := 0; i < width; i++ {
		cell := rows[1][i]
		if strings.TrimSpace(cell) == "" {
			return nil, false
		}
		m, ok := parseMarker(cell)
		if !ok {
			return nil, false
		}
		markers[i] = m
	}
	return markers, true
}

// sampleColumn scans up to maxSampleRows values and returns the loosest
// logical type that fits all of them, whether blanks were seen, and one
// sample value.
func sampleColumn(rows [][]string, col int) (LogicalType, bool, string) {
	var current LogicalType
	nullable := false
	sample := ""

	limit := len(rows)
	if limit > maxSampleRows {
		limit = maxSampleRows
	}
	for r := 0; r < limit; r++ {
		val := strings.TrimSpace(rows[r][col])
		if val == "" {
			nullable = true
			continue
		}
		if sample == "" {
			sample = val
		}
		observed := classifyValue(val)
		current = widen(current, observed)
	}
	if current == "" {
		return TypeString, true, sample
	}
	return current, nullable, sample
}

func classifyValue(val string) LogicalType {
	lower := strings.ToLower(val)
	if lower == "true" || lower == "false" {
		return TypeBoolean
	}
	if _, err := strconv.ParseInt(val, 10, 64); err == nil {
		return TypeInteger
	}
	if _, err := strconv.ParseFloat(val, 64); err == nil {
		return TypeDecimal
	}
	if isDateLike(val) {
		return TypeDate
	}
	return TypeString
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

func isDateLike(val string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, val); err == nil {
			return true
		}
	}
	return false
}

// widen merges an observed type into the running type. INTEGER widens to
// DECIMAL; any other disagreement collapses to STRING.
func widen(current, observed LogicalType) LogicalType {
	if current == "" || current == observed {
		return observed
	}
	if (current == TypeInteger && observed == TypeDecimal) ||
		(current == TypeDecimal && observed == TypeInteger) {
		return TypeDecimal
	}
	return TypeString
}

func physicalType(t LogicalType) string {
	switch t {
	case TypeInteger:
		return "BIGINT"
	case TypeDecimal:
		return "NUMERIC(19,2)"
	case TypeDate:
		return "TIMESTAMP"
	case TypeBoolean:
		return "BOOLEAN"
	case TypeMediaRef:
		return "TEXT"
	default:
		return "VARCHAR(255)"
	}
}

// buildDDL renders a single idempotent create statement. Re-imports against
// an existing table never reconcile columns; admins migrate manually.
func buildDDL(table string, cols []ColumnDefinition) string {
	lines := []string{"id UUID PRIMARY KEY DEFAULT gen_random_uuid()"}
	for _, c := range cols {
		line := c.Name + " " + c.SQLType
		if !c.Nullable {
			line += " NOT NULL"
		}
		lines = append(lines, line)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)",
		table, strings.Join(lines, ",\n  "))
}
