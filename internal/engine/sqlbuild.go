package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type paramBuilder struct {
	params []any
	n      int
}

func (p *paramBuilder) Add(v any) string {
	p.n++
	p.params = append(p.params, v)
	return fmt.Sprintf("$%d", p.n)
}

// freeTextClause builds a disjunctive LIKE over every non-id column, each
// cast to text and lower-cased. The same bound pattern is repeated per
// column: one substring tested everywhere.
func freeTextClause(cat *Catalog, query string, pb *paramBuilder) string {
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	var parts []string
	for _, col := range cat.DataColumns() {
		parts = append(parts, fmt.Sprintf("lower(%s::text) LIKE %s", col.Name, pb.Add(pattern)))
	}
	if len(parts) == 0 {
		return ""
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// resolveSort validates the requested sort property against the catalog
// and falls back to id.
func resolveSort(cat *Catalog, property, direction string) (string, string) {
	col := "id"
	if property != "" {
		if c, ok := cat.Lookup(property); ok {
			col = c.Name
		}
	}
	dir := "ASC"
	if strings.EqualFold(direction, "desc") {
		dir = "DESC"
	}
	return col, dir
}

// timestampLayouts are tried in order when coercing write values and
// filter bounds for date-like columns. The last entry is the loose
// T-stripped form older spreadsheet exports produce.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	// Loose fallback: strip the T separator and retry.
	if stripped := strings.Replace(raw, "T", " ", 1); stripped != raw {
		if t, err := time.Parse("2006-01-02 15:04:05", stripped); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}

// coerceScalar converts a raw string into the parameter type matching the
// column's physical SQL type.
func coerceScalar(col Column, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case col.IsIntegerType():
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			// Integer columns accept any numeric-looking value via long.
			f, ferr := strconv.ParseFloat(raw, 64)
			if ferr != nil {
				return nil, fmt.Errorf("not an integer: %q", raw)
			}
			return int64(f), nil
		}
		return n, nil
	case col.IsNumericType():
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("not numeric: %q", raw)
		}
		return f, nil
	case col.IsDateType():
		return parseTimestamp(raw)
	case col.DataType == "boolean":
		b, err := strconv.ParseBool(strings.ToLower(raw))
		if err != nil {
			return nil, fmt.Errorf("not boolean: %q", raw)
		}
		return b, nil
	default:
		return raw, nil
	}
}

// coerceWriteValue converts a client-supplied attribute value for INSERT
// or UPDATE according to the column descriptor. Media columns are handled
// separately by the caller.
func coerceWriteValue(col Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch {
	case col.IsIntegerType():
		switch n := v.(type) {
		case float64:
			return int64(n), nil
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case string:
			return coerceScalar(col, n)
		}
		return nil, fmt.Errorf("cannot use %T as integer", v)
	case col.IsNumericType():
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case string:
			return coerceScalar(col, n)
		}
		return nil, fmt.Errorf("cannot use %T as numeric", v)
	case col.IsDateType():
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			return parseTimestamp(t)
		}
		return nil, fmt.Errorf("cannot use %T as timestamp", v)
	case col.DataType == "boolean":
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			return coerceScalar(col, b)
		}
		return nil, fmt.Errorf("cannot use %T as boolean", v)
	default:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return stringify(v), nil
	}
}

func buildInsertSQL(table string, cols []string, pb *paramBuilder, values []any) string {
	if len(cols) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING id", table)
	}
	placeholders := make([]string, len(cols))
	for i, v := range values {
		placeholders[i] = pb.Add(v)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
}

func buildUpdateSQL(table string, cols []string, values []any, id string, pb *paramBuilder) string {
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = %s", c, pb.Add(values[i]))
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE id = %s",
		table, strings.Join(sets, ", "), pb.Add(id))
}
