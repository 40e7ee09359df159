package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Filter is one structured search predicate. MatchMode defaults to
// "contains"; TypeHint ("numeric"/"date") disambiguates columns whose SQL
// type does not disclose it.
type Filter struct {
	Field     string
	Value     string
	MatchMode string
	TypeHint  string
}

const (
	MatchContains   = "contains"
	MatchEquals     = "equals"
	MatchStartsWith = "startsWith"
	MatchEndsWith   = "endsWith"
	MatchIn         = "in"
	MatchBetween    = "between"
)

// ParseFilters decodes the filter wire format: a JSON object keyed by
// field name, each value either a plain scalar or an object (possibly
// itself JSON-encoded as a string) carrying value/matchMode/type.
func ParseFilters(raw string) ([]Filter, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var grouped map[string]any
	if err := json.Unmarshal([]byte(raw), &grouped); err != nil {
		return nil, fmt.Errorf("filters must be a JSON object: %w", err)
	}

	fields := make([]string, 0, len(grouped))
	for field := range grouped {
		fields = append(fields, field)
	}
	// Deterministic clause order regardless of map iteration.
	sort.Strings(fields)

	var filters []Filter
	for _, field := range fields {
		f := Filter{Field: field, MatchMode: MatchContains}
		switch v := grouped[field].(type) {
		case map[string]any:
			fillFromMap(&f, v)
		case string:
			f.Value = v
			// A string value may itself be a JSON-encoded filter object.
			var inner map[string]any
			if err := json.Unmarshal([]byte(v), &inner); err == nil {
				if _, ok := inner["value"]; ok {
					fillFromMap(&f, inner)
				}
			}
		default:
			f.Value = stringify(v)
		}
		if f.MatchMode == "" {
			f.MatchMode = MatchContains
		}
		filters = append(filters, f)
	}
	return filters, nil
}

func fillFromMap(f *Filter, m map[string]any) {
	if v, ok := m["value"]; ok {
		f.Value = stringify(v)
	}
	if v, ok := m["matchMode"].(string); ok {
		f.MatchMode = strings.TrimSpace(v)
	}
	if v, ok := m["type"].(string); ok {
		f.TypeHint = strings.ToLower(strings.TrimSpace(v))
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(raw)
	}
}

// FilterOutcome reports what a best-effort filter application did, so
// silently dropped predicates stay observable to callers and tests.
type FilterOutcome struct {
	Applied int
	Skipped []string
}

// applyFilters renders SQL fragments for every filter that resolves to a
// real column and a parseable value. Everything else is skipped, not an
// error: availability beats strictness on the search path.
func applyFilters(cat *Catalog, filters []Filter, pb *paramBuilder) ([]string, FilterOutcome) {
	var clauses []string
	outcome := FilterOutcome{}

	for _, f := range filters {
		col, ok := cat.Lookup(f.Field)
		if !ok || col.Name == "id" {
			outcome.Skipped = append(outcome.Skipped, f.Field)
			continue
		}
		clause, ok := renderFilter(col, f, pb)
		if !ok {
			outcome.Skipped = append(outcome.Skipped, f.Field)
			continue
		}
		clauses = append(clauses, clause)
		outcome.Applied++
	}
	return clauses, outcome
}

func renderFilter(col Column, f Filter, pb *paramBuilder) (string, bool) {
	switch f.MatchMode {
	case MatchEquals:
		val, err := coerceScalar(col, f.Value)
		if err != nil {
			return "", false
		}
		return fmt.Sprintf("%s = %s", col.Name, pb.Add(val)), true

	case MatchStartsWith:
		return fmt.Sprintf("lower(%s::text) LIKE %s", col.Name,
			pb.Add(strings.ToLower(f.Value)+"%")), true

	case MatchEndsWith:
		return fmt.Sprintf("lower(%s::text) LIKE %s", col.Name,
			pb.Add("%"+strings.ToLower(f.Value))), true

	case MatchIn:
		return renderInFilter(col, f, pb)

	case MatchBetween:
		return renderBetweenFilter(col, f, pb)

	default: // contains and anything unrecognized
		return fmt.Sprintf("lower(%s::text) LIKE %s", col.Name,
			pb.Add("%"+strings.ToLower(f.Value)+"%")), true
	}
}

// renderInFilter expects a JSON list of strings; a value that fails to
// parse as one falls back to plain equality on the raw string.
func renderInFilter(col Column, f Filter, pb *paramBuilder) (string, bool) {
	var values []string
	if err := json.Unmarshal([]byte(f.Value), &values); err != nil || len(values) == 0 {
		val, cerr := coerceScalar(col, f.Value)
		if cerr != nil {
			return "", false
		}
		return fmt.Sprintf("%s = %s", col.Name, pb.Add(val)), true
	}

	placeholders := make([]string, 0, len(values))
	for _, v := range values {
		val, err := coerceScalar(col, v)
		if err != nil {
			return "", false
		}
		placeholders = append(placeholders, pb.Add(val))
	}
	return fmt.Sprintf("%s IN (%s)", col.Name, strings.Join(placeholders, ",")), true
}

func renderBetweenFilter(col Column, f Filter, pb *paramBuilder) (string, bool) {
	var bounds []string
	if err := json.Unmarshal([]byte(f.Value), &bounds); err != nil {
		return "", false
	}
	if len(bounds) == 0 || len(bounds) > 2 {
		return "", false
	}
	if len(bounds) == 1 {
		bounds = append(bounds, bounds[0])
	}

	dateLike := col.IsDateType() || f.TypeHint == "date"
	numericLike := col.IsNumericType() || f.TypeHint == "numeric"

	if dateLike {
		lo, ok := parseDateBound(bounds[0], false)
		if !ok {
			return "", false
		}
		hi, ok := parseDateBound(bounds[1], true)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", col.Name, pb.Add(lo), pb.Add(hi)), true
	}

	if numericLike {
		lo, err1 := strconv.ParseFloat(strings.TrimSpace(bounds[0]), 64)
		hi, err2 := strconv.ParseFloat(strings.TrimSpace(bounds[1]), 64)
		if err1 != nil || err2 != nil {
			return "", false
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", col.Name, pb.Add(lo), pb.Add(hi)), true
	}

	return fmt.Sprintf("%s BETWEEN %s AND %s", col.Name, pb.Add(bounds[0]), pb.Add(bounds[1])), true
}

// parseDateBound tries ISO local date-time, then ISO instant, then a bare
// date widened to start-of-day (lower bound) or end-of-day (upper bound).
func parseDateBound(raw string, upper bool) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse("2006-01-02T15:04:05", raw); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		if upper {
			return t.Add(24*time.Hour - time.Nanosecond), true
		}
		return t, true
	}
	return time.Time{}, false
}
