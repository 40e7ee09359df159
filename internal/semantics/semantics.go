// Package semantics records what a physical column means beyond its SQL
// type, e.g. "this column holds image references, at most one, 5MB,
// jpeg/png only". Keyed uniquely on (table, column).
package semantics

import (
	"strconv"
	"strings"
	"time"
)

const TypeMediaRef = "MEDIA_REF"

type ColumnSemantics struct {
	ID           string         `json:"id"`
	Domain       string         `json:"domain"`
	TableName    string         `json:"tableName"`
	ColumnName   string         `json:"columnName"`
	SemanticType string         `json:"semanticType"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// IsMediaRef reports whether the column stores media reference payloads.
func (c *ColumnSemantics) IsMediaRef() bool {
	return c != nil && strings.EqualFold(c.SemanticType, TypeMediaRef)
}

// MaxImages reads the maxImages metadata value, accepting numbers or
// numeric strings, never returning less than 1.
func (c *ColumnSemantics) MaxImages(def int) int {
	n, ok := c.metaInt("maxImages")
	if !ok {
		n = def
	}
	if n < 1 {
		return 1
	}
	return n
}

// MaxFileSizeBytes reads the maxFileSizeBytes metadata value, floored at 0.
func (c *ColumnSemantics) MaxFileSizeBytes(def int64) int64 {
	if c == nil || c.Metadata == nil {
		return def
	}
	v, ok := c.Metadata["maxFileSizeBytes"]
	if !ok {
		return def
	}
	n, ok := toInt64(v)
	if !ok {
		return def
	}
	if n < 0 {
		return 0
	}
	return n
}

// AllowedMimeTypes reads the allowedMimeTypes metadata value, accepting a
// list or a comma-joined string, falling back to the supplied default.
func (c *ColumnSemantics) AllowedMimeTypes(def []string) []string {
	if c == nil || c.Metadata == nil {
		return def
	}
	switch v := c.Metadata["allowedMimeTypes"].(type) {
	case []string:
		if len(v) > 0 {
			return v
		}
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		if len(out) > 0 {
			return out
		}
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}

// Rule returns an optional validation expression applied to writes on this
// column, with the caller-facing message to use when it fails.
func (c *ColumnSemantics) Rule() (expr, message string) {
	if c == nil || c.Metadata == nil {
		return "", ""
	}
	if v, ok := c.Metadata["rule"].(string); ok {
		expr = strings.TrimSpace(v)
	}
	if v, ok := c.Metadata["ruleMessage"].(string); ok {
		message = strings.TrimSpace(v)
	}
	return expr, message
}

// Options returns select options declared in metadata, if any.
func (c *ColumnSemantics) Options() []string {
	if c == nil || c.Metadata == nil {
		return nil
	}
	return toStringList(c.Metadata["options"])
}

func (c *ColumnSemantics) metaInt(key string) (int, bool) {
	if c == nil || c.Metadata == nil {
		return 0, false
	}
	v, ok := c.Metadata[key]
	if !ok {
		return 0, false
	}
	n, ok := toInt64(v)
	return int(n), ok
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return int64(parsed), true
		}
	}
	return 0, false
}

func toStringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		var out []string
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
