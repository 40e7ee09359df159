// Package domain is the single source of truth for the mapping between
// logical business domains and their physical tables. Nothing else in the
// codebase hardcodes a domain table name.
package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrUnsupportedDomain = errors.New("unsupported domain")

var tables = map[string]string{
	"product":  "product_config",
	"orders":   "orders_config",
	"expenses": "expenses_config",
	"ads":      "ads_config",
	"employee": "employee_config",
	"delivery": "delivery_config",
}

// TableFor resolves a domain name to its physical table. The input is
// case and surrounding-whitespace insensitive.
func TableFor(name string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	table, ok := tables[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDomain, name)
	}
	return table, nil
}

// Normalize returns the canonical domain name, or an error for unknown input.
func Normalize(name string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if _, ok := tables[key]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDomain, name)
	}
	return key, nil
}

// All returns the supported domain names in stable order.
func All() []string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
