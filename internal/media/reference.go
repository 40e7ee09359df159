// Package media defines the self-describing JSON payload stored inside
// MEDIA_REF columns: a list of externally-hosted file references plus the
// constraints that govern them.
package media

import (
	"encoding/json"
	"fmt"
	"time"

	"opsdesk-backend/internal/semantics"
)

const TypeMarker = "MEDIA_REF"

type Item struct {
	Key         string     `json:"key,omitempty"`
	URL         string     `json:"url,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	ContentType string     `json:"contentType,omitempty"`
	SizeBytes   int64      `json:"sizeBytes,omitempty"`
}

// Empty reports whether the item carries neither a storage key nor a URL.
// Empty items are dropped rather than rejected.
func (i Item) Empty() bool {
	return i.Key == "" && i.URL == ""
}

type Reference struct {
	Type             string   `json:"type"`
	Items            []Item   `json:"items"`
	MaxImages        int      `json:"maxImages,omitempty"`
	MaxFileSizeBytes int64    `json:"maxFileSizeBytes,omitempty"`
	AllowedMimeTypes []string `json:"allowedMimeTypes,omitempty"`
}

// Defaults supplies constraint values for columns whose semantics omit them.
type Defaults struct {
	MaxImages        int
	MaxFileSizeBytes int64
	AllowedMimeTypes []string
}

// Parse converts whatever is stored or submitted for a media column into a
// Reference. It accepts nil, a Reference, a JSON string, a map, or a bare
// list of items, and recognizes the legacy single-object {key,url} shape.
// Unparseable or wrong-typed input degrades to an empty reference; that
// leniency is deliberate and keeps old rows readable.
func Parse(raw any, sem *semantics.ColumnSemantics, def Defaults) Reference {
	ref := emptyRef(sem, def)

	switch v := raw.(type) {
	case nil:
		return ref
	case Reference:
		ref.Items = v.Items
	case *Reference:
		if v != nil {
			ref.Items = v.Items
		}
	case string:
		if v != "" {
			ref.Items = itemsFromJSON([]byte(v))
		}
	case []byte:
		if len(v) > 0 {
			ref.Items = itemsFromJSON(v)
		}
	case map[string]any:
		ref.Items = itemsFromMap(v)
	case []any:
		ref.Items = itemsFromList(v)
	}

	return ref.dropEmpty()
}

func emptyRef(sem *semantics.ColumnSemantics, def Defaults) Reference {
	return Reference{
		Type:             TypeMarker,
		Items:            nil,
		MaxImages:        sem.MaxImages(def.MaxImages),
		MaxFileSizeBytes: sem.MaxFileSizeBytes(def.MaxFileSizeBytes),
		AllowedMimeTypes: sem.AllowedMimeTypes(def.AllowedMimeTypes),
	}
}

func itemsFromJSON(raw []byte) []Item {
	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err == nil {
		return itemsFromMap(asMap)
	}
	var asList []any
	if err := json.Unmarshal(raw, &asList); err == nil {
		return itemsFromList(asList)
	}
	return nil
}

func itemsFromMap(m map[string]any) []Item {
	if rawItems, ok := m["items"]; ok {
		list, _ := rawItems.([]any)
		return itemsFromList(list)
	}
	// Legacy shape: a single bare {key, url} object with no items wrapper.
	if _, hasKey := m["key"]; hasKey {
		return itemsFromList([]any{m})
	}
	if _, hasURL := m["url"]; hasURL {
		return itemsFromList([]any{m})
	}
	return nil
}

func itemsFromList(list []any) []Item {
	var items []Item
	for _, entry := range list {
		raw, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		var item Item
		if err := json.Unmarshal(raw, &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	return items
}

func (r Reference) dropEmpty() Reference {
	var kept []Item
	for _, item := range r.Items {
		if !item.Empty() {
			kept = append(kept, item)
		}
	}
	r.Items = kept
	return r
}

// StorageForm serializes the reference for persistence in its TEXT column.
func (r Reference) StorageForm() (string, error) {
	if r.Type == "" {
		r.Type = TypeMarker
	}
	if r.Items == nil {
		r.Items = []Item{}
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("serialize media reference: %w", err)
	}
	return string(raw), nil
}

// ClientView renders the reference for API responses.
func (r Reference) ClientView() map[string]any {
	items := make([]map[string]any, 0, len(r.Items))
	for _, item := range r.Items {
		entry := map[string]any{
			"key": item.Key,
			"url": item.URL,
		}
		if item.ExpiresAt != nil {
			entry["expiresAt"] = item.ExpiresAt.UTC().Format(time.RFC3339)
		}
		if item.ContentType != "" {
			entry["contentType"] = item.ContentType
		}
		if item.SizeBytes > 0 {
			entry["sizeBytes"] = item.SizeBytes
		}
		items = append(items, entry)
	}
	return map[string]any{
		"type":             TypeMarker,
		"items":            items,
		"maxImages":        r.MaxImages,
		"maxFileSizeBytes": r.MaxFileSizeBytes,
		"allowedMimeTypes": r.AllowedMimeTypes,
	}
}

// NeedsRefresh reports whether any item's URL expires before
// now + threshold + skew. Items without an expiry never refresh.
func (r Reference) NeedsRefresh(threshold, skew time.Duration, now time.Time) bool {
	horizon := now.Add(threshold).Add(skew)
	for _, item := range r.Items {
		if item.ExpiresAt != nil && item.ExpiresAt.Before(horizon) {
			return true
		}
	}
	return false
}

// WithRefreshedItems returns a copy carrying the given items.
func (r Reference) WithRefreshedItems(items []Item) Reference {
	r.Items = items
	return r
}

// EnforceConstraints truncates the item list to MaxImages. Used on the
// read path; writes go through Validate instead.
func (r Reference) EnforceConstraints() Reference {
	r = r.dropEmpty()
	if r.MaxImages > 0 && len(r.Items) > r.MaxImages {
		r.Items = r.Items[:r.MaxImages]
	}
	return r
}

// Validate rejects write payloads that exceed the configured item count or
// contain incomplete items.
func (r Reference) Validate() error {
	if r.MaxImages > 0 && len(r.Items) > r.MaxImages {
		return fmt.Errorf("too many files: %d submitted, at most %d allowed", len(r.Items), r.MaxImages)
	}
	for _, item := range r.Items {
		if item.Empty() {
			return fmt.Errorf("file entry must carry a key or a url")
		}
	}
	return nil
}
