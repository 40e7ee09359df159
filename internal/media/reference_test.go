package media

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsdesk-backend/internal/semantics"
)

var defaults = Defaults{
	MaxImages:        1,
	MaxFileSizeBytes: 5 * 1024 * 1024,
	AllowedMimeTypes: []string{"image/jpeg", "image/png", "image/webp", "image/gif"},
}

func TestParseNil(t *testing.T) {
	ref := Parse(nil, nil, defaults)
	assert.Equal(t, TypeMarker, ref.Type)
	assert.Empty(t, ref.Items)
	assert.Equal(t, 1, ref.MaxImages)
}

func TestParseJSONString(t *testing.T) {
	raw := `{"type":"MEDIA_REF","items":[{"key":"a/b.png","url":"https://x/a/b.png","sizeBytes":120}]}`
	ref := Parse(raw, nil, defaults)
	require.Len(t, ref.Items, 1)
	assert.Equal(t, "a/b.png", ref.Items[0].Key)
	assert.Equal(t, int64(120), ref.Items[0].SizeBytes)
}

func TestParseLegacySingleObject(t *testing.T) {
	// Old rows stored one bare {key,url} object without the items wrapper.
	ref := Parse(`{"key":"k.jpg","url":"https://x/k.jpg"}`, nil, defaults)
	require.Len(t, ref.Items, 1)
	assert.Equal(t, "k.jpg", ref.Items[0].Key)
}

func TestParseBareList(t *testing.T) {
	ref := Parse([]any{
		map[string]any{"key": "a.png", "url": "u1"},
		map[string]any{"key": "b.png", "url": "u2"},
	}, nil, defaults)
	assert.Len(t, ref.Items, 2)
}

func TestParseGarbageDegradesToEmpty(t *testing.T) {
	for _, raw := range []any{"not json at all", 42, true, `"just a string"`} {
		ref := Parse(raw, nil, defaults)
		assert.Empty(t, ref.Items, "input %v", raw)
		assert.Equal(t, TypeMarker, ref.Type)
	}
}

func TestParseDropsEmptyItems(t *testing.T) {
	raw := `{"items":[{"key":"","url":""},{"key":"a.png","url":"u"}]}`
	ref := Parse(raw, nil, defaults)
	require.Len(t, ref.Items, 1)
	assert.Equal(t, "a.png", ref.Items[0].Key)
}

func TestParseConstraintsFromSemantics(t *testing.T) {
	sem := &semantics.ColumnSemantics{
		SemanticType: semantics.TypeMediaRef,
		Metadata: map[string]any{
			"maxImages":        "3",
			"maxFileSizeBytes": float64(1024),
			"allowedMimeTypes": "image/png",
		},
	}
	ref := Parse(nil, sem, defaults)
	assert.Equal(t, 3, ref.MaxImages)
	assert.Equal(t, int64(1024), ref.MaxFileSizeBytes)
	assert.Equal(t, []string{"image/png"}, ref.AllowedMimeTypes)
}

func TestValidateMaxCount(t *testing.T) {
	ref := Parse([]any{
		map[string]any{"key": "a.png", "url": "u1"},
		map[string]any{"key": "b.png", "url": "u2"},
	}, nil, defaults) // maxImages = 1

	assert.Error(t, ref.Validate())

	ref.Items = ref.Items[:1]
	assert.NoError(t, ref.Validate())
}

func TestEnforceConstraintsTruncates(t *testing.T) {
	ref := Parse([]any{
		map[string]any{"key": "a.png"},
		map[string]any{"key": "b.png"},
		map[string]any{"key": "c.png"},
	}, nil, defaults)
	trimmed := ref.EnforceConstraints()
	require.Len(t, trimmed.Items, 1)
	assert.Equal(t, "a.png", trimmed.Items[0].Key)
}

func TestStorageFormRoundTrip(t *testing.T) {
	exp := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
	ref := Reference{
		Type:      TypeMarker,
		Items:     []Item{{Key: "a.png", URL: "u", ExpiresAt: &exp, ContentType: "image/png", SizeBytes: 9}},
		MaxImages: 2,
	}

	stored, err := ref.StorageForm()
	require.NoError(t, err)

	parsed := Parse(stored, nil, Defaults{MaxImages: 2})
	require.Len(t, parsed.Items, 1)
	assert.Equal(t, ref.Items[0].Key, parsed.Items[0].Key)
	assert.True(t, parsed.Items[0].ExpiresAt.Equal(exp))
	assert.Equal(t, int64(9), parsed.Items[0].SizeBytes)
}

func TestStorageFormStableWhenNothingChanges(t *testing.T) {
	// Two serializations of the same parsed value must be byte-identical,
	// so a sweep that refreshes nothing rewrites nothing.
	raw := `{"type":"MEDIA_REF","items":[{"key":"a.png","url":"u"}],"maxImages":1}`
	first, err := Parse(raw, nil, defaults).StorageForm()
	require.NoError(t, err)
	second, err := Parse(first, nil, defaults).StorageForm()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNeedsRefresh(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	threshold := 24 * time.Hour
	skew := 5 * time.Minute

	soon := now.Add(12 * time.Hour)
	far := now.Add(90 * 24 * time.Hour)

	refSoon := Reference{Items: []Item{{Key: "a", ExpiresAt: &soon}}}
	refFar := Reference{Items: []Item{{Key: "a", ExpiresAt: &far}}}
	refNoExpiry := Reference{Items: []Item{{Key: "a"}}}
	refEmpty := Reference{}

	assert.True(t, refSoon.NeedsRefresh(threshold, skew, now))
	assert.False(t, refFar.NeedsRefresh(threshold, skew, now))
	assert.False(t, refNoExpiry.NeedsRefresh(threshold, skew, now))
	assert.False(t, refEmpty.NeedsRefresh(threshold, skew, now))
}

func TestClientView(t *testing.T) {
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	ref := Reference{
		Type:             TypeMarker,
		Items:            []Item{{Key: "a.png", URL: "u", ExpiresAt: &exp}},
		MaxImages:        1,
		MaxFileSizeBytes: 100,
	}

	view := ref.ClientView()
	raw, err := json.Marshal(view)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"2030-01-02T03:04:05Z"`)

	items := view["items"].([]map[string]any)
	require.Len(t, items, 1)
	assert.Equal(t, "a.png", items[0]["key"])
}
