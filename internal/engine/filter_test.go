package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsdesk-backend/internal/semantics"
)

func testCatalog() *Catalog {
	cols := []Column{
		{Name: "id", DataType: "uuid", Ordinal: 1},
		{Name: "product_name", DataType: "character varying", Ordinal: 2},
		{Name: "price", DataType: "numeric", Ordinal: 3},
		{Name: "stock", DataType: "bigint", Ordinal: 4},
		{Name: "active", DataType: "boolean", Ordinal: 5},
		{Name: "created_at", DataType: "timestamp without time zone", Ordinal: 6},
		{Name: "image", DataType: "text", Ordinal: 7,
			Semantics: &semantics.ColumnSemantics{SemanticType: semantics.TypeMediaRef}},
	}
	cat := &Catalog{Table: "product_config", Columns: cols, byName: map[string]Column{}}
	for _, c := range cols {
		cat.byName[c.Name] = c
	}
	return cat
}

func TestParseFiltersPlainAndStructured(t *testing.T) {
	raw := `{
		"product_name": "widget",
		"price": {"value": "10", "matchMode": "equals"},
		"created_at": "{\"value\":\"[\\\"2024-01-01\\\",\\\"2024-01-31\\\"]\",\"matchMode\":\"between\",\"type\":\"date\"}"
	}`
	filters, err := ParseFilters(raw)
	require.NoError(t, err)
	require.Len(t, filters, 3)

	byField := map[string]Filter{}
	for _, f := range filters {
		byField[f.Field] = f
	}

	assert.Equal(t, MatchContains, byField["product_name"].MatchMode)
	assert.Equal(t, "widget", byField["product_name"].Value)
	assert.Equal(t, MatchEquals, byField["price"].MatchMode)
	assert.Equal(t, MatchBetween, byField["created_at"].MatchMode)
	assert.Equal(t, "date", byField["created_at"].TypeHint)
}

func TestParseFiltersRejectsNonObject(t *testing.T) {
	_, err := ParseFilters(`["not","an","object"]`)
	assert.Error(t, err)

	filters, err := ParseFilters("")
	assert.NoError(t, err)
	assert.Nil(t, filters)
}

func TestContainsFilter(t *testing.T) {
	pb := &paramBuilder{}
	clauses, outcome := applyFilters(testCatalog(), []Filter{
		{Field: "Product_Name", Value: "WiDgEt", MatchMode: MatchContains},
	}, pb)

	require.Equal(t, 1, outcome.Applied)
	require.Len(t, clauses, 1)
	assert.Equal(t, "lower(product_name::text) LIKE $1", clauses[0])
	assert.Equal(t, []any{"%widget%"}, pb.params)
}

func TestEqualsFilterCoercesByColumnType(t *testing.T) {
	pb := &paramBuilder{}
	clauses, outcome := applyFilters(testCatalog(), []Filter{
		{Field: "stock", Value: "42", MatchMode: MatchEquals},
		{Field: "price", Value: "9.99", MatchMode: MatchEquals},
		{Field: "active", Value: "true", MatchMode: MatchEquals},
	}, pb)

	require.Equal(t, 3, outcome.Applied)
	assert.Equal(t, "stock = $1", clauses[0])
	assert.Equal(t, []any{int64(42), 9.99, true}, pb.params)
}

func TestStartsEndsWithFilters(t *testing.T) {
	pb := &paramBuilder{}
	clauses, _ := applyFilters(testCatalog(), []Filter{
		{Field: "product_name", Value: "Wid", MatchMode: MatchStartsWith},
		{Field: "product_name", Value: "GET", MatchMode: MatchEndsWith},
	}, pb)

	require.Len(t, clauses, 2)
	assert.Equal(t, []any{"wid%", "%get"}, pb.params)
}

func TestInFilter(t *testing.T) {
	pb := &paramBuilder{}
	clauses, _ := applyFilters(testCatalog(), []Filter{
		{Field: "product_name", Value: `["a","b","c"]`, MatchMode: MatchIn},
	}, pb)

	require.Len(t, clauses, 1)
	assert.Equal(t, "product_name IN ($1,$2,$3)", clauses[0])
}

func TestInFilterFallsBackToEquality(t *testing.T) {
	pb := &paramBuilder{}
	clauses, outcome := applyFilters(testCatalog(), []Filter{
		{Field: "product_name", Value: "not-a-list", MatchMode: MatchIn},
	}, pb)

	require.Equal(t, 1, outcome.Applied)
	assert.Equal(t, "product_name = $1", clauses[0])
	assert.Equal(t, []any{"not-a-list"}, pb.params)
}

func TestBetweenDateFilterWidensBareDates(t *testing.T) {
	pb := &paramBuilder{}
	clauses, outcome := applyFilters(testCatalog(), []Filter{
		{Field: "created_at", Value: `["2024-01-01","2024-01-31"]`, MatchMode: MatchBetween},
	}, pb)

	require.Equal(t, 1, outcome.Applied)
	assert.Equal(t, "created_at BETWEEN $1 AND $2", clauses[0])

	lo := pb.params[0].(time.Time)
	hi := pb.params[1].(time.Time)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), lo)

	// End of 2024-01-31: includes 23:59:59 that day, excludes Feb 1 midnight.
	lastSecond := time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)
	febFirst := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, hi.After(lastSecond) || hi.Equal(lastSecond))
	assert.True(t, hi.Before(febFirst))
}

func TestBetweenNumericFilter(t *testing.T) {
	pb := &paramBuilder{}
	clauses, _ := applyFilters(testCatalog(), []Filter{
		{Field: "price", Value: `["10","20.5"]`, MatchMode: MatchBetween},
	}, pb)

	require.Len(t, clauses, 1)
	assert.Equal(t, []any{10.0, 20.5}, pb.params)
}

func TestBetweenSingleBound(t *testing.T) {
	pb := &paramBuilder{}
	clauses, _ := applyFilters(testCatalog(), []Filter{
		{Field: "price", Value: `["15"]`, MatchMode: MatchBetween},
	}, pb)

	require.Len(t, clauses, 1)
	assert.Equal(t, []any{15.0, 15.0}, pb.params)
}

func TestUnparseableBoundDropsFilterSilently(t *testing.T) {
	pb := &paramBuilder{}
	clauses, outcome := applyFilters(testCatalog(), []Filter{
		{Field: "created_at", Value: `["soon","later"]`, MatchMode: MatchBetween},
		{Field: "price", Value: `["cheap","expensive"]`, MatchMode: MatchBetween},
		{Field: "product_name", Value: "kept", MatchMode: MatchContains},
	}, pb)

	assert.Equal(t, 1, outcome.Applied)
	assert.Equal(t, []string{"created_at", "price"}, outcome.Skipped)
	require.Len(t, clauses, 1)
}

func TestUnknownFieldAndIDAreSkipped(t *testing.T) {
	pb := &paramBuilder{}
	clauses, outcome := applyFilters(testCatalog(), []Filter{
		{Field: "no_such_column", Value: "x"},
		{Field: "id", Value: "y"},
	}, pb)

	assert.Empty(t, clauses)
	assert.Equal(t, 0, outcome.Applied)
	assert.Equal(t, []string{"no_such_column", "id"}, outcome.Skipped)
}

func TestFreeTextClauseRepeatsSamePattern(t *testing.T) {
	pb := &paramBuilder{}
	clause := freeTextClause(testCatalog(), "Widget", pb)

	// One placeholder per non-id column, all bound to the same pattern.
	require.Len(t, pb.params, 6)
	for _, p := range pb.params {
		assert.Equal(t, "%widget%", p)
	}
	assert.Contains(t, clause, "lower(product_name::text) LIKE $1")
	assert.Contains(t, clause, "lower(image::text) LIKE $6")
}

func TestResolveSort(t *testing.T) {
	cat := testCatalog()

	col, dir := resolveSort(cat, "Product_Name", "desc")
	assert.Equal(t, "product_name", col)
	assert.Equal(t, "DESC", dir)

	col, dir = resolveSort(cat, "no_such", "asc")
	assert.Equal(t, "id", col)
	assert.Equal(t, "ASC", dir)

	col, _ = resolveSort(cat, "", "")
	assert.Equal(t, "id", col)
}
