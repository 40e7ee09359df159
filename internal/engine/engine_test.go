package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsdesk-backend/internal/identity"
	"opsdesk-backend/internal/media"
	"opsdesk-backend/internal/semantics"
)

func testDefaults() media.Defaults {
	return media.Defaults{
		MaxImages:        1,
		MaxFileSizeBytes: 5 * 1024 * 1024,
		AllowedMimeTypes: []string{"image/jpeg", "image/png"},
	}
}

func TestPlanWriteCoercesAndSkipsUnknownKeys(t *testing.T) {
	plan, details := PlanWrite(testCatalog(), map[string]any{
		"Product_Name": "Widget",
		"price":        "19.99",
		"stock":        float64(7),
		"active":       true,
		"mystery_key":  "dropped",
		"id":           "client-supplied",
	}, testDefaults())

	require.Empty(t, details)
	assert.Equal(t, []string{"product_name", "price", "stock", "active"}, plan.Columns)
	assert.Equal(t, []any{"Widget", 19.99, int64(7), true}, plan.Values)
	assert.ElementsMatch(t, []string{"mystery_key", "id"}, plan.Skipped)
}

func TestPlanWriteCollectsTypeErrors(t *testing.T) {
	plan, details := PlanWrite(testCatalog(), map[string]any{
		"stock":        "many",
		"created_at":   "someday",
		"product_name": "still written",
	}, testDefaults())

	require.Len(t, details, 2)
	fields := []string{details[0].Field, details[1].Field}
	assert.ElementsMatch(t, []string{"stock", "created_at"}, fields)

	// Valid attributes still make it into the plan.
	assert.Equal(t, []string{"product_name"}, plan.Columns)
}

func TestPlanWriteMediaColumnStoredAsJSON(t *testing.T) {
	plan, details := PlanWrite(testCatalog(), map[string]any{
		"image": map[string]any{
			"type":  "MEDIA_REF",
			"items": []any{map[string]any{"key": "p/1.jpg", "url": "https://s/p/1.jpg"}},
		},
	}, testDefaults())

	require.Empty(t, details)
	require.Equal(t, []string{"image"}, plan.Columns)
	stored, ok := plan.Values[0].(string)
	require.True(t, ok)
	assert.Contains(t, stored, `"p/1.jpg"`)
	assert.Contains(t, stored, `"MEDIA_REF"`)
}

func TestPlanWriteMediaOverCountRejected(t *testing.T) {
	_, details := PlanWrite(testCatalog(), map[string]any{
		"image": map[string]any{
			"type": "MEDIA_REF",
			"items": []any{
				map[string]any{"key": "a.jpg", "url": "https://s/a.jpg"},
				map[string]any{"key": "b.jpg", "url": "https://s/b.jpg"},
			},
		},
	}, testDefaults())

	require.Len(t, details, 1)
	assert.Equal(t, "image", details[0].Field)
	assert.Equal(t, "media", details[0].Rule)
}

func TestPlanWriteExpressionRule(t *testing.T) {
	cat := testCatalog()
	col := cat.byName["price"]
	col.Semantics = &semantics.ColumnSemantics{
		Metadata: map[string]any{
			"rule":        "value >= 0",
			"ruleMessage": "price cannot be negative",
		},
	}
	cat.byName["price"] = col
	for i := range cat.Columns {
		if cat.Columns[i].Name == "price" {
			cat.Columns[i] = col
		}
	}

	_, details := PlanWrite(cat, map[string]any{"price": -5.0}, testDefaults())
	require.Len(t, details, 1)
	assert.Equal(t, "price cannot be negative", details[0].Message)

	plan, details := PlanWrite(cat, map[string]any{"price": 5.0}, testDefaults())
	assert.Empty(t, details)
	assert.Equal(t, []string{"price"}, plan.Columns)
}

func TestBuildInsertSQL(t *testing.T) {
	pb := &paramBuilder{}
	sql := buildInsertSQL("product_config", []string{"product_name", "price"}, pb, []any{"Widget", 9.5})
	assert.Equal(t,
		"INSERT INTO product_config (product_name, price) VALUES ($1, $2) RETURNING id", sql)

	pb = &paramBuilder{}
	sql = buildInsertSQL("product_config", nil, pb, nil)
	assert.Equal(t, "INSERT INTO product_config DEFAULT VALUES RETURNING id", sql)
}

func TestBuildUpdateSQL(t *testing.T) {
	pb := &paramBuilder{}
	sql := buildUpdateSQL("product_config", []string{"price", "stock"}, []any{1.5, int64(3)}, "abc", pb)
	assert.Equal(t, "UPDATE product_config SET price = $1, stock = $2 WHERE id = $3", sql)
	assert.Equal(t, []any{1.5, int64(3), "abc"}, pb.params)
}

func TestParseTimestampLayouts(t *testing.T) {
	for _, raw := range []string{
		"2024-05-01T10:30:00Z",
		"2024-05-01T10:30:00",
		"2024-05-01 10:30:00",
		"2024-05-01",
	} {
		ts, err := parseTimestamp(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, 2024, ts.Year())
		assert.Equal(t, time.May, ts.Month())
	}

	_, err := parseTimestamp("last tuesday")
	assert.Error(t, err)
}

func TestClientTypeDerivation(t *testing.T) {
	cat := testCatalog()
	assert.Equal(t, ClientTypeText, cat.byName["product_name"].ClientType())
	assert.Equal(t, ClientTypeDecimal, cat.byName["price"].ClientType())
	assert.Equal(t, ClientTypeInteger, cat.byName["stock"].ClientType())
	assert.Equal(t, ClientTypeBoolean, cat.byName["active"].ClientType())
	assert.Equal(t, ClientTypeDate, cat.byName["created_at"].ClientType())
	assert.Equal(t, ClientTypeMediaRef, cat.byName["image"].ClientType())

	// Media by name heuristic, no semantics row needed.
	assert.Equal(t, ClientTypeMediaRef, Column{Name: "banner_photo", DataType: "text"}.ClientType())
	assert.Equal(t, ClientTypeMediaRef, Column{Name: "landing_url", DataType: "text"}.ClientType())
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Product Name", Column{Name: "product_name"}.DisplayName())
	assert.Equal(t, "Sku", Column{Name: "sku"}.DisplayName())
}

func TestCheckPermission(t *testing.T) {
	admin := &identity.UserContext{Roles: []string{"administrator"}}
	agent := &identity.UserContext{
		Roles:       []string{"confirmation_agent"},
		Permissions: []string{"orders:access:status", "orders:action:update"},
	}

	assert.NoError(t, checkPermission(admin, "orders", "delete"))
	assert.NoError(t, checkPermission(agent, "orders", "read"))
	assert.NoError(t, checkPermission(agent, "orders", "update"))

	err := checkPermission(agent, "orders", "delete")
	require.Error(t, err)
	assert.Equal(t, 403, err.(*AppError).Status)

	err = checkPermission(agent, "product", "read")
	require.Error(t, err)

	err = checkPermission(nil, "orders", "read")
	require.Error(t, err)
	assert.Equal(t, 401, err.(*AppError).Status)
}

func TestPageRequestNormalization(t *testing.T) {
	pr := PageRequest{Page: 0, Size: 0}.normalized()
	assert.Equal(t, 1, pr.Page)
	assert.Equal(t, 25, pr.Size)

	pr = PageRequest{Page: 3, Size: 9999}.normalized()
	assert.Equal(t, 3, pr.Page)
	assert.Equal(t, 100, pr.Size)
}

func ordersCatalog() *Catalog {
	cols := []Column{
		{Name: "id", DataType: "uuid", Ordinal: 1},
		{Name: "customer_name", DataType: "character varying", Ordinal: 2},
		{Name: "status", DataType: "character varying", Ordinal: 3},
		{Name: "assigned_agent", DataType: "character varying", Ordinal: 4},
	}
	cat := &Catalog{Table: "orders_config", Columns: cols, byName: map[string]Column{}}
	for _, c := range cols {
		cat.byName[c.Name] = c
	}
	return cat
}

func TestAgentRestrictionForcesAssignedAgentClause(t *testing.T) {
	e := &Engine{}
	cat := ordersCatalog()

	agent := &identity.UserContext{
		Username: "Ravi",
		Roles:    []string{"confirmation_agent"},
	}
	pb := &paramBuilder{}
	clause, ok := e.agentRestriction(cat, agent, "orders", pb)
	require.True(t, ok)
	assert.Equal(t, "lower(assigned_agent::text) = $1", clause)
	require.Len(t, pb.params, 1)
	assert.Equal(t, "ravi", pb.params[0])
}

func TestAgentRestrictionFallsBackToEmail(t *testing.T) {
	e := &Engine{}
	agent := &identity.UserContext{
		Email: "Agent@Example.com",
		Roles: []string{"confirmation_agent"},
	}
	pb := &paramBuilder{}
	_, ok := e.agentRestriction(ordersCatalog(), agent, "orders", pb)
	require.True(t, ok)
	assert.Equal(t, "agent@example.com", pb.params[0])
}

func TestAgentRestrictionDoesNotApplyToElevatedRoles(t *testing.T) {
	e := &Engine{}
	cat := ordersCatalog()

	for _, roles := range [][]string{
		{"administrator"},
		{"supervisor"},
		{"confirmation_agent", "supervisor"},
		{"confirmation_agent", "administrator"},
		{"accountant"},
	} {
		pb := &paramBuilder{}
		caller := &identity.UserContext{Username: "x", Roles: roles}
		clause, ok := e.agentRestriction(cat, caller, "orders", pb)
		assert.False(t, ok, "roles %v", roles)
		assert.Empty(t, clause)
		assert.Empty(t, pb.params)
	}
}

func TestAgentRestrictionOnlyAppliesToOrders(t *testing.T) {
	e := &Engine{}
	agent := &identity.UserContext{Username: "ravi", Roles: []string{"confirmation_agent"}}

	pb := &paramBuilder{}
	_, ok := e.agentRestriction(testCatalog(), agent, "product", pb)
	assert.False(t, ok)

	// Even an orders-shaped catalog is left alone for a non-orders domain.
	_, ok = e.agentRestriction(ordersCatalog(), agent, "expenses", pb)
	assert.False(t, ok)
	assert.Empty(t, pb.params)
}

func TestAgentRestrictionRequiresAssignedAgentColumn(t *testing.T) {
	e := &Engine{}
	agent := &identity.UserContext{Username: "ravi", Roles: []string{"confirmation_agent"}}

	cols := []Column{{Name: "id", DataType: "uuid", Ordinal: 1}}
	cat := &Catalog{Table: "orders_config", Columns: cols, byName: map[string]Column{"id": cols[0]}}

	pb := &paramBuilder{}
	_, ok := e.agentRestriction(cat, agent, "orders", pb)
	assert.False(t, ok)
}
