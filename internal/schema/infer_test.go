package schema

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analyzeCSV(t *testing.T, csv, table string) *Analysis {
	t.Helper()
	a, err := Analyze(strings.NewReader(csv), "import.csv", table)
	require.NoError(t, err)
	return a
}

func TestNormalizeHeader(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Product Name", "product_name"},
		{"SKU#1", "sku1"},
		{"3rd Column", "c_3rd_column"},
		{"  Price (USD)  ", "price_usd"},
		{"___", "col"},
		{"Émoji?!", "moji"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeHeader(tc.in), tc.in)
	}
}

func TestNormalizeHeadersUniqueAndIDSafe(t *testing.T) {
	a := analyzeCSV(t, "Name,name,NAME,id\nx,y,z,w\n", "product_config")

	names := make([]string, len(a.Columns))
	for i, c := range a.Columns {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"name", "name_2", "name_3", "id_2"}, names)
}

func TestBlankHeaderSynthesized(t *testing.T) {
	a := analyzeCSV(t, "Name,,Price\nx,1,2\n", "product_config")

	assert.Equal(t, "col_2", a.Columns[1].Name)
	require.NotEmpty(t, a.Warnings)
	assert.Contains(t, a.Warnings[0], "blank header")
}

func TestMarkerModePrecedence(t *testing.T) {
	// All-digit samples under a "text" marker must still infer STRING.
	csv := "SKU,Count,Photo\n" +
		"text,bigint,minio:image\n" +
		"1234,10,\n" +
		"5678,20,\n"
	a := analyzeCSV(t, csv, "product_config")

	require.True(t, a.MarkerMode)
	assert.Equal(t, TypeString, a.Columns[0].Logical)
	assert.Equal(t, "TEXT", a.Columns[0].SQLType)
	assert.Equal(t, TypeInteger, a.Columns[1].Logical)
	assert.Equal(t, TypeMediaRef, a.Columns[2].Logical)
	assert.Equal(t, "minio:image", a.Columns[2].Marker)
	// Marker row is not seedable data.
	assert.Len(t, a.DataRows, 2)
}

func TestMarkerVariants(t *testing.T) {
	csv := "A,B,C,D\n" +
		"\"numeric(10,4)\",VarChar(255),minio_image,TIMESTAMP\n"
	a := analyzeCSV(t, csv, "t")

	require.True(t, a.MarkerMode)
	assert.Equal(t, "NUMERIC(10,4)", a.Columns[0].SQLType)
	assert.Equal(t, TypeDecimal, a.Columns[0].Logical)
	assert.Equal(t, "VARCHAR(255)", a.Columns[1].SQLType)
	assert.Equal(t, TypeMediaRef, a.Columns[2].Logical)
	assert.Equal(t, TypeDate, a.Columns[3].Logical)
}

func TestSamplingModeWhenMarkerRowIncomplete(t *testing.T) {
	// One non-marker cell in row 2 disables explicit mode entirely.
	csv := "A,B\ntext,hello\n1,2\n"
	a := analyzeCSV(t, csv, "t")

	assert.False(t, a.MarkerMode)
	assert.Len(t, a.DataRows, 2)
}

func TestSamplingWidening(t *testing.T) {
	csv := "Qty,Price,Mixed,When,Flag\n" +
		"1,10,true,2024-01-01,true\n" +
		"2,10.5,2024-01-01,2024-02-01,false\n" +
		"3,7,x,2024-03-01T10:00:00,true\n"
	a := analyzeCSV(t, csv, "t")

	require.False(t, a.MarkerMode)
	assert.Equal(t, TypeInteger, a.Columns[0].Logical)
	assert.Equal(t, TypeDecimal, a.Columns[1].Logical, "int+decimal widens to decimal")
	assert.Equal(t, TypeString, a.Columns[2].Logical, "bool+date conflict collapses to string")
	assert.Equal(t, TypeDate, a.Columns[3].Logical)
	assert.Equal(t, TypeBoolean, a.Columns[4].Logical)
}

func TestSamplingNullability(t *testing.T) {
	csv := "A,B\n1,\n2,x\n"
	a := analyzeCSV(t, csv, "t")

	assert.False(t, a.Columns[0].Nullable)
	assert.True(t, a.Columns[1].Nullable)
}

func TestEmptyColumnDefaultsToStringWithWarning(t *testing.T) {
	csv := "A,B\n1,\n2,\n"
	a := analyzeCSV(t, csv, "t")

	assert.Equal(t, TypeString, a.Columns[1].Logical)
	found := false
	for _, w := range a.Warnings {
		if strings.Contains(w, "no sample values") {
			found = true
		}
	}
	assert.True(t, found, "expected a no-sample warning, got %v", a.Warnings)
}

func TestDDLShape(t *testing.T) {
	a := analyzeCSV(t, "Name,Price\nwidget,9.99\n", "product_config")

	assert.True(t, strings.HasPrefix(a.DDL, "CREATE TABLE IF NOT EXISTS product_config"))
	assert.Contains(t, a.DDL, "id UUID PRIMARY KEY DEFAULT gen_random_uuid()")
	assert.Contains(t, a.DDL, "name VARCHAR(255) NOT NULL")
	assert.Contains(t, a.DDL, "price NUMERIC(19,2) NOT NULL")
}

func TestAnalyzeEmptySheet(t *testing.T) {
	_, err := Analyze(strings.NewReader(""), "a.csv", "t")
	assert.ErrorIs(t, err, ErrEmptySheet)
}

func TestTemplateRoundTrip(t *testing.T) {
	raw, err := Template("product")
	require.NoError(t, err)

	a, err := Analyze(bytes.NewReader(raw), "template.xlsx", "product_config")
	require.NoError(t, err)
	require.True(t, a.MarkerMode, "template must parse in explicit marker mode")

	var media int
	for _, c := range a.Columns {
		if c.IsMedia() {
			media++
		}
	}
	assert.Equal(t, 1, media)
}

func TestTemplateUnknownDomain(t *testing.T) {
	_, err := Template("warehouse")
	assert.Error(t, err)
}
