package sweeper

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"opsdesk-backend/internal/semantics"
)

func TestLiveColumnsDropsMissingColumns(t *testing.T) {
	cols := []semantics.ColumnSemantics{
		{TableName: "product_config", ColumnName: "image"},
		{TableName: "product_config", ColumnName: "old_gallery"},
		{TableName: "product_config", ColumnName: "manual"},
	}

	live := liveColumns(cols, func(column string) bool {
		return column != "old_gallery"
	})

	assert.Len(t, live, 2)
	assert.Equal(t, "image", live[0].ColumnName)
	assert.Equal(t, "manual", live[1].ColumnName)
}

func TestLiveColumnsAllMissing(t *testing.T) {
	cols := []semantics.ColumnSemantics{
		{TableName: "product_config", ColumnName: "image"},
	}
	live := liveColumns(cols, func(string) bool { return false })
	assert.Empty(t, live)
}
