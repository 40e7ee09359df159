package schema

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"opsdesk-backend/internal/domain"
)

// templateColumns holds the suggested headers and type markers shown to
// administrators when they download a blank import template. Purely
// advisory; the import path accepts any column set.
var templateColumns = map[string][][2]string{
	"product": {
		{"Product Name", "varchar(255)"},
		{"SKU", "varchar(255)"},
		{"Price", "numeric(19,2)"},
		{"Stock", "bigint"},
		{"Active", "boolean"},
		{"Image", "minio:image"},
	},
	"orders": {
		{"Customer Name", "varchar(255)"},
		{"Phone", "varchar(255)"},
		{"Address", "text"},
		{"Status", "varchar(255)"},
		{"Assigned Agent", "varchar(255)"},
		{"Total", "numeric(19,2)"},
		{"Order Date", "timestamp"},
	},
	"expenses": {
		{"Label", "varchar(255)"},
		{"Amount", "numeric(19,2)"},
		{"Category", "varchar(255)"},
		{"Spent At", "date"},
		{"Receipt", "minio:file"},
	},
	"ads": {
		{"Campaign", "varchar(255)"},
		{"Platform", "varchar(255)"},
		{"Budget", "numeric(19,2)"},
		{"Started At", "date"},
		{"Creative", "minio:image"},
	},
	"employee": {
		{"Full Name", "varchar(255)"},
		{"Role", "varchar(255)"},
		{"Salary", "numeric(19,2)"},
		{"Hired At", "date"},
		{"Photo", "minio:image"},
	},
	"delivery": {
		{"Courier", "varchar(255)"},
		{"Zone", "varchar(255)"},
		{"Fee", "numeric(19,2)"},
		{"Active", "boolean"},
	},
}

// Template produces a blank xlsx (headers plus a type-marker row) guiding
// administrators toward the explicit inference mode.
func Template(domainName string) ([]byte, error) {
	name, err := domain.Normalize(domainName)
	if err != nil {
		return nil, err
	}
	cols, ok := templateColumns[name]
	if !ok {
		cols = [][2]string{{"Name", "varchar(255)"}}
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, col := range cols {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, fmt.Errorf("cell name: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, col[0]); err != nil {
			return nil, fmt.Errorf("set header: %w", err)
		}
		cell, err = excelize.CoordinatesToCellName(i+1, 2)
		if err != nil {
			return nil, fmt.Errorf("cell name: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, col[1]); err != nil {
			return nil, fmt.Errorf("set marker: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write template: %w", err)
	}
	return buf.Bytes(), nil
}
