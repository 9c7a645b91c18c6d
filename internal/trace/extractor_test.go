package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheet-agent/backend/internal/storage/models"
)

func salesTable() *models.ReconstructedTable {
	return &models.ReconstructedTable{
		FileName:  "sales.xlsx",
		SheetName: "Sheet1",
		Columns:   []string{"Region", "Revenue", "Units Sold", "profit_margin"},
		Provenance: []models.ColumnProvenance{
			{Column: "Region", SheetName: "Sheet1", ColumnLetter: "A", HeaderRows: []int{1}},
			{Column: "Revenue", SheetName: "Sheet1", ColumnLetter: "B", HeaderRows: []int{1}},
			{Column: "Units Sold", SheetName: "Sheet1", ColumnLetter: "C", HeaderRows: []int{1}},
			{Column: "profit_margin", SheetName: "Sheet1", ColumnLetter: "D", HeaderRows: []int{1}},
		},
	}
}

func TestExtractSubscriptAccess(t *testing.T) {
	code := `result = df['Revenue'].sum()`
	assert.Equal(t, []string{"Revenue"}, Extract(code, salesTable()))
}

func TestExtractColumnList(t *testing.T) {
	code := `subset = df[['Region', 'Revenue']]`
	assert.Equal(t, []string{"Region", "Revenue"}, Extract(code, salesTable()))
}

func TestExtractGroupByAndSortValues(t *testing.T) {
	code := `
out = df.groupby('Region')['Revenue'].sum().reset_index()
out = out.sort_values(by='Revenue', ascending=False)
`
	assert.Equal(t, []string{"Region", "Revenue"}, Extract(code, salesTable()))
}

func TestExtractAttributeAccess(t *testing.T) {
	code := `margin = df.profit_margin.mean()`
	assert.Equal(t, []string{"profit_margin"}, Extract(code, salesTable()))
}

func TestExtractIsCaseAndWhitespaceInsensitive(t *testing.T) {
	code := `x = df['units   sold'] + df['REVENUE']`
	assert.Equal(t, []string{"Revenue", "Units Sold"}, Extract(code, salesTable()))
}

func TestExtractIgnoresUnknownColumns(t *testing.T) {
	code := `x = df['Quantity'] * df['Revenue']`
	assert.Equal(t, []string{"Revenue"}, Extract(code, salesTable()))
}

func TestExtractToleratesGarbledCode(t *testing.T) {
	code := `df.groupby('Region')['Revenue'].su` // truncated mid-call
	got := Extract(code, salesTable())
	assert.Equal(t, []string{"Region", "Revenue"}, got)
}

func TestExtractEmptyInputs(t *testing.T) {
	assert.Nil(t, Extract("", salesTable()))
	assert.Nil(t, Extract("df['Revenue']", nil))
	assert.Nil(t, Extract("df['Revenue']", &models.ReconstructedTable{}))
}

func TestExtractDeduplicates(t *testing.T) {
	code := `a = df['Revenue']; b = df["Revenue"]; c = df.groupby('Revenue')`
	assert.Equal(t, []string{"Revenue"}, Extract(code, salesTable()))
}

func TestProvenanceMapsColumnsToSource(t *testing.T) {
	table := salesTable()
	got := Provenance(table, []string{"Region", "Revenue"})

	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].ColumnLetter)
	assert.Equal(t, "B", got[1].ColumnLetter)
}

func TestProvenanceFallsBackToSheetName(t *testing.T) {
	table := salesTable()
	table.Provenance = nil

	got := Provenance(table, []string{"Revenue"})
	require.Len(t, got, 1)
	assert.Equal(t, "Revenue", got[0].Column)
	assert.Equal(t, "Sheet1", got[0].SheetName)
	assert.Empty(t, got[0].ColumnLetter)
}
