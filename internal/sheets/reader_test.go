package sheets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRectangularizePadsRaggedRows(t *testing.T) {
	rows := [][]string{
		{"a", "b", "c"},
		{"d"},
	}

	cells := rectangularize(rows, nil)

	assert.Equal(t, [][]string{
		{"a", "b", "c"},
		{"d", "", ""},
	}, cells)
}

func TestRectangularizeCoversMergedRanges(t *testing.T) {
	rows := [][]string{{"a"}}
	merges := []MergedRange{{StartRow: 1, StartCol: 1, EndRow: 3, EndCol: 2, Value: "a"}}

	cells := rectangularize(rows, merges)

	assert.Len(t, cells, 3)
	assert.Len(t, cells[0], 2)
}

func TestFillMergedCopiesValueAcrossRegion(t *testing.T) {
	cells := [][]string{
		{"Title", "", ""},
		{"", "", "x"},
	}
	merges := []MergedRange{{StartRow: 1, StartCol: 1, EndRow: 2, EndCol: 2, Value: "Title"}}

	fillMerged(cells, merges)

	assert.Equal(t, [][]string{
		{"Title", "Title", ""},
		{"Title", "Title", "x"},
	}, cells)
}

func TestSampleRendersColumnLettersAndRows(t *testing.T) {
	wb := &RawWorkbook{
		FileName: "sales.xlsx",
		Sheets: []RawSheet{
			{Name: "Sheet1", Cells: [][]string{
				{"Region", "Revenue"},
				{"West", "100"},
				{"East", "200"},
			}},
		},
	}

	sample := wb.Sample(2)

	assert.Contains(t, sample, "Sheet: Sheet1")
	assert.Contains(t, sample, "row | A | B")
	assert.Contains(t, sample, "1 | Region | Revenue")
	assert.Contains(t, sample, "2 | West | 100")
	assert.NotContains(t, sample, "East")
}

func TestSampleEmptySheet(t *testing.T) {
	wb := &RawWorkbook{Sheets: []RawSheet{{Name: "Blank"}}}
	assert.Contains(t, wb.Sample(5), "(empty)")
}

func TestSheetNamesPreservesOrder(t *testing.T) {
	wb := &RawWorkbook{Sheets: []RawSheet{{Name: "Data"}, {Name: "Notes"}}}
	assert.Equal(t, []string{"Data", "Notes"}, wb.SheetNames())
}
