package sheets

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/sheet-agent/backend/pkg/logger"
)

// MergedRange records one merged-cell region of the original sheet.
// Coordinates are 1-based.
type MergedRange struct {
	Ref      string `json:"ref"`
	StartRow int    `json:"start_row"`
	StartCol int    `json:"start_col"`
	EndRow   int    `json:"end_row"`
	EndCol   int    `json:"end_col"`
	Value    string `json:"value"`
}

// RawSheet is one worksheet with merged cells already resolved: every
// cell of a merged region carries the region's value. The original
// workbook on disk is never touched.
type RawSheet struct {
	Name   string
	Cells  [][]string
	Merges []MergedRange
}

// RawWorkbook is the in-memory unmerged form of a spreadsheet file,
// the input handed to the reconstruction collaborator.
type RawWorkbook struct {
	FileName string
	Sheets   []RawSheet
}

// ReadWorkbook loads a workbook, rectangularizes each sheet's cell grid
// and fills merged regions in memory.
func ReadWorkbook(path string) (*RawWorkbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	wb := &RawWorkbook{FileName: path}

	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheetName, err)
		}

		merges, err := readMerges(f, sheetName)
		if err != nil {
			return nil, err
		}

		cells := rectangularize(rows, merges)
		fillMerged(cells, merges)

		wb.Sheets = append(wb.Sheets, RawSheet{
			Name:   sheetName,
			Cells:  cells,
			Merges: merges,
		})

		logger.Debug("Sheet loaded",
			zap.String("sheet", sheetName),
			zap.Int("rows", len(cells)),
			zap.Int("merged_ranges", len(merges)),
		)
	}

	return wb, nil
}

func readMerges(f *excelize.File, sheetName string) ([]MergedRange, error) {
	mergeCells, err := f.GetMergeCells(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read merged cells of %s: %w", sheetName, err)
	}

	var merges []MergedRange
	for _, mc := range mergeCells {
		startCol, startRow, err := excelize.CellNameToCoordinates(mc.GetStartAxis())
		if err != nil {
			return nil, fmt.Errorf("invalid merge start %s: %w", mc.GetStartAxis(), err)
		}
		endCol, endRow, err := excelize.CellNameToCoordinates(mc.GetEndAxis())
		if err != nil {
			return nil, fmt.Errorf("invalid merge end %s: %w", mc.GetEndAxis(), err)
		}

		merges = append(merges, MergedRange{
			Ref:      mc.GetStartAxis() + ":" + mc.GetEndAxis(),
			StartRow: startRow,
			StartCol: startCol,
			EndRow:   endRow,
			EndCol:   endCol,
			Value:    mc.GetCellValue(),
		})
	}

	return merges, nil
}

// rectangularize pads the ragged grid excelize returns into a fixed
// width, wide enough to cover every merged range as well.
func rectangularize(rows [][]string, merges []MergedRange) [][]string {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	height := len(rows)
	for _, m := range merges {
		if m.EndCol > width {
			width = m.EndCol
		}
		if m.EndRow > height {
			height = m.EndRow
		}
	}

	cells := make([][]string, height)
	for i := range cells {
		cells[i] = make([]string, width)
		if i < len(rows) {
			copy(cells[i], rows[i])
		}
	}
	return cells
}

func fillMerged(cells [][]string, merges []MergedRange) {
	for _, m := range merges {
		for r := m.StartRow; r <= m.EndRow; r++ {
			for c := m.StartCol; c <= m.EndCol; c++ {
				cells[r-1][c-1] = m.Value
			}
		}
	}
}

// Sample renders the first head rows of every sheet as text for LLM
// prompts, with Excel column letters and 1-based row numbers.
func (wb *RawWorkbook) Sample(head int) string {
	var sb strings.Builder

	for i, sheet := range wb.Sheets {
		if i > 0 {
			sb.WriteString("\n---\n")
		}
		fmt.Fprintf(&sb, "Sheet: %s\nFirst %d rows:\n", sheet.Name, head)

		if len(sheet.Cells) == 0 {
			sb.WriteString("(empty)\n")
			continue
		}

		width := len(sheet.Cells[0])
		sb.WriteString("row")
		for c := 1; c <= width; c++ {
			letter, _ := excelize.ColumnNumberToName(c)
			sb.WriteString(" | " + letter)
		}
		sb.WriteString("\n")

		limit := head
		if limit > len(sheet.Cells) {
			limit = len(sheet.Cells)
		}
		for r := 0; r < limit; r++ {
			fmt.Fprintf(&sb, "%d", r+1)
			for _, cell := range sheet.Cells[r] {
				sb.WriteString(" | " + strings.ReplaceAll(cell, "\n", " "))
			}
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// SheetNames lists the workbook's sheets in file order.
func (wb *RawWorkbook) SheetNames() []string {
	names := make([]string, 0, len(wb.Sheets))
	for _, s := range wb.Sheets {
		names = append(names, s.Name)
	}
	return names
}
