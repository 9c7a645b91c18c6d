package recon

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/sheet-agent/backend/internal/sheets"
	"github.com/sheet-agent/backend/internal/storage/models"
)

// SheetStructure is the collaborator's verdict on one worksheet:
// which rows are sheet-level labels to drop and which rows form the
// (possibly multi-level) header. Row numbers are 1-based.
type SheetStructure struct {
	Labels []int `json:"labels"`
	Header []int `json:"header"`
}

// Analyzer is the opaque LLM collaborator that classifies the rows of
// an unmerged workbook sample.
type Analyzer interface {
	AnalyzeStructure(ctx context.Context, sample, mergeInfo string) (map[string]SheetStructure, error)
}

const maxHeaderCellLen = 50

// buildTable turns an unmerged workbook plus the analyzer's structure
// verdict into a clean rectangular table. The first sheet that yields
// any columns becomes the table; header rows are merged top-down with a
// "-" separator and empty header cells fall back to Column_N.
func buildTable(file models.SpreadsheetFile, wb *sheets.RawWorkbook, structures map[string]SheetStructure) (*models.ReconstructedTable, error) {
	for _, sheet := range wb.Sheets {
		structure, ok := structures[sheet.Name]
		if !ok {
			structure = SheetStructure{Header: []int{1}}
		}

		columns, rows, headerRows := reshapeSheet(sheet.Cells, structure)
		if len(columns) == 0 {
			continue
		}

		provenance := make([]models.ColumnProvenance, 0, len(columns))
		for i, col := range columns {
			letter, _ := excelize.ColumnNumberToName(i + 1)
			provenance = append(provenance, models.ColumnProvenance{
				Column:       col,
				SheetName:    sheet.Name,
				ColumnLetter: letter,
				HeaderRows:   headerRows,
				SourceLabels: headerCellValues(sheet.Cells, headerRows, i),
			})
		}

		return &models.ReconstructedTable{
			FileName:    file.Name,
			Fingerprint: file.Fingerprint,
			SheetName:   sheet.Name,
			Columns:     columns,
			Rows:        rows,
			Provenance:  provenance,
			CreatedAt:   time.Now(),
		}, nil
	}

	return nil, fmt.Errorf("workbook %s has no reconstructable sheet", file.Name)
}

// reshapeSheet drops label rows, merges the header rows into a single
// column-name row and returns the remaining data rows. The returned
// header row numbers refer to the original sheet, for provenance.
func reshapeSheet(cells [][]string, structure SheetStructure) ([]string, [][]string, []int) {
	if len(cells) == 0 {
		return nil, nil, nil
	}

	dropped := make(map[int]struct{}, len(structure.Labels))
	for _, row := range structure.Labels {
		dropped[row] = struct{}{}
	}

	headerRows := make(map[int]struct{}, len(structure.Header))
	var originalHeaderRows []int
	maxHeader := 0
	for _, row := range structure.Header {
		if row < 1 || row > len(cells) {
			continue
		}
		if _, isLabel := dropped[row]; isLabel {
			continue
		}
		headerRows[row] = struct{}{}
		originalHeaderRows = append(originalHeaderRows, row)
		if row > maxHeader {
			maxHeader = row
		}
	}
	if len(headerRows) == 0 {
		headerRows[1] = struct{}{}
		originalHeaderRows = []int{1}
		maxHeader = 1
	}

	width := len(cells[0])
	columns := make([]string, width)
	for c := 0; c < width; c++ {
		columns[c] = mergeHeaderColumn(cells, originalHeaderRows, c)
	}

	var rows [][]string
	for r := maxHeader + 1; r <= len(cells); r++ {
		if _, isLabel := dropped[r]; isLabel {
			continue
		}
		row := cells[r-1]
		if isEmptyRow(row) {
			continue
		}
		rows = append(rows, row)
	}

	if allDefaultColumns(columns) && len(rows) == 0 {
		return nil, nil, nil
	}

	return columns, rows, originalHeaderRows
}

// mergeHeaderColumn joins the header cells of one column across header
// rows. Long cell values are treated as data leakage and skipped;
// duplicates collapse; an empty result becomes Column_N.
func mergeHeaderColumn(cells [][]string, headerRows []int, col int) string {
	var parts []string
	seen := make(map[string]struct{})

	for _, row := range headerRows {
		val := strings.TrimSpace(cells[row-1][col])
		if val == "" || len([]rune(val)) > maxHeaderCellLen {
			continue
		}
		if _, dup := seen[val]; dup {
			continue
		}
		seen[val] = struct{}{}
		parts = append(parts, val)
	}

	if len(parts) == 0 {
		return fmt.Sprintf("Column_%d", col+1)
	}
	return strings.Join(parts, "-")
}

func headerCellValues(cells [][]string, headerRows []int, col int) []string {
	var values []string
	for _, row := range headerRows {
		if row >= 1 && row <= len(cells) && col < len(cells[row-1]) {
			if v := strings.TrimSpace(cells[row-1][col]); v != "" {
				values = append(values, v)
			}
		}
	}
	return values
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func allDefaultColumns(columns []string) bool {
	for _, col := range columns {
		if !strings.HasPrefix(col, "Column_") {
			return false
		}
	}
	return true
}

// mergeInfoJSON renders the workbook's merged-range metadata for the
// analyzer prompt.
func mergeInfoJSON(wb *sheets.RawWorkbook) string {
	info := make(map[string][]sheets.MergedRange, len(wb.Sheets))
	for _, sheet := range wb.Sheets {
		info[sheet.Name] = sheet.Merges
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
