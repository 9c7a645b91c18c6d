package models

import "time"

// SpreadsheetFile identifies a workbook in the configured sheets
// directory. Name is the path relative to that directory; the file itself
// is read-only source data and is never modified.
type SpreadsheetFile struct {
	Name        string
	Path        string
	Size        int64
	ModTime     time.Time
	Fingerprint string
}

// FileSummary is the knowledge-base entry for one spreadsheet. It is
// valid only while Fingerprint matches the file's current fingerprint.
type FileSummary struct {
	FileName    string
	Fingerprint string
	Summary     string
	Keywords    []string
	SheetNames  []string
	ColumnCount int
	RowCount    int
	UpdatedAt   time.Time
}

// ColumnProvenance maps a reconstructed output column back to the region
// of the original sheet it was derived from.
type ColumnProvenance struct {
	Column       string   `json:"column"`
	SheetName    string   `json:"sheet_name"`
	ColumnLetter string   `json:"column_letter"`
	HeaderRows   []int    `json:"header_rows"`
	SourceLabels []string `json:"source_labels,omitempty"`
}

// ReconstructedTable is the cleaned rectangular form of an irregular
// workbook, keyed by (FileName, Fingerprint). Immutable once created.
type ReconstructedTable struct {
	FileName    string
	Fingerprint string
	SheetName   string
	Columns     []string
	Rows        [][]string
	Provenance  []ColumnProvenance
	CreatedAt   time.Time
}

// ProvenanceFor returns the provenance entry for an output column, if
// one was recorded.
func (t *ReconstructedTable) ProvenanceFor(column string) (ColumnProvenance, bool) {
	for _, p := range t.Provenance {
		if p.Column == column {
			return p, true
		}
	}
	return ColumnProvenance{}, false
}

// AnalysisRecord is the persisted history entry for one pipeline run.
type AnalysisRecord struct {
	ID          string    `json:"id"`
	Question    string    `json:"question"`
	FileName    string    `json:"file_name"`
	Code        string    `json:"code"`
	Output      string    `json:"output"`
	ErrorText   string    `json:"error"`
	Success     bool      `json:"success"`
	ColumnsUsed []string  `json:"columns_used"`
	GraphFiles  []string  `json:"graph_files"`
	LatencyMS   int       `json:"latency_ms"`
	CreatedAt   time.Time `json:"created_at"`
}
