package trace

import (
	"regexp"
	"sort"
	"strings"

	"github.com/sheet-agent/backend/internal/storage/models"
)

var (
	subscriptPattern  = regexp.MustCompile(`\[['"]([^'"]+)['"]\]`)
	columnListPattern = regexp.MustCompile(`\w+\[\[([^\]]+)\]\]`)
	quotedPattern     = regexp.MustCompile(`['"]([^'"]+)['"]`)
	groupByPattern    = regexp.MustCompile(`\.groupby\(\[?['"]([^'"]+)['"]`)
	sortValuesPattern = regexp.MustCompile(`sort_values\([^)]*by\s*=\s*\[?['"]([^'"]+)['"]`)
	identPattern      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Extract statically scans generated analysis code for references to
// the table's columns and returns the matched column names, sorted.
// The scan is purely textual so a truncated or garbled snippet yields a
// subset instead of an error.
func Extract(code string, table *models.ReconstructedTable) []string {
	if code == "" || table == nil || len(table.Columns) == 0 {
		return nil
	}

	known := make(map[string]string, len(table.Columns))
	for _, col := range table.Columns {
		known[normalize(col)] = col
	}

	found := make(map[string]struct{})
	match := func(candidate string) {
		if col, ok := known[normalize(candidate)]; ok {
			found[col] = struct{}{}
		}
	}

	for _, m := range subscriptPattern.FindAllStringSubmatch(code, -1) {
		match(m[1])
	}
	for _, m := range columnListPattern.FindAllStringSubmatch(code, -1) {
		for _, inner := range quotedPattern.FindAllStringSubmatch(m[1], -1) {
			match(inner[1])
		}
	}
	for _, m := range groupByPattern.FindAllStringSubmatch(code, -1) {
		match(m[1])
	}
	for _, m := range sortValuesPattern.FindAllStringSubmatch(code, -1) {
		match(m[1])
	}

	// Attribute access (df.revenue) only works for identifier-shaped
	// column names.
	for _, col := range table.Columns {
		if _, already := found[col]; already {
			continue
		}
		if !identPattern.MatchString(col) {
			continue
		}
		attrPattern := regexp.MustCompile(`\b\w+\.` + regexp.QuoteMeta(col) + `\b`)
		if attrPattern.MatchString(code) {
			found[col] = struct{}{}
		}
	}

	columns := make([]string, 0, len(found))
	for col := range found {
		columns = append(columns, col)
	}
	sort.Strings(columns)
	return columns
}

// Provenance maps traced output columns back to their original-sheet
// regions so the report speaks in terms of the source file.
func Provenance(table *models.ReconstructedTable, columns []string) []models.ColumnProvenance {
	result := make([]models.ColumnProvenance, 0, len(columns))
	for _, col := range columns {
		if p, ok := table.ProvenanceFor(col); ok {
			result = append(result, p)
		} else {
			result = append(result, models.ColumnProvenance{Column: col, SheetName: table.SheetName})
		}
	}
	return result
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
