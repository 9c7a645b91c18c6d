package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sheet-agent/backend/internal/storage/models"
)

func TestStripCodeFences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare code", "print('hi')", "print('hi')"},
		{"python fence", "```python\nprint('hi')\n```", "print('hi')"},
		{"plain fence", "```\nprint('hi')\n```", "print('hi')"},
		{"leading whitespace", "  ```python\nprint('hi')\n```  ", "print('hi')"},
		{"no closing fence", "```python\nprint('hi')", "print('hi')"},
		{"empty", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StripCodeFences(tc.in))
		})
	}
}

func TestStripFencesJSON(t *testing.T) {
	in := "```json\n{\"file_name\": \"sales.xlsx\"}\n```"
	assert.Equal(t, `{"file_name": "sales.xlsx"}`, stripFences(in))
}

func TestBuildCodegenPromptIncludesSchema(t *testing.T) {
	table := &models.ReconstructedTable{
		FileName:  "sales.xlsx",
		SheetName: "Sheet1",
		Columns:   []string{"Region", "Revenue"},
		Rows: [][]string{
			{"West", "100"},
			{"East", "200"},
		},
	}

	prompt := buildCodegenPrompt("total revenue by region", table)

	assert.Contains(t, prompt, "total revenue by region")
	assert.Contains(t, prompt, "File: sales.xlsx")
	assert.Contains(t, prompt, "- Region")
	assert.Contains(t, prompt, "- Revenue")
	assert.Contains(t, prompt, "Row 1: Region: West, Revenue: 100")
}

func TestBuildCodegenPromptCapsSampleRows(t *testing.T) {
	rows := make([][]string, 20)
	for i := range rows {
		rows[i] = []string{"x"}
	}
	table := &models.ReconstructedTable{
		FileName: "big.xlsx",
		Columns:  []string{"Col"},
		Rows:     rows,
	}

	prompt := buildCodegenPrompt("anything", table)
	assert.Equal(t, 5, strings.Count(prompt, "Row "))
	assert.Contains(t, prompt, "Total rows: 20")
}
