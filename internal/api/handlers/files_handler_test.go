package handlers

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheet-agent/backend/internal/sheets"
	"github.com/sheet-agent/backend/internal/storage/models"
)

type stubStore struct {
	summaries map[string]models.FileSummary
}

func (s *stubStore) GetSummary(fileName string) (*models.FileSummary, error) {
	sum, ok := s.summaries[fileName]
	if !ok {
		return nil, nil
	}
	return &sum, nil
}

func (s *stubStore) UpsertSummary(sum *models.FileSummary) error {
	s.summaries[sum.FileName] = *sum
	return nil
}

func (s *stubStore) ListSummaries() ([]models.FileSummary, error) { return nil, nil }
func (s *stubStore) DeleteSummary(fileName string) error          { return nil }

func TestListFilesReportsFreshness(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sales.xlsx"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.xlsx"), []byte("y"), 0o644))
	scanner := sheets.NewScanner(dir)

	current, err := scanner.Stat("sales.xlsx")
	require.NoError(t, err)

	store := &stubStore{summaries: map[string]models.FileSummary{
		"sales.xlsx": {
			FileName:    "sales.xlsx",
			Fingerprint: current.Fingerprint,
			Summary:     "quarterly revenue",
			SheetNames:  []string{"Sheet1"},
			UpdatedAt:   time.Now(),
		},
	}}

	app := fiber.New()
	app.Get("/api/v1/files", NewFilesHandler(scanner, store).ListFiles)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/files", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded struct {
		Files []struct {
			Name    string `json:"name"`
			Summary string `json:"summary"`
			Fresh   bool   `json:"summary_fresh"`
		} `json:"files"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Len(t, decoded.Files, 2)

	// Sorted by name: new.xlsx first, no summary yet.
	assert.Equal(t, "new.xlsx", decoded.Files[0].Name)
	assert.False(t, decoded.Files[0].Fresh)
	assert.Empty(t, decoded.Files[0].Summary)

	assert.Equal(t, "sales.xlsx", decoded.Files[1].Name)
	assert.True(t, decoded.Files[1].Fresh)
	assert.Equal(t, "quarterly revenue", decoded.Files[1].Summary)
}

func TestListFilesEmptyDirectory(t *testing.T) {
	app := fiber.New()
	scanner := sheets.NewScanner(filepath.Join(t.TempDir(), "missing"))
	app.Get("/api/v1/files", NewFilesHandler(scanner, &stubStore{}).ListFiles)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/files", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded struct {
		Files []interface{} `json:"files"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Empty(t, decoded.Files)
}
