package sheets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sheet-agent/backend/internal/storage/models"
	"github.com/sheet-agent/backend/pkg/utils"
)

// Scanner enumerates spreadsheet files in the configured directory.
// The directory is treated as read-only source data.
type Scanner struct {
	dir string
}

func NewScanner(dir string) *Scanner {
	return &Scanner{dir: dir}
}

func (s *Scanner) Dir() string {
	return s.dir
}

// ListFiles returns every workbook in the sheets directory, sorted by
// name, with current fingerprints. A missing directory is reported as an
// empty listing rather than an error.
func (s *Scanner) ListFiles() ([]models.SpreadsheetFile, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sheets directory: %w", err)
	}

	var files []models.SpreadsheetFile
	for _, entry := range entries {
		if entry.IsDir() || !isSpreadsheet(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", entry.Name(), err)
		}

		files = append(files, models.SpreadsheetFile{
			Name:        entry.Name(),
			Path:        filepath.Join(s.dir, entry.Name()),
			Size:        info.Size(),
			ModTime:     info.ModTime(),
			Fingerprint: utils.Fingerprint(info.Size(), info.ModTime()),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Stat refreshes the fingerprint of a single workbook by name.
func (s *Scanner) Stat(name string) (*models.SpreadsheetFile, error) {
	path := filepath.Join(s.dir, filepath.Base(name))
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", name, err)
	}

	return &models.SpreadsheetFile{
		Name:        filepath.Base(name),
		Path:        path,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		Fingerprint: utils.Fingerprint(info.Size(), info.ModTime()),
	}, nil
}

func isSpreadsheet(name string) bool {
	if strings.HasPrefix(name, "~$") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm", ".xls":
		return true
	}
	return false
}
