package sheets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("content"), 0o644))
}

func TestListFilesFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "zebra.xlsx")
	writeFile(t, dir, "alpha.XLSX")
	writeFile(t, dir, "macro.xlsm")
	writeFile(t, dir, "notes.txt")
	writeFile(t, dir, "~$alpha.xlsx")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.xlsx"), 0o755))

	files, err := NewScanner(dir).ListFiles()
	require.NoError(t, err)

	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"alpha.XLSX", "macro.xlsm", "zebra.xlsx"}, names)
}

func TestListFilesMissingDirectory(t *testing.T) {
	files, err := NewScanner(filepath.Join(t.TempDir(), "nope")).ListFiles()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestListFilesAssignsFingerprints(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sales.xlsx")

	files, err := NewScanner(dir).ListFiles()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.NotEmpty(t, files[0].Fingerprint)
	assert.Equal(t, filepath.Join(dir, "sales.xlsx"), files[0].Path)
}

func TestStatMatchesListFingerprint(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sales.xlsx")
	scanner := NewScanner(dir)

	files, err := scanner.ListFiles()
	require.NoError(t, err)

	single, err := scanner.Stat("sales.xlsx")
	require.NoError(t, err)
	assert.Equal(t, files[0].Fingerprint, single.Fingerprint)
}

func TestStatStripsPathComponents(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sales.xlsx")

	got, err := NewScanner(dir).Stat("../../../sales.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "sales.xlsx", got.Name)
}

func TestStatMissingFile(t *testing.T) {
	_, err := NewScanner(t.TempDir()).Stat("missing.xlsx")
	assert.Error(t, err)
}
