package fetcher

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestZIP(t *testing.T, files map[string]string) string {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "test.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	w := zip.NewWriter(f)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return zipPath
}

func TestExtractZIP_Shapefile(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"nyct2020/nyct2020.shp": "shp",
		"nyct2020/nyct2020.DBF": "dbf",
		"nyct2020/nyct2020.prj": "prj",
	})

	destDir := t.TempDir()
	extracted, err := ExtractZIP(zipPath, destDir)
	require.NoError(t, err)
	assert.Len(t, extracted, 3)

	shp := FindByExt(extracted, ".shp")
	require.NotEmpty(t, shp)
	data, err := os.ReadFile(shp)
	require.NoError(t, err)
	assert.Equal(t, "shp", string(data))

	assert.NotEmpty(t, FindByExt(extracted, ".dbf"))
	assert.Empty(t, FindByExt(extracted, ".cpg"))
}

func TestExtractZIP_ZipSlipPrevention(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{"../../evil.txt": "x"})
	_, err := ExtractZIP(zipPath, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zip slip")
}

func TestExtractZIP_InvalidArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))
	_, err := ExtractZIP(path, t.TempDir())
	assert.Error(t, err)
}

func TestExtractZIP_FiltersByExtension(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"tl_2023_36_tract.shp":            "shp",
		"tl_2023_36_tract.dbf":            "dbf",
		"tl_2023_36_tract.shp.iso.xml":    "xml",
		"__MACOSX/._tl_2023_36_tract.shp": "fork",
	})

	extracted, err := ExtractZIP(zipPath, t.TempDir(), ".shp", ".dbf")
	require.NoError(t, err)
	assert.Len(t, extracted, 2)
	assert.Empty(t, FindByExt(extracted, ".xml"))
}

func TestWanted(t *testing.T) {
	assert.True(t, wanted("a/b.shp", nil))
	assert.False(t, wanted("__MACOSX/a/b.shp", nil))
	assert.False(t, wanted("a/._b.shp", nil))
	assert.True(t, wanted("B.SHP", []string{".shp"}))
	assert.False(t, wanted("b.xml", []string{".shp"}))
}
