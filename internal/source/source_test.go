package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/tenderscan/internal/tender"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenders.yaml")
	writeFile(t, path, `
tenders:
  - id: 101
    registry_type: 44fz
    documents:
      - {name: smeta.xlsx, url: "https://example.test/smeta.xlsx", size: 52000}
  - id: 7
    registry_type: 223fz
    index_url: "https://example.test/7/"
  - id: 101
    registry_type: 44fz
  - id: 0
    registry_type: 44fz
`)

	tenders, err := LoadManifest(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry 3: duplicate tender 44fz_101")
	assert.Contains(t, err.Error(), "entry 4")

	require.Len(t, tenders, 2)
	assert.Equal(t, tender.Ref{ID: 101, Registry: tender.Registry44}, tenders[0].Ref)
	require.Len(t, tenders[0].Documents, 1)
	assert.Equal(t, int64(52000), tenders[0].Documents[0].Size)
	assert.Equal(t, "223fz_7", tenders[1].String())
	assert.Equal(t, "https://example.test/7/", tenders[1].IndexURL)
}

func TestScanLocal(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "44fz_12", "smeta.xlsx"), "x")
	writeFile(t, filepath.Join(root, "44fz_12", "nested", "b.csv"), "a;b")
	writeFile(t, filepath.Join(root, "223fz_3", "docs.rar"), "Rar!")
	writeFile(t, filepath.Join(root, "misc", "ignored.xlsx"), "x")
	writeFile(t, filepath.Join(root, "44fz_99.txt"), "not a folder")

	tenders, err := ScanLocal(root)
	require.NoError(t, err)
	require.Len(t, tenders, 2)

	assert.Equal(t, "223fz_3", tenders[0].String())
	assert.Equal(t, filepath.Join(root, "223fz_3"), tenders[0].LocalDir)
	assert.Equal(t, "44fz_12", tenders[1].String())
	require.Len(t, tenders[1].Documents, 2)
	names := []string{tenders[1].Documents[0].Name, tenders[1].Documents[1].Name}
	assert.ElementsMatch(t, []string{"smeta.xlsx", "b.csv"}, names)
}

func TestLoadList(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		content string
		want    []string
		wantErr string
	}{
		{
			name:    "text lines",
			file:    "catalog.txt",
			content: "\ufeff# products\nГидроизоляция\n\n  Кабель ВВГнг 3x2.5  \n",
			want:    []string{"Гидроизоляция", "Кабель ВВГнг 3x2.5"},
		},
		{
			name:    "yaml sequence",
			file:    "bare.yaml",
			content: "- Профнастил\n- Утеплитель\n",
			want:    []string{"Профнастил", "Утеплитель"},
		},
		{
			name:    "yaml mapping with named items",
			file:    "keyed.yml",
			content: "products:\n  - name: Профнастил\n  - Утеплитель\n",
			want:    []string{"Профнастил", "Утеплитель"},
		},
		{
			name:    "missing key",
			file:    "other.yaml",
			content: "items: [a]\n",
			wantErr: `missing "products" key`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			writeFile(t, path, tt.content)
			got, err := LoadList(path, "products")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadCatalogRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")
	writeFile(t, path, "# nothing here\n")
	_, err := LoadCatalog(path)
	assert.ErrorContains(t, err, "is empty")

	phrases, err := LoadStopPhrases("")
	require.NoError(t, err)
	assert.Nil(t, phrases)
}

func TestSelectDocuments(t *testing.T) {
	docs := []Document{
		{Name: "report.pdf", URL: "u1"},
		{Name: "b.part2.rar", URL: "u2"},
		{Name: "a.xls", URL: "u3"},
		{Name: "B.part1.rar", URL: "u4"},
		{Name: "c.xlsx", URL: "u5"},
		{Name: "c.xlsx", URL: "u5"},
		{URL: "https://example.test/download?id=5"},
		{Name: "data.csv", URL: "u6"},
		{},
	}

	got := SelectDocuments(docs)
	var names []string
	for _, d := range got {
		names = append(names, d.FileName())
	}
	assert.Equal(t, []string{"c.xlsx", "a.xls", "B.part1.rar", "b.part2.rar", "data.csv", "download"}, names)
	assert.Equal(t, int64(0), TotalSize(got))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "смета.xlsx", Document{URL: "https://example.test/files/%D1%81%D0%BC%D0%B5%D1%82%D0%B0.xlsx"}.FileName())
	assert.Equal(t, "x.xls", Document{Path: "/tmp/44fz_1/x.xls"}.FileName())
	assert.Equal(t, "given.csv", Document{Name: "given.csv", URL: "https://example.test/other"}.FileName())
}
