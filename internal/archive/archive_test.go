package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/tenderscan/internal/apperr"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParsePart(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		ext      string
		part     int
		numbered bool
		ok       bool
	}{
		{"docs.part1.rar", "docs", "rar", 1, false, true},
		{"Docs.PART02.RAR", "Docs", "rar", 2, false, true},
		{"docs_part3.zip", "docs", "zip", 3, false, true},
		{"docs.7z.001", "docs", "7z", 1, true, true},
		{"docs.zip.002", "docs", "zip", 2, true, true},
		{"docs.rar", "docs", "rar", 0, false, true},
		{"apart3.zip", "apart3", "zip", 0, false, true},
		{"smeta.xlsx", "", "", 0, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, ext, part, numbered, ok := ParsePart(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.base, base)
			assert.Equal(t, tt.ext, ext)
			assert.Equal(t, tt.part, part)
			assert.Equal(t, tt.numbered, numbered)
		})
	}
}

func TestGroupPartsSortsVolumes(t *testing.T) {
	groups, rest := GroupParts([]string{
		"/w/docs.part3.rar",
		"/w/smeta.xlsx",
		"/w/docs.part1.rar",
		"/w/DOCS.part2.rar",
		"/w/other.zip",
	})
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"/w/smeta.xlsx"}, rest)
	assert.Equal(t, []string{"/w/docs.part1.rar", "/w/DOCS.part2.rar", "/w/docs.part3.rar"}, groups[0].Paths())
	assert.True(t, groups[0].Multi())
	assert.NoError(t, groups[0].Validate())
	assert.False(t, groups[1].Multi())
}

func TestValidateMissingPart(t *testing.T) {
	groups, _ := GroupParts([]string{"/w/docs.part1.rar", "/w/docs.part3.rar"})
	require.Len(t, groups, 1)
	err := groups[0].Validate()
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindArchiveCorrupt))
	assert.Contains(t, err.Error(), "part 2 missing")
}

// fakeRunner records invocations and writes files into the destination the
// tool was asked to extract to.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	files map[string]string
	code  int
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (int, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	var dest string
	for _, a := range args {
		if strings.HasPrefix(a, "-o") && len(a) > 2 && a != "-o+" {
			dest = a[2:]
		}
	}
	if dest == "" {
		dest = args[len(args)-1]
	}
	for name, body := range f.files {
		p := filepath.Join(dest, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return -1, nil, err
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			return -1, nil, err
		}
	}
	return f.code, []byte("done"), nil
}

func touch(t *testing.T, path string, body []byte) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, body, 0o644))
	return path
}

var rarMagic = []byte("Rar!\x1a\x07\x01\x00")

func TestCollectMultiVolumeRarOpensFirstPart(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	p3 := touch(t, filepath.Join(in, "docs.part3.rar"), rarMagic)
	p1 := touch(t, filepath.Join(in, "docs.part1.rar"), rarMagic)
	p2 := touch(t, filepath.Join(in, "docs.part2.rar"), rarMagic)

	runner := &fakeRunner{files: map[string]string{"ведомость.xlsx": "rows", "readme.txt": "x"}}
	e := New(discardLogger(), Options{Runner: runner.Run})

	docs, failures, err := e.Collect(context.Background(), []string{p3, p2, p1}, filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Empty(t, failures)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "unrar", runner.calls[0][0])
	assert.Contains(t, runner.calls[0], p1)
	require.Len(t, docs, 1)
	assert.Equal(t, "ведомость.xlsx", filepath.Base(docs[0]))
}

func TestCollectMissingVolumeIsFailure(t *testing.T) {
	dir := t.TempDir()
	p1 := touch(t, filepath.Join(dir, "docs.part1.rar"), rarMagic)
	p3 := touch(t, filepath.Join(dir, "docs.part3.rar"), rarMagic)
	plain := touch(t, filepath.Join(dir, "smeta.csv"), []byte("a;b\n1;2\n"))

	runner := &fakeRunner{}
	e := New(discardLogger(), Options{Runner: runner.Run})
	docs, failures, err := e.Collect(context.Background(), []string{p1, p3, plain}, filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Equal(t, []string{plain}, docs)
	require.Len(t, failures, 1)
	assert.True(t, apperr.Is(failures[0].Err, apperr.KindArchiveCorrupt))
	assert.Empty(t, runner.calls)
}

func TestUnrarExitCodes(t *testing.T) {
	dir := t.TempDir()
	p := touch(t, filepath.Join(dir, "a.rar"), rarMagic)

	warn := &fakeRunner{code: 1, files: map[string]string{"a.xls": "x"}}
	docs, failures, err := New(discardLogger(), Options{Runner: warn.Run}).Collect(context.Background(), []string{p}, filepath.Join(dir, "w"))
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Len(t, docs, 1)

	corrupt := &fakeRunner{code: 3}
	_, failures, err = New(discardLogger(), Options{Runner: corrupt.Run}).Collect(context.Background(), []string{p}, filepath.Join(dir, "c"))
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, apperr.FileErrorOpen, apperr.FileErrorType(failures[0].Err))
}

func TestMissingToolAbortsBatch(t *testing.T) {
	dir := t.TempDir()
	p := touch(t, filepath.Join(dir, "a.rar"), rarMagic)
	e := New(discardLogger(), Options{Unrar: "definitely-not-unrar-" + t.Name()})
	_, _, err := e.Collect(context.Background(), []string{p}, filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))
}

func buildZip(t *testing.T, entries map[string]string, nonUTF8 bool) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, NonUTF8: nonUTF8})
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestCollectSplitZipConcatenatesInOrder(t *testing.T) {
	dir := t.TempDir()
	whole := buildZip(t, map[string]string{"lot1/smeta.xlsx": strings.Repeat("x", 4000)}, false)
	third := len(whole) / 3
	chunks := [][]byte{whole[:third], whole[third : 2*third], whole[2*third:]}

	p2 := touch(t, filepath.Join(dir, "in", "docs.zip.002"), chunks[1])
	p3 := touch(t, filepath.Join(dir, "in", "docs.zip.003"), chunks[2])
	p1 := touch(t, filepath.Join(dir, "in", "docs.zip.001"), chunks[0])

	e := New(discardLogger(), Options{Runner: (&fakeRunner{}).Run})
	docs, failures, err := e.Collect(context.Background(), []string{p3, p1, p2}, filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Empty(t, failures)
	require.Len(t, docs, 1)
	assert.Equal(t, "smeta.xlsx", filepath.Base(docs[0]))

	combined, err := os.ReadFile(filepath.Join(dir, "out", "docs_combined.zip"))
	require.NoError(t, err)
	assert.Equal(t, whole, combined)
}

func TestZipCP866Names(t *testing.T) {
	dir := t.TempDir()
	// "смета.xls" in CP866.
	name := string([]byte{0xe1, 0xac, 0xa5, 0xe2, 0xa0}) + ".xls"
	p := touch(t, filepath.Join(dir, "docs.zip"), buildZip(t, map[string]string{name: "data"}, true))

	e := New(discardLogger(), Options{})
	docs, _, err := e.Collect(context.Background(), []string{p}, filepath.Join(dir, "out"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "смета.xls", filepath.Base(docs[0]))
}

func TestZipSlipRejected(t *testing.T) {
	dir := t.TempDir()
	p := touch(t, filepath.Join(dir, "evil.zip"), buildZip(t, map[string]string{
		"../../escaped.xlsx": "bad",
		"ok.csv":             "a;b",
	}, false))

	e := New(discardLogger(), Options{})
	docs, failures, err := e.Collect(context.Background(), []string{p}, filepath.Join(dir, "out"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "ok.csv", filepath.Base(docs[0]))
	require.Len(t, failures, 1)
	assert.Equal(t, p+"!../../escaped.xlsx", failures[0].Path)
	assert.True(t, apperr.Is(failures[0].Err, apperr.KindArchiveCorrupt))
	_, statErr := os.Stat(filepath.Join(dir, "escaped.xlsx"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestZipCorruptEntryIsFailure(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{"good.xlsx": "good workbook bytes", "bad.xlsx": "bad workbook bytes"} {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	raw := buf.Bytes()
	i := bytes.Index(raw, []byte("bad workbook bytes"))
	require.GreaterOrEqual(t, i, 0)
	raw[i] ^= 0xff // stored bytes no longer match the CRC
	p := touch(t, filepath.Join(dir, "docs.zip"), raw)

	e := New(discardLogger(), Options{})
	docs, failures, err := e.Collect(context.Background(), []string{p}, filepath.Join(dir, "out"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "good.xlsx", filepath.Base(docs[0]))
	require.Len(t, failures, 1)
	assert.Equal(t, p+"!bad.xlsx", failures[0].Path)
	assert.ErrorIs(t, failures[0].Err, zip.ErrChecksum)
	_, statErr := os.Stat(filepath.Join(filepath.Dir(docs[0]), "bad.xlsx"))
	assert.True(t, os.IsNotExist(statErr), "partial entry is removed")
}

func TestNestedArchives(t *testing.T) {
	dir := t.TempDir()
	inner := buildZip(t, map[string]string{"inner.xlsx": "data"}, false)
	outer := buildZip(t, map[string]string{"inner.zip": string(inner), "notes.pdf": "%PDF"}, false)
	p := touch(t, filepath.Join(dir, "outer.zip"), outer)

	docs, failures, err := New(discardLogger(), Options{}).Collect(context.Background(), []string{p}, filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Empty(t, failures)
	require.Len(t, docs, 1)
	assert.Equal(t, "inner.xlsx", filepath.Base(docs[0]))

	e := New(discardLogger(), Options{MaxDepth: 1})
	docs, failures, err = e.Collect(context.Background(), []string{p}, filepath.Join(dir, "shallow"))
	require.NoError(t, err)
	assert.Empty(t, docs)
	require.Len(t, failures, 1)
}

func TestDisguisedArchive(t *testing.T) {
	dir := t.TempDir()
	fake := touch(t, filepath.Join(dir, "smeta.xlsx"), buildZip(t, map[string]string{"real.xls": "data"}, false))
	kind, ok := IsDisguisedArchive(fake)
	assert.True(t, ok)
	assert.Equal(t, KindZip, kind)

	workbook := touch(t, filepath.Join(dir, "book.xlsx"), buildZip(t, map[string]string{
		"[Content_Types].xml": "<Types/>",
		"xl/workbook.xml":     "<workbook/>",
	}, false))
	_, ok = IsDisguisedArchive(workbook)
	assert.False(t, ok)

	docs, _, err := New(discardLogger(), Options{}).Collect(context.Background(), []string{fake, workbook}, filepath.Join(dir, "out"))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	names := []string{filepath.Base(docs[0]), filepath.Base(docs[1])}
	assert.ElementsMatch(t, []string{"book.xlsx", "real.xls"}, names)
}
