package downloader

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/tenderscan/internal/apperr"
	"github.com/brensch/tenderscan/internal/source"
	"github.com/brensch/tenderscan/internal/tender"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/files/smeta.xlsx", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("PK\x03\x04workbook"))
	})
	mux.HandleFunc("/files/gone.xls", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	mux.HandleFunc("/files/busy.csv", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})
	mux.HandleFunc("/files/slow.xlsx", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})
	mux.HandleFunc("/index/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
<a href="../files/smeta.xlsx">smeta.xlsx</a>
<a href="/download?id=9">Ведомость.xls</a>
<a href="/files/smeta.xlsx">duplicate</a>
<a href="/files/readme.pdf">readme.pdf</a>
<a href="/contacts">Contacts</a>
</body></html>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloadSkipsMissingDocuments(t *testing.T) {
	srv := newServer(t)
	d := New(testLogger(), Options{UserAgent: "test-agent"})
	dir := filepath.Join(t.TempDir(), "44fz_1")

	res, err := d.Download(context.Background(), source.Tender{
		Ref: tender.Ref{ID: 1, Registry: tender.Registry44},
		Documents: []source.Document{
			{Name: "gone.xls", URL: srv.URL + "/files/gone.xls"},
			{Name: "smeta.xlsx", URL: srv.URL + "/files/smeta.xlsx"},
			{Name: "scan.pdf", URL: srv.URL + "/files/scan.pdf"},
		},
	}, dir)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "smeta.xlsx")}, res.Paths)
	assert.Equal(t, int64(12), res.Bytes)
	require.Len(t, res.Missing, 1)
	assert.Equal(t, "gone.xls", res.Missing[0].Document.Name)

	_, err = os.Stat(filepath.Join(dir, "gone.xls.part"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "partial file is removed")
}

func TestDownloadClassifiesFailures(t *testing.T) {
	srv := newServer(t)
	d := New(testLogger(), Options{})
	ref := tender.Ref{ID: 2, Registry: tender.Registry223}

	_, err := d.Download(context.Background(), source.Tender{Ref: ref, Documents: []source.Document{
		{Name: "gone.xls", URL: srv.URL + "/files/gone.xls"},
	}}, t.TempDir())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = d.Download(context.Background(), source.Tender{Ref: ref, Documents: []source.Document{
		{Name: "smeta.xlsx", URL: srv.URL + "/files/smeta.xlsx"},
		{Name: "busy.csv", URL: srv.URL + "/files/busy.csv"},
	}}, t.TempDir())
	assert.True(t, apperr.IsRetryable(err))

	slow := New(testLogger(), Options{Timeouts: TimeoutCalculator{Min: 50 * time.Millisecond, Max: 50 * time.Millisecond}})
	_, err = slow.Download(context.Background(), source.Tender{Ref: ref, Documents: []source.Document{
		{Name: "slow.xlsx", URL: srv.URL + "/files/slow.xlsx", Size: 10},
	}}, t.TempDir())
	require.Error(t, err)
	assert.True(t, apperr.IsRetryable(err))
	assert.Contains(t, err.Error(), "timed out")
}

func TestDownloadNoRelevantDocuments(t *testing.T) {
	d := New(testLogger(), Options{})
	res, err := d.Download(context.Background(), source.Tender{
		Ref:       tender.Ref{ID: 3, Registry: tender.Registry44},
		Documents: []source.Document{{Name: "scan.pdf", URL: "https://example.invalid/scan.pdf"}},
	}, t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, res.Paths)
}

func TestDownloadCopiesLocalFiles(t *testing.T) {
	src := filepath.Join(t.TempDir(), "Смета.xlsx")
	require.NoError(t, os.WriteFile(src, []byte("local"), 0o644))
	dir := t.TempDir()

	d := New(testLogger(), Options{})
	res, err := d.Download(context.Background(), source.Tender{
		Ref: tender.Ref{ID: 4, Registry: tender.Registry44},
		Documents: []source.Document{
			{Name: "Смета.xlsx", Path: src},
			{Name: "смета.xlsx", URL: "file://" + src},
		},
	}, dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "Смета.xlsx"),
		filepath.Join(dir, "смета (1).xlsx"),
	}, res.Paths)
}

func TestDownloadInPlace(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "smeta.xlsx")
	require.NoError(t, os.WriteFile(src, []byte("in place"), 0o644))

	d := New(testLogger(), Options{})
	res, err := d.Download(context.Background(), source.Tender{
		Ref:       tender.Ref{ID: 5, Registry: tender.Registry44},
		Documents: []source.Document{{Name: "smeta.xlsx", Path: src}},
	}, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{src}, res.Paths)
	raw, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, "in place", string(raw))
}

func TestDiscoverFromIndexPage(t *testing.T) {
	srv := newServer(t)
	d := New(testLogger(), Options{})
	docs, err := d.Discover(context.Background(), srv.URL+"/index/")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, srv.URL+"/files/smeta.xlsx", docs[0].URL)
	assert.Equal(t, "smeta.xlsx", docs[0].FileName())
	assert.Equal(t, srv.URL+"/download?id=9", docs[1].URL)
	assert.Equal(t, "Ведомость.xls", docs[1].Name)
}

type fakeSpeed struct {
	speed float64
	ok    bool
}

func (f fakeSpeed) AverageThroughput(context.Context, int64) (float64, bool, error) {
	return f.speed, f.ok, nil
}

type recordingSpeed struct {
	sizes []int64
}

func (r *recordingSpeed) AverageThroughput(_ context.Context, size int64) (float64, bool, error) {
	r.sizes = append(r.sizes, size)
	return 1000, true, nil
}

func TestDownloadLooksUpThroughputByTenderSize(t *testing.T) {
	src := t.TempDir()
	for _, name := range []string{"smeta.xlsx", "vedomost.xls"} {
		require.NoError(t, os.WriteFile(filepath.Join(src, name), []byte(name), 0o644))
	}
	speed := &recordingSpeed{}
	d := New(testLogger(), Options{Timeouts: TimeoutCalculator{Speed: speed}})

	_, err := d.Download(context.Background(), source.Tender{
		Ref: tender.Ref{ID: 6, Registry: tender.Registry44},
		Documents: []source.Document{
			{Name: "smeta.xlsx", Path: filepath.Join(src, "smeta.xlsx"), Size: 300_000},
			{Name: "vedomost.xls", Path: filepath.Join(src, "vedomost.xls"), Size: 200_000},
		},
	}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []int64{500_000}, speed.sizes, "one lookup for the whole tender")
}

func TestTimeoutCalculatorForTender(t *testing.T) {
	ctx := context.Background()
	c := TimeoutCalculator{Min: time.Second, Max: 3 * time.Hour, BytesPerSecond: 1000}

	resolved := c.ForTender(ctx, 1_000_000)
	assert.Equal(t, c, resolved, "no history source leaves the calculator as is")

	c.Speed = fakeSpeed{speed: 500, ok: true}
	resolved = c.ForTender(ctx, 1_000_000)
	assert.Nil(t, resolved.Speed)
	assert.Equal(t, 500*time.Second, resolved.Timeout(ctx, "a.xls", 100_000))

	c.Speed = fakeSpeed{ok: false}
	resolved = c.ForTender(ctx, 1_000_000)
	assert.Equal(t, 250*time.Second, resolved.Timeout(ctx, "a.xls", 100_000), "configured default without history")
}

func TestTimeoutCalculator(t *testing.T) {
	ctx := context.Background()
	c := TimeoutCalculator{Min: 2 * time.Minute, Max: 3 * time.Hour, BytesPerSecond: 1000}

	assert.Equal(t, time.Hour, c.Timeout(ctx, "a.xlsx", 0), "unknown size")
	assert.Equal(t, 2*time.Minute, c.Timeout(ctx, "a.xlsx", 1000), "clamped to min")
	assert.Equal(t, 3*time.Hour, c.Timeout(ctx, "a.tif", 10_000_000), "clamped to max")
	assert.Equal(t, 250*time.Second, c.Timeout(ctx, "a.XLSX", 100_000))
	assert.Equal(t, 300*time.Second, c.Timeout(ctx, "a.bin", 100_000))
	assert.Equal(t, 500*time.Second, c.Timeout(ctx, "scan.pdf", 100_000))

	c.Speed = fakeSpeed{speed: 500, ok: true}
	assert.Equal(t, 600*time.Second, c.Timeout(ctx, "a.rar", 100_000))
	c.Speed = fakeSpeed{ok: false}
	assert.Equal(t, 300*time.Second, c.Timeout(ctx, "a.rar", 100_000))
}
