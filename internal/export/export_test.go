package export

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/brensch/tenderscan/internal/db"
	"github.com/brensch/tenderscan/internal/store"
	"github.com/brensch/tenderscan/internal/tender"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func readDetails(t *testing.T, path string) []DetailRecord {
	t.Helper()
	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(DetailRecord), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	out := make([]DetailRecord, pr.GetNumRows())
	require.NoError(t, pr.Read(&out))
	return out
}

func TestDetailsFromStore(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "results.db"), discard)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	save := func(id int64, pct float64, details ...store.MatchDetail) {
		t.Helper()
		mid, err := s.SaveResult(ctx, store.Result{
			Key:             tender.Ref{ID: id, Registry: tender.Registry44},
			MatchCount:      len(details),
			MatchPercentage: pct,
			WorkerID:        "w1",
		})
		require.NoError(t, err)
		require.NoError(t, s.ReplaceDetails(ctx, mid, details))
	}
	save(1, 100,
		store.MatchDetail{ProductName: "Гидроизоляция", Score: 100, SheetName: "Лист1", RowIndex: 4, ColumnLetter: "B", CellAddress: "Лист1!B4", SourceFile: "a.xlsx", MatchedKeywords: `["гидроизоляция"]`},
		store.MatchDetail{ProductName: "Кабель ВВГнг", Score: 86.5, SheetName: "Лист1", RowIndex: 9, ColumnLetter: "C", CellAddress: "Лист1!C9", SourceFile: "a.xlsx", MatchedKeywords: `["кабель"]`},
	)
	save(2, 0,
		store.MatchDetail{ProductName: "Труба стальная", Score: 60, SourceFile: "b.xls", MatchedKeywords: `["труба"]`},
	)

	dir := t.TempDir()
	path, n, err := Details(ctx, s, dir, false, discard)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, filepath.Join(dir, DetailsFile), path)

	recs := readDetails(t, path)
	require.Len(t, recs, 3)
	assert.Equal(t, "44fz_1", recs[0].Tender)
	assert.Equal(t, "Гидроизоляция", recs[0].ProductName)
	assert.Equal(t, int32(4), recs[0].RowIndex)
	assert.True(t, recs[0].IsInteresting)
	assert.Equal(t, "Кабель ВВГнг", recs[1].ProductName)
	assert.Equal(t, "44fz_2", recs[2].Tender)
	assert.False(t, recs[2].IsInteresting)

	_, n, err = Details(ctx, s, t.TempDir(), true, discard)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestWriteDetailsRemovesFileOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", DetailsFile)
	boom := errors.New("query failed")
	rows := iter.Seq2[store.DetailRow, error](func(yield func(store.DetailRow, error) bool) {
		if !yield(store.DetailRow{TenderID: 1, RegistryType: "44fz", ProductName: "x", CreatedAt: time.Now()}, nil) {
			return
		}
		yield(store.DetailRow{}, boom)
	})

	n, err := WriteDetails(path, rows, discard)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestJournal(t *testing.T) {
	ctx := context.Background()
	conn, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.InitializeSchema(conn))
	require.NoError(t, db.LogTenderEvent(ctx, conn, db.Event{Tender: "44fz_1", Event: db.EventAcquired, WorkerID: "w1"}))
	require.NoError(t, db.LogTenderEvent(ctx, conn, db.Event{Tender: "44fz_1", Event: db.EventPersisted, Message: "2 matches"}))

	path, err := Journal(ctx, conn, t.TempDir(), discard)
	require.NoError(t, err)

	var count int
	require.NoError(t, conn.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM read_parquet('%s')", filepath.ToSlash(path))).Scan(&count))
	assert.Equal(t, 2, count)
}
