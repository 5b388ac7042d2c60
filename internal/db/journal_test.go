package db

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openJournal(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, InitializeSchema(conn))
	require.NoError(t, InitializeSchema(conn), "schema setup is repeatable")
	return conn
}

func TestJournalRoundTrip(t *testing.T) {
	conn := openJournal(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	j := NewJournal(conn, slog.New(slog.NewTextHandler(io.Discard, nil)))
	j.Record(ctx, Event{Tender: "44fz_1", Event: EventAcquired, WorkerID: "w1", At: base})
	j.Record(ctx, Event{Tender: "44fz_1", Event: EventDownloadEnd, Duration: 1500 * time.Millisecond, At: base.Add(time.Second)})
	j.Record(ctx, Event{Tender: "44fz_1", Event: EventPersisted, Message: "2 matches", At: base.Add(2 * time.Second)})
	j.Record(ctx, Event{Tender: "223fz_2", Event: EventError, File: "a.xls", Message: "parse failed", At: base.Add(3 * time.Second)})

	event, ts, msg, found, err := GetLatestTenderEvent(ctx, conn, "44fz_1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, EventPersisted, event)
	assert.Equal(t, "2 matches", msg)
	assert.True(t, ts.Equal(base.Add(2*time.Second)))

	_, _, _, found, err = GetLatestTenderEvent(ctx, conn, "44fz_404")
	require.NoError(t, err)
	assert.False(t, found)

	ok, err := HasEventOccurred(ctx, conn, "223fz_2", EventError)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = HasEventOccurred(ctx, conn, "223fz_2", EventPersisted)
	require.NoError(t, err)
	assert.False(t, ok)

	persisted, err := GetPersistedTenders(ctx, conn, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"44fz_1": true}, persisted)

	rows, err := TenderHistory(ctx, conn, "44fz_1", "", 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, EventPersisted, rows[0].Event)
	assert.Equal(t, 1500*time.Millisecond, rows[1].Duration)
	assert.Equal(t, "w1", rows[2].WorkerID)

	var buf bytes.Buffer
	require.NoError(t, DisplayTenderHistory(ctx, conn, &buf, "", EventError, 5))
	assert.Contains(t, buf.String(), "223fz_2")
	assert.Contains(t, buf.String(), "(File: a.xls)")
	assert.Contains(t, buf.String(), "Displayed 1 records.")
}

func TestNilJournalIsNoop(t *testing.T) {
	var j *Journal
	assert.NotPanics(t, func() { j.Record(context.Background(), Event{Tender: "44fz_1", Event: EventSkip}) })
}
