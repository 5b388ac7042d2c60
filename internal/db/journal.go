// Package db keeps the run journal: an append-only DuckDB log of what happened
// to each tender, read back by the state command.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb" // Driver
)

// Event types.
const (
	EventAcquired      = "acquired"
	EventLocked        = "already_locked"
	EventDownloadStart = "download_start"
	EventDownloadEnd   = "download_end"
	EventExtractEnd    = "extract_end"
	EventParseEnd      = "parse_end"
	EventPersisted     = "persisted"
	EventUploaded      = "uploaded"
	EventReleased      = "released"
	EventSkip          = "skip"
	EventError         = "error"
)

const schemaSequenceSQL = `CREATE SEQUENCE IF NOT EXISTS tender_event_log_id_seq;`
const schemaTableSQL = `
CREATE TABLE IF NOT EXISTS tender_event_log (
    log_id          BIGINT PRIMARY KEY DEFAULT nextval('tender_event_log_id_seq'),
    tender          VARCHAR NOT NULL,      -- 44fz_123
    event           VARCHAR NOT NULL,
    event_timestamp TIMESTAMP NOT NULL,
    worker_id       VARCHAR,
    file_name       VARCHAR,
    message         VARCHAR,
    duration_ms     BIGINT
);
CREATE INDEX IF NOT EXISTS idx_tender_event_log_tender ON tender_event_log (tender);
CREATE INDEX IF NOT EXISTS idx_tender_event_log_event_time ON tender_event_log (event, event_timestamp);
`

// InitializeSchema creates the sequence and table in the correct order.
func InitializeSchema(db *sql.DB) error {
	_, err := db.Exec(schemaSequenceSQL)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute sequence setup: %w", err)
	}
	_, err = db.Exec(schemaTableSQL)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute table/index setup: %w", err)
	}
	return nil
}

// Event is one journal entry.
type Event struct {
	Tender   string
	Event    string
	WorkerID string
	File     string
	Message  string
	Duration time.Duration // zero when not measured
	At       time.Time     // zero means now
}

// LogTenderEvent inserts e into the journal.
func LogTenderEvent(ctx context.Context, db *sql.DB, e Event) error {
	query := `
        INSERT INTO tender_event_log (tender, event, event_timestamp, worker_id, file_name, message, duration_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?);
    `
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	var durationMs sql.NullInt64
	if e.Duration > 0 {
		durationMs = sql.NullInt64{Int64: e.Duration.Milliseconds(), Valid: true}
	}
	_, err := db.ExecContext(ctx, query,
		e.Tender,
		e.Event,
		at.UTC(),
		sql.NullString{String: e.WorkerID, Valid: e.WorkerID != ""},
		sql.NullString{String: e.File, Valid: e.File != ""},
		sql.NullString{String: e.Message, Valid: e.Message != ""},
		durationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to log event '%s' for '%s': %w", e.Event, e.Tender, err)
	}
	return nil
}

// GetLatestTenderEvent retrieves the most recent event recorded for a tender.
func GetLatestTenderEvent(ctx context.Context, db *sql.DB, tender string) (event string, timestamp time.Time, message string, found bool, err error) {
	query := `
        SELECT event, event_timestamp, message
        FROM tender_event_log
        WHERE tender = ?
        ORDER BY event_timestamp DESC, log_id DESC
        LIMIT 1;
    `
	var msg sql.NullString
	err = db.QueryRowContext(ctx, query, tender).Scan(&event, &timestamp, &msg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, "", false, nil
		}
		return "", time.Time{}, "", false, fmt.Errorf("failed query latest event for '%s': %w", tender, err)
	}
	return event, timestamp, msg.String, true, nil
}

// HasEventOccurred checks if a specific event has ever happened for a tender.
func HasEventOccurred(ctx context.Context, db *sql.DB, tender, event string) (bool, error) {
	query := `SELECT 1 FROM tender_event_log WHERE tender = ? AND event = ? LIMIT 1;`
	var exists int
	err := db.QueryRowContext(ctx, query, tender, event).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed check event '%s' for '%s': %w", event, tender, err)
	}
	return true, nil
}

// GetPersistedTenders returns the tenders that have reached the persisted
// event at least once. Scan errors are collected and the partial map returned.
func GetPersistedTenders(ctx context.Context, db *sql.DB, logger *slog.Logger) (map[string]bool, error) {
	logger.Debug("Querying journal for persisted tenders...")
	persisted := make(map[string]bool)
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT tender FROM tender_event_log WHERE event = ?;`, EventPersisted)
	if err != nil {
		return nil, fmt.Errorf("query persisted tenders: %w", err)
	}
	defer rows.Close()

	var scanErrors error
	for rows.Next() {
		var tender string
		if err := rows.Scan(&tender); err != nil {
			logger.Error("Failed to scan persisted tender", "error", err)
			scanErrors = errors.Join(scanErrors, fmt.Errorf("scan persisted tender: %w", err))
			continue
		}
		persisted[tender] = true
	}
	if err := rows.Err(); err != nil {
		return persisted, errors.Join(scanErrors, fmt.Errorf("iterate persisted tenders: %w", err))
	}
	logger.Debug("Found persisted tenders in journal.", slog.Int("count", len(persisted)))
	return persisted, scanErrors
}

// HistoryRow is one line of DisplayTenderHistory output.
type HistoryRow struct {
	Tender    string
	Event     string
	Timestamp time.Time
	WorkerID  string
	File      string
	Message   string
	Duration  time.Duration
}

// TenderHistory returns journal rows, newest first, optionally filtered by
// tender key and event.
func TenderHistory(ctx context.Context, db *sql.DB, tenderFilter, eventFilter string, limit int) ([]HistoryRow, error) {
	query := `
        SELECT tender, event, event_timestamp, worker_id, file_name, message, duration_ms
        FROM tender_event_log
    `
	conditions := []string{}
	args := []any{}
	argCounter := 1

	if tenderFilter != "" {
		conditions = append(conditions, fmt.Sprintf("tender = $%d", argCounter))
		args = append(args, tenderFilter)
		argCounter++
	}
	if eventFilter != "" {
		conditions = append(conditions, fmt.Sprintf("event = $%d", argCounter))
		args = append(args, eventFilter)
		argCounter++
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY event_timestamp DESC, log_id DESC LIMIT $%d", argCounter)
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event log: %w", err)
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var (
			r                     HistoryRow
			worker, file, message sql.NullString
			durationMs            sql.NullInt64
		)
		if err := rows.Scan(&r.Tender, &r.Event, &r.Timestamp, &worker, &file, &message, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan event log row: %w", err)
		}
		r.WorkerID, r.File, r.Message = worker.String, file.String, message.String
		if durationMs.Valid {
			r.Duration = time.Duration(durationMs.Int64) * time.Millisecond
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event log rows: %w", err)
	}
	return out, nil
}

// DisplayTenderHistory prints journal rows as a fixed-width table.
func DisplayTenderHistory(ctx context.Context, db *sql.DB, w io.Writer, tenderFilter, eventFilter string, limit int) error {
	rows, err := TenderHistory(ctx, db, tenderFilter, eventFilter, limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "--- Tender Event Log (Limit %d) ---\n", limit)
	fmt.Fprintf(w, "%-16s | %-15s | %-25s | %-10s | %s\n", "Tender", "Event", "Timestamp (UTC)", "DurationMS", "Message/Details")
	fmt.Fprintln(w, strings.Repeat("-", 120))
	for _, r := range rows {
		durationStr := ""
		if r.Duration > 0 {
			durationStr = fmt.Sprintf("%d", r.Duration.Milliseconds())
		}
		details := r.Message
		if r.File != "" {
			details += fmt.Sprintf(" (File: %s)", r.File)
		}
		if r.WorkerID != "" {
			details += fmt.Sprintf(" [%s]", r.WorkerID)
		}
		fmt.Fprintf(w, "%-16s | %-15s | %-25s | %-10s | %s\n",
			r.Tender, r.Event, r.Timestamp.Format(time.RFC3339), durationStr, strings.TrimSpace(details))
	}
	fmt.Fprintf(w, "Displayed %d records.\n", len(rows))
	return nil
}

// Journal records tender events without failing the caller: a journal write
// error is logged and dropped.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewJournal(db *sql.DB, logger *slog.Logger) *Journal {
	return &Journal{db: db, logger: logger}
}

// Record appends e. A nil Journal records nothing.
func (j *Journal) Record(ctx context.Context, e Event) {
	if j == nil || j.db == nil {
		return
	}
	if err := LogTenderEvent(ctx, j.db, e); err != nil {
		j.logger.Warn("Failed to write journal event.", "tender", e.Tender, "event", e.Event, "error", err)
	}
}
