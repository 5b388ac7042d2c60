// Package export writes stored match details and the run journal to Parquet
// files for offline analysis.
package export

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/brensch/tenderscan/internal/store"
)

// File names written into the output directory.
const (
	DetailsFile = "match_details.parquet"
	JournalFile = "tender_event_log.parquet"
)

// DetailRecord is the Parquet row of one match detail.
type DetailRecord struct {
	TenderID        int64   `parquet:"name=tender_id, type=INT64"`
	RegistryType    string  `parquet:"name=registry_type, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Tender          string  `parquet:"name=tender, type=BYTE_ARRAY, convertedtype=UTF8"`
	ProductName     string  `parquet:"name=product_name, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Score           float64 `parquet:"name=score, type=DOUBLE"`
	SheetName       string  `parquet:"name=sheet_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	RowIndex        int32   `parquet:"name=row_index, type=INT32"`
	ColumnLetter    string  `parquet:"name=column_letter, type=BYTE_ARRAY, convertedtype=UTF8"`
	CellAddress     string  `parquet:"name=cell_address, type=BYTE_ARRAY, convertedtype=UTF8"`
	SourceFile      string  `parquet:"name=source_file, type=BYTE_ARRAY, convertedtype=UTF8"`
	MatchedText     string  `parquet:"name=matched_text, type=BYTE_ARRAY, convertedtype=UTF8"`
	MatchedKeywords string  `parquet:"name=matched_keywords, type=BYTE_ARRAY, convertedtype=UTF8"`
	MatchPercentage float64 `parquet:"name=match_percentage, type=DOUBLE"`
	IsInteresting   bool    `parquet:"name=is_interesting, type=BOOLEAN"`
	HasError        bool    `parquet:"name=has_error, type=BOOLEAN"`
	CreatedAtMillis int64   `parquet:"name=created_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

func recordOf(r store.DetailRow) DetailRecord {
	rec := DetailRecord{
		TenderID:        r.TenderID,
		RegistryType:    r.RegistryType,
		Tender:          fmt.Sprintf("%s_%d", r.RegistryType, r.TenderID),
		ProductName:     r.ProductName,
		Score:           r.Score,
		SheetName:       r.SheetName,
		RowIndex:        int32(r.RowIndex),
		ColumnLetter:    r.ColumnLetter,
		CellAddress:     r.CellAddress,
		SourceFile:      r.SourceFile,
		MatchedText:     r.MatchedText,
		MatchedKeywords: r.MatchedKeywords,
		MatchPercentage: r.MatchPercentage,
		IsInteresting:   r.IsInteresting,
		HasError:        r.HasError,
	}
	if !r.CreatedAt.IsZero() {
		rec.CreatedAtMillis = r.CreatedAt.UnixMilli()
	}
	return rec
}

// WriteDetails streams rows into a Snappy-compressed Parquet file at path and
// returns how many rows were written. A failed export leaves no file behind.
func WriteDetails(path string, rows iter.Seq2[store.DetailRow, error], logger *slog.Logger) (n int, err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create output directory for %s: %w", path, err)
	}
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create parquet file %s: %w", path, err)
	}
	defer func() {
		if cerr := fw.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close parquet file %s: %w", path, cerr)
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	pw, err := writer.NewParquetWriter(fw, new(DetailRecord), 4)
	if err != nil {
		return 0, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for row, rerr := range rows {
		if rerr != nil {
			pw.WriteStop()
			return n, rerr
		}
		if werr := pw.Write(recordOf(row)); werr != nil {
			pw.WriteStop()
			return n, fmt.Errorf("failed to write row %d: %w", n+1, werr)
		}
		n++
		if n%10000 == 0 {
			logger.Debug("Export in progress.", "rows", n)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return n, fmt.Errorf("failed to finish parquet file %s: %w", path, err)
	}
	logger.Info("Exported match details.", slog.String("path", path), slog.Int("rows", n))
	return n, nil
}

// Details exports every detail row of s (or only interesting tenders) to
// DetailsFile under dir.
func Details(ctx context.Context, s *store.Store, dir string, interestingOnly bool, logger *slog.Logger) (string, int, error) {
	path := filepath.Join(dir, DetailsFile)
	n, err := WriteDetails(path, s.DetailRows(ctx, interestingOnly), logger)
	if err != nil {
		return "", n, err
	}
	return path, n, nil
}

// Journal copies the run journal table into JournalFile under dir with
// DuckDB's own Parquet writer.
func Journal(ctx context.Context, conn *sql.DB, dir string, logger *slog.Logger) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory '%s': %w", dir, err)
	}
	path := filepath.Join(dir, JournalFile)
	// DuckDB wants forward slashes and single-quoted literals.
	duckPath := strings.ReplaceAll(strings.ReplaceAll(path, `\`, `/`), "'", "''")
	copySQL := fmt.Sprintf(`COPY (SELECT * FROM tender_event_log ORDER BY event_timestamp, log_id) TO '%s' (FORMAT PARQUET);`, duckPath)

	logger.Debug("Executing COPY TO command.", slog.String("output_path", path))
	if _, err := conn.ExecContext(ctx, copySQL); err != nil {
		return "", fmt.Errorf("failed to export journal to %s: %w", path, err)
	}
	logger.Info("Exported run journal.", slog.String("path", path))
	return path, nil
}
