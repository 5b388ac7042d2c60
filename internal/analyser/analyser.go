// Package analyser summarises an exported match-details Parquet file with
// DuckDB.
package analyser

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/brensch/tenderscan/internal/export"
)

// ProductStat aggregates the matches of one catalog product.
type ProductStat struct {
	Product   string
	Tenders   int64
	Matches   int64
	BestScore float64
	AvgScore  float64
}

// TenderStat is one tender of the export with its best score.
type TenderStat struct {
	Tender     string
	Matches    int64
	BestScore  float64
	Percentage float64
}

// Summary is the result of Analyse.
type Summary struct {
	Rows        int64
	Tenders     int64
	Interesting int64
	WithErrors  int64
	Exact       int64 // rows scored 100
	Good        int64 // rows scored 85 to 100
	Partial     int64 // rows below 85
	Products    []ProductStat
	TopTenders  []TenderStat
}

// Analyse reads DetailsFile from dir into a DuckDB view and aggregates it.
// top bounds the product and tender lists.
func Analyse(ctx context.Context, db *sql.DB, dir string, top int, logger *slog.Logger) (Summary, error) {
	logger.Info("--- Starting DuckDB match analysis ---", slog.String("dir", dir))
	if top <= 0 {
		top = 20
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to get connection from pool: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `INSTALL parquet; LOAD parquet;`); err != nil {
		// Bundled builds already carry the extension.
		logger.Warn("Failed to install/load parquet extension, continuing.", "error", err)
	}

	parquetPath := strings.ReplaceAll(strings.ReplaceAll(dir, `\`, `/`), "'", "''") + "/" + export.DetailsFile
	viewSQL := fmt.Sprintf(`CREATE OR REPLACE TEMP VIEW details AS SELECT * FROM read_parquet('%s');`, parquetPath)
	if _, err := conn.ExecContext(ctx, viewSQL); err != nil {
		return Summary{}, fmt.Errorf("create view details: %w\nSQL:\n%s", err, viewSQL)
	}
	logger.Debug("DuckDB (Analysis): view created.")

	var s Summary
	const totalsSQL = `
    SELECT COUNT(*),
        COUNT(DISTINCT tender),
        COUNT(DISTINCT CASE WHEN is_interesting THEN tender END),
        COUNT(DISTINCT CASE WHEN has_error THEN tender END),
        COUNT(*) FILTER (WHERE score >= 100),
        COUNT(*) FILTER (WHERE score >= 85 AND score < 100),
        COUNT(*) FILTER (WHERE score < 85)
    FROM details;`
	if err := conn.QueryRowContext(ctx, totalsSQL).Scan(
		&s.Rows, &s.Tenders, &s.Interesting, &s.WithErrors, &s.Exact, &s.Good, &s.Partial,
	); err != nil {
		return Summary{}, fmt.Errorf("query totals: %w", err)
	}
	if s.Rows == 0 {
		logger.Warn("Export holds no match details.")
		return s, nil
	}

	var analysisErrors error
	productsSQL := fmt.Sprintf(`
    SELECT product_name, COUNT(DISTINCT tender), COUNT(*), MAX(score), AVG(score)
    FROM details
    GROUP BY product_name
    ORDER BY COUNT(DISTINCT tender) DESC, product_name
    LIMIT %d;`, top)
	rows, err := conn.QueryContext(ctx, productsSQL)
	if err != nil {
		return s, fmt.Errorf("query products: %w", err)
	}
	for rows.Next() {
		var p ProductStat
		if err := rows.Scan(&p.Product, &p.Tenders, &p.Matches, &p.BestScore, &p.AvgScore); err != nil {
			analysisErrors = errors.Join(analysisErrors, fmt.Errorf("scan product row: %w", err))
			continue
		}
		s.Products = append(s.Products, p)
	}
	if err := rows.Err(); err != nil {
		analysisErrors = errors.Join(analysisErrors, fmt.Errorf("iterate product rows: %w", err))
	}
	rows.Close()

	tendersSQL := fmt.Sprintf(`
    SELECT tender, COUNT(*), MAX(score), MAX(match_percentage)
    FROM details
    GROUP BY tender
    ORDER BY MAX(match_percentage) DESC, COUNT(*) DESC, tender
    LIMIT %d;`, top)
	rows, err = conn.QueryContext(ctx, tendersSQL)
	if err != nil {
		return s, errors.Join(analysisErrors, fmt.Errorf("query tenders: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		var ts TenderStat
		if err := rows.Scan(&ts.Tender, &ts.Matches, &ts.BestScore, &ts.Percentage); err != nil {
			analysisErrors = errors.Join(analysisErrors, fmt.Errorf("scan tender row: %w", err))
			continue
		}
		s.TopTenders = append(s.TopTenders, ts)
	}
	if err := rows.Err(); err != nil {
		analysisErrors = errors.Join(analysisErrors, fmt.Errorf("iterate tender rows: %w", err))
	}

	logger.Info("--- DuckDB match analysis finished ---",
		slog.Int64("rows", s.Rows), slog.Int64("tenders", s.Tenders), slog.Int64("interesting", s.Interesting))
	return s, analysisErrors
}

// Print writes s as fixed-width tables.
func (s Summary) Print(w io.Writer) {
	fmt.Fprintf(w, "Rows: %d  Tenders: %d  Interesting: %d  With file errors: %d\n", s.Rows, s.Tenders, s.Interesting, s.WithErrors)
	fmt.Fprintf(w, "Scores: exact %d | good %d | partial %d\n\n", s.Exact, s.Good, s.Partial)

	fmt.Fprintf(w, "%-40s | %-8s | %-8s | %-6s | %-6s\n", "Product", "Tenders", "Matches", "Best", "Avg")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, p := range s.Products {
		fmt.Fprintf(w, "%-40s | %-8d | %-8d | %-6.1f | %-6.1f\n", clip(p.Product, 40), p.Tenders, p.Matches, p.BestScore, p.AvgScore)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%-20s | %-8s | %-6s | %-6s\n", "Tender", "Matches", "Best", "Tier")
	fmt.Fprintln(w, strings.Repeat("-", 50))
	for _, t := range s.TopTenders {
		fmt.Fprintf(w, "%-20s | %-8d | %-6.1f | %-6.0f\n", t.Tender, t.Matches, t.BestScore, t.Percentage)
	}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
