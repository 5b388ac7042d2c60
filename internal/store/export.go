package store

import (
	"context"
	"fmt"
	"iter"
	"time"
)

// DetailRow is a detail joined with its aggregate, the unit of export.
type DetailRow struct {
	TenderID        int64
	RegistryType    string
	ProductName     string
	Score           float64
	SheetName       string
	RowIndex        int
	ColumnLetter    string
	CellAddress     string
	SourceFile      string
	MatchedText     string
	MatchedKeywords string
	MatchPercentage float64
	IsInteresting   bool
	HasError        bool
	CreatedAt       time.Time
}

// DetailRows streams every detail row with its aggregate, optionally limited
// to interesting tenders. The iteration stops at the first error.
func (s *Store) DetailRows(ctx context.Context, interestingOnly bool) iter.Seq2[DetailRow, error] {
	return func(yield func(DetailRow, error) bool) {
		q := s.db.WithContext(ctx).
			Table("tender_document_match_details AS d").
			Select(`m.tender_id, m.registry_type, d.product_name, d.score, d.sheet_name,
				d.row_index, d.column_letter, d.cell_address, d.source_file, d.matched_text,
				d.matched_keywords, m.match_percentage, m.is_interesting, m.has_error, d.created_at`).
			Joins("JOIN tender_document_matches AS m ON m.id = d.match_id").
			Order("m.tender_id, m.registry_type, d.score DESC, d.id")
		if interestingOnly {
			q = q.Where("m.is_interesting = ?", true)
		}
		rows, err := q.Rows()
		if err != nil {
			yield(DetailRow{}, fmt.Errorf("failed to query detail rows: %w", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var r DetailRow
			if err := s.db.ScanRows(rows, &r); err != nil {
				yield(DetailRow{}, fmt.Errorf("failed to scan detail row: %w", err))
				return
			}
			if !yield(r, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(DetailRow{}, fmt.Errorf("failed to read detail rows: %w", err))
		}
	}
}
