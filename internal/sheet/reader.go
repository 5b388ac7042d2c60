package sheet

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
)

// Reader opens documents through a Cascade and streams their cells.
type Reader struct {
	cascade *Cascade
	logger  *slog.Logger
}

// NewReader returns a Reader over the built-in strategies.
func NewReader(logger *slog.Logger) *Reader {
	return NewReaderWith(logger, DefaultStrategies()...)
}

// NewReaderWith returns a Reader over the given strategies.
func NewReaderWith(logger *slog.Logger, strategies ...Strategy) *Reader {
	return &Reader{cascade: NewCascade(logger, strategies...), logger: logger}
}

// Open opens path, returning the workbook and the strategy that succeeded.
func (r *Reader) Open(path string) (Workbook, string, error) {
	return r.cascade.Open(path)
}

// Cells streams every non-empty cell of path, sheet by sheet, row by row. Each
// call reopens the file. A reader that fails mid-walk before producing any
// cell is abandoned for the next one in the cascade. Any other error ends the
// sequence and is yielded once with a zero Cell.
func (r *Reader) Cells(ctx context.Context, path string) iter.Seq2[Cell, error] {
	return func(yield func(Cell, error) bool) {
		var failed []Attempt
		for {
			wb, method, err := r.cascade.open(path, failed)
			if err != nil {
				yield(Cell{}, err)
				return
			}
			emitted, stopped, err := walkCells(ctx, wb, yield)
			wb.Close()
			if stopped || err == nil {
				return
			}
			if emitted > 0 || ctx.Err() != nil {
				yield(Cell{}, fmt.Errorf("%s: %w", path, err))
				return
			}
			r.logger.Debug("Reader failed while walking, trying next.", "file", path, "method", method, "error", err)
			failed = append(failed, Attempt{Method: method, Err: err})
		}
	}
}

// walkCells yields the cells of wb. stopped reports that the consumer ended
// the sequence.
func walkCells(ctx context.Context, wb Workbook, yield func(Cell, error) bool) (emitted int, stopped bool, err error) {
	for _, name := range wb.SheetNames() {
		err := wb.WalkRows(name, func(row int, values []string) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i, v := range values {
				c, ok := NewCell(name, row, i, v)
				if !ok {
					continue
				}
				emitted++
				if !yield(c, nil) {
					stopped = true
					return ErrStopWalk
				}
			}
			return nil
		})
		if stopped {
			return emitted, true, nil
		}
		if err != nil {
			return emitted, false, fmt.Errorf("sheet %q: %w", name, err)
		}
	}
	return emitted, false, nil
}

// ContextCell is one non-empty cell of a row with its header name.
type ContextCell struct {
	Column     string `json:"column"`
	ColumnName string `json:"column_name,omitempty"`
	Value      string `json:"value"`
}

// RowContext is a matched row with its neighbourhood, for presentation.
type RowContext struct {
	FullRow     []ContextCell     `json:"full_row"`
	Left        []ContextCell     `json:"left_context"`
	Right       []ContextCell     `json:"right_context"`
	ColumnNames map[string]string `json:"column_names"`
}

const (
	headerScanRows = 5
	headerScanCols = 50
)

// ErrRowNotFound is returned by RowContext when the sheet has no such row.
var ErrRowNotFound = errors.New("row not found")

// RowContext re-reads path and returns the given row of sheet, its non-empty
// cells within contextCols columns either side of column, and header names
// scanned from the first rows of the sheet.
func (r *Reader) RowContext(path, sheet string, row int, column string, contextCols int) (RowContext, error) {
	found := ColumnIndex(column)
	if found < 0 {
		return RowContext{}, fmt.Errorf("invalid column %q", column)
	}
	wb, _, err := r.cascade.Open(path)
	if err != nil {
		return RowContext{}, err
	}
	defer wb.Close()

	var (
		headerRows [][]string
		target     []string
		hit        bool
	)
	err = wb.WalkRows(sheet, func(n int, values []string) error {
		if n <= headerScanRows {
			headerRows = append(headerRows, append([]string(nil), values...))
		}
		if n == row {
			target = append([]string(nil), values...)
			hit = true
		}
		if hit && n >= headerScanRows {
			return ErrStopWalk
		}
		return nil
	})
	if err != nil {
		return RowContext{}, err
	}
	if !hit {
		return RowContext{}, fmt.Errorf("%s row %d: %w", sheet, row, ErrRowNotFound)
	}
	return buildRowContext(headerRows, target, found, contextCols), nil
}

func buildRowContext(headerRows [][]string, target []string, found, contextCols int) RowContext {
	names := make(map[string]string)
	for col := 0; col < headerScanCols; col++ {
		for _, hr := range headerRows {
			if col < len(hr) {
				if v := strings.TrimSpace(hr[col]); v != "" {
					names[ColumnLetter(col)] = v
					break
				}
			}
		}
	}

	rc := RowContext{ColumnNames: names}
	for i, v := range target {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		letter := ColumnLetter(i)
		cell := ContextCell{Column: letter, ColumnName: names[letter], Value: v}
		rc.FullRow = append(rc.FullRow, cell)
		switch {
		case i >= found-contextCols && i < found:
			rc.Left = append(rc.Left, cell)
		case i > found && i <= found+contextCols:
			rc.Right = append(rc.Right, cell)
		}
	}
	return rc
}
