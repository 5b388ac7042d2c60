package sheet

import (
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"
)

type xlsxStrategy struct{}

func (xlsxStrategy) Name() string { return MethodXLSX }

func (xlsxStrategy) Open(path string) (wb Workbook, err error) {
	defer recoverInto(&err, "excelize")
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, errors.New("workbook has no sheets")
	}
	return &xlsxWorkbook{f: f, sheets: sheets}, nil
}

type xlsxWorkbook struct {
	f      *excelize.File
	sheets []string
}

func (w *xlsxWorkbook) SheetNames() []string { return w.sheets }

func (w *xlsxWorkbook) WalkRows(sheet string, fn func(row int, values []string) error) (err error) {
	defer recoverInto(&err, "excelize")
	rows, err := w.f.Rows(sheet)
	if err != nil {
		return fmt.Errorf("rows of %q: %w", sheet, err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		n++
		values, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("row %d of %q: %w", n, sheet, err)
		}
		if len(values) == 0 {
			continue
		}
		if err := fn(n, values); err != nil {
			if errors.Is(err, ErrStopWalk) {
				return nil
			}
			return err
		}
	}
	return rows.Error()
}

func (w *xlsxWorkbook) Close() error { return w.f.Close() }

// recoverInto turns a panic inside a third-party parser into an error.
// Malformed files reliably crash some of them.
func recoverInto(err *error, who string) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s panicked: %v", who, r)
	}
}
