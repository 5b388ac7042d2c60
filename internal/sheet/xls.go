package sheet

import (
	"errors"
	"fmt"

	"github.com/extrame/xls"
)

// Legacy BIFF workbooks. The library decodes the whole file on open.
type xlsStrategy struct{}

func (xlsStrategy) Name() string { return MethodXLS }

func (xlsStrategy) Open(path string) (wb Workbook, err error) {
	defer recoverInto(&err, "xls")
	book, err := xls.Open(path, "utf-8")
	if err != nil {
		return nil, err
	}
	if book == nil || book.NumSheets() == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	w := &xlsWorkbook{book: book, index: make(map[string]int)}
	for i := 0; i < book.NumSheets(); i++ {
		s := book.GetSheet(i)
		if s == nil {
			continue
		}
		w.sheets = append(w.sheets, s.Name)
		w.index[s.Name] = i
	}
	if len(w.sheets) == 0 {
		return nil, errors.New("workbook has no readable sheets")
	}
	return w, nil
}

type xlsWorkbook struct {
	book   *xls.WorkBook
	sheets []string
	index  map[string]int
}

func (w *xlsWorkbook) SheetNames() []string { return w.sheets }

func (w *xlsWorkbook) WalkRows(sheet string, fn func(row int, values []string) error) (err error) {
	defer recoverInto(&err, "xls")
	i, ok := w.index[sheet]
	if !ok {
		return fmt.Errorf("sheet %q not found", sheet)
	}
	s := w.book.GetSheet(i)
	if s == nil {
		return fmt.Errorf("sheet %q unreadable", sheet)
	}
	for r := 0; r <= int(s.MaxRow); r++ {
		row := sheetRow(s, r)
		if row == nil {
			continue
		}
		last := row.LastCol()
		if last <= 0 {
			continue
		}
		values := make([]string, last)
		for c := max(row.FirstCol(), 0); c < last; c++ {
			values[c] = row.Col(c)
		}
		if err := fn(r+1, values); err != nil {
			if errors.Is(err, ErrStopWalk) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (w *xlsWorkbook) Close() error { return nil }

// sheetRow returns row r of s, or nil for rows the file has no record of. The
// library dereferences the missing row instead of reporting it.
func sheetRow(s *xls.WorkSheet, r int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return s.Row(r)
}
