// Package sheet reads spreadsheet-like documents of uncertain format into a
// lazy stream of normalized cells.
package sheet

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/cases"
)

// Cell is one non-empty spreadsheet cell. Row is 1-based, Column is in
// spreadsheet letter notation.
type Cell struct {
	Sheet   string
	Row     int
	Column  string
	Text    string // normalized, used for matching
	Display string // trimmed original, used for presentation
	Address string // Sheet!C12
}

var integralFloat = regexp.MustCompile(`^-?\d+\.0+$`)

// Normalize trims, collapses internal whitespace and case-folds s. Integral
// numbers rendered with a fractional zero part lose it, so "12.0" and "12"
// compare equal.
func Normalize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	if integralFloat.MatchString(s) {
		s = s[:strings.IndexByte(s, '.')]
	}
	return cases.Fold().String(s)
}

// ColumnLetter converts a 0-based column index to letters: 0 -> A, 26 -> AA.
func ColumnLetter(index int) string {
	name, err := excelize.ColumnNumberToName(index + 1)
	if err != nil {
		return ""
	}
	return name
}

// ColumnIndex converts column letters to a 0-based index. Invalid input
// returns -1.
func ColumnIndex(letters string) int {
	n, err := excelize.ColumnNameToNumber(strings.ToUpper(strings.TrimSpace(letters)))
	if err != nil {
		return -1
	}
	return n - 1
}

// Address formats a cell address as Sheet!F12.
func Address(sheet, column string, row int) string {
	return fmt.Sprintf("%s!%s%d", sheet, column, row)
}

// NewCell builds the cell at a 0-based column index. ok is false for blank
// values.
func NewCell(sheet string, row, colIndex int, raw string) (Cell, bool) {
	text := Normalize(raw)
	if text == "" {
		return Cell{}, false
	}
	col := ColumnLetter(colIndex)
	return Cell{
		Sheet:   sheet,
		Row:     row,
		Column:  col,
		Text:    text,
		Display: strings.TrimSpace(raw),
		Address: Address(sheet, col, row),
	}, true
}
