package sheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const csvSheetName = "Sheet1"

// Delimited text exported by registry portals: UTF-8 (optionally with BOM)
// or Windows-1251, separated by semicolons, commas or tabs.
type csvStrategy struct{}

func (csvStrategy) Name() string { return MethodCSV }

func (csvStrategy) Open(path string) (Workbook, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	head := raw[:min(len(raw), headerSize)]
	if !looksDelimited(head) {
		return nil, errors.New("content is not delimited text")
	}
	text, err := decodeText(raw)
	if err != nil {
		return nil, err
	}
	return &csvWorkbook{data: text, delim: sniffDelimiter(text)}, nil
}

// decodeText returns raw as UTF-8, stripping a BOM and falling back to
// Windows-1251 when raw is not valid UTF-8.
func decodeText(raw []byte) ([]byte, error) {
	if bytes.HasPrefix(raw, bomUTF8) || utf8.Valid(raw) {
		out, _, err := transform.Bytes(unicode.UTF8BOM.NewDecoder(), raw)
		return out, err
	}
	out, _, err := transform.Bytes(charmap.Windows1251.NewDecoder(), raw)
	return out, err
}

func sniffDelimiter(text []byte) rune {
	line := text
	if i := bytes.IndexByte(text, '\n'); i >= 0 {
		line = text[:i]
	}
	best, bestCount := ';', -1
	for _, d := range []rune{';', '\t', ','} {
		if n := bytes.Count(line, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

type csvWorkbook struct {
	data  []byte
	delim rune
}

func (w *csvWorkbook) SheetNames() []string { return []string{csvSheetName} }

func (w *csvWorkbook) WalkRows(sheet string, fn func(row int, values []string) error) error {
	if sheet != csvSheetName {
		return fmt.Errorf("sheet %q not found", sheet)
	}
	r := csv.NewReader(bytes.NewReader(w.data))
	r.Comma = w.delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	for n := 1; ; n++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("csv line %d: %w", n, err)
		}
		if err := fn(n, rec); err != nil {
			if errors.Is(err, ErrStopWalk) {
				return nil
			}
			return err
		}
	}
}

func (w *csvWorkbook) Close() error { return nil }
