package sheet

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// XML Spreadsheet 2003, still produced by 1C and some registry exports.
type spreadsheetMLStrategy struct{}

func (spreadsheetMLStrategy) Name() string { return MethodSpreadsheetML }

func (spreadsheetMLStrategy) Open(path string) (Workbook, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := xml.NewDecoder(bytes.NewReader(raw))
	// Declared encodings other than UTF-8 are decoded as Windows-1251.
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		switch strings.ToLower(charset) {
		case "utf-8", "utf8", "":
			return input, nil
		}
		data, err := io.ReadAll(input)
		if err != nil {
			return nil, err
		}
		text, err := decodeText(data)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(text), nil
	}

	w := &xmlWorkbook{sheets: make(map[string][][]string)}
	var (
		sheet   string
		rows    [][]string
		row     []string
		col     int
		inData  bool
		text    strings.Builder
		sawBook bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "Workbook":
				sawBook = true
			case "Worksheet":
				sheet = attr(t, "Name")
				if sheet == "" {
					sheet = "Sheet" + strconv.Itoa(len(w.names)+1)
				}
				rows = nil
			case "Row":
				row = nil
				col = 0
				if idx, err := strconv.Atoi(attr(t, "Index")); err == nil && idx > len(rows)+1 {
					for len(rows) < idx-1 {
						rows = append(rows, nil)
					}
				}
			case "Cell":
				if idx, err := strconv.Atoi(attr(t, "Index")); err == nil && idx > col+1 {
					col = idx - 1
				}
				for len(row) < col {
					row = append(row, "")
				}
			case "Data":
				inData = true
				text.Reset()
			}
		case xml.CharData:
			if inData {
				text.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "Data":
				inData = false
				for len(row) <= col {
					row = append(row, "")
				}
				row[col] = text.String()
			case "Cell":
				col++
			case "Row":
				rows = append(rows, row)
			case "Worksheet":
				w.names = append(w.names, sheet)
				w.sheets[sheet] = rows
			}
		}
	}
	if !sawBook || len(w.names) == 0 {
		return nil, errors.New("not an XML spreadsheet")
	}
	return w, nil
}

func attr(e xml.StartElement, local string) string {
	for _, a := range e.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

type xmlWorkbook struct {
	names  []string
	sheets map[string][][]string
}

func (w *xmlWorkbook) SheetNames() []string { return w.names }

func (w *xmlWorkbook) WalkRows(sheet string, fn func(row int, values []string) error) error {
	rows, ok := w.sheets[sheet]
	if !ok {
		return fmt.Errorf("sheet %q not found", sheet)
	}
	for i, values := range rows {
		if len(values) == 0 {
			continue
		}
		if err := fn(i+1, values); err != nil {
			if errors.Is(err, ErrStopWalk) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (w *xmlWorkbook) Close() error { return nil }
