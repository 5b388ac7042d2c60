package sheet

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Spreadsheets saved as HTML by portals and by "Save as web page". Every
// <table> becomes a sheet named Table1, Table2, ...
type htmlStrategy struct{}

func (htmlStrategy) Name() string { return MethodHTML }

func (htmlStrategy) Open(path string) (Workbook, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text, err := decodeText(raw)
	if err != nil {
		return nil, err
	}
	root, err := html.Parse(bytes.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	w := &htmlWorkbook{tables: make(map[string][][]string)}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "table" {
			name := "Table" + strconv.Itoa(len(w.names)+1)
			w.names = append(w.names, name)
			w.tables[name] = tableRows(n)
			// Nested tables are read as part of their parent.
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	if len(w.names) == 0 {
		return nil, errors.New("no <table> elements found")
	}
	return w, nil
}

func tableRows(table *html.Node) [][]string {
	var rows [][]string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var row []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					text := nodeText(c)
					row = append(row, text)
					for span := colspan(c); span > 1; span-- {
						row = append(row, "")
					}
				}
			}
			rows = append(rows, row)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(table)
	return rows
}

func colspan(n *html.Node) int {
	for _, a := range n.Attr {
		if a.Key == "colspan" {
			if v, err := strconv.Atoi(strings.TrimSpace(a.Val)); err == nil && v > 0 && v < 1000 {
				return v
			}
		}
	}
	return 1
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
		case n.Type == html.ElementNode && n.Data == "br":
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

type htmlWorkbook struct {
	names  []string
	tables map[string][][]string
}

func (w *htmlWorkbook) SheetNames() []string { return w.names }

func (w *htmlWorkbook) WalkRows(sheet string, fn func(row int, values []string) error) error {
	rows, ok := w.tables[sheet]
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

func (w *htmlWorkbook) Close() error { return nil }
