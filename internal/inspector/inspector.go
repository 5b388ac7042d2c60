// Package inspector explains how the pipeline sees a single document: its
// detected format, which reader opened it, what its sheets hold and, given a
// catalog, what it would match.
package inspector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/brensch/tenderscan/internal/archive"
	"github.com/brensch/tenderscan/internal/matcher"
	"github.com/brensch/tenderscan/internal/sheet"
)

// Options tunes Inspect.
type Options struct {
	// Samples is the number of non-empty cells shown per sheet.
	Samples int
	// Matcher, if set, runs the document through matching.
	Matcher *matcher.Engine
}

// SheetSummary describes one sheet.
type SheetSummary struct {
	Name    string
	Rows    int
	Cells   int
	Samples []sheet.Cell
}

// Report is the outcome of Inspect.
type Report struct {
	Path     string
	Size     int64
	Format   sheet.Format
	Archive  string // archive kind sniffed from content, empty for none
	Method   string // reader that opened the document
	Attempts []sheet.Attempt
	Sheets   []SheetSummary
	Matches  []matcher.Match
	OpenErr  error
}

// Inspect examines path. Failing to open the document is part of the Report;
// the returned error is reserved for a missing file or cancellation.
func Inspect(ctx context.Context, logger *slog.Logger, r *sheet.Reader, path string, opts Options) (Report, error) {
	if opts.Samples <= 0 {
		opts.Samples = 5
	}
	l := logger.With(slog.String("file", filepath.Base(path)))
	info, err := os.Stat(path)
	if err != nil {
		return Report{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	rep := Report{Path: path, Size: info.Size()}

	rep.Format, err = sheet.DetectFormat(path)
	if err != nil {
		l.Warn("Format detection failed.", "error", err)
	}
	if kind, err := archive.Sniff(path); err == nil && kind != archive.KindNone {
		if rep.Format == sheet.FormatArchive || !archive.IsSpreadsheetName(path) {
			rep.Archive = kind
		} else if k, disguised := archive.IsDisguisedArchive(path); disguised {
			rep.Archive = k
		}
	}

	wb, method, err := r.Open(path)
	if err != nil {
		rep.OpenErr = err
		var perr *sheet.ParseError
		if errors.As(err, &perr) {
			rep.Attempts = perr.Attempts
		}
		l.Info("Document could not be opened.", "error", err)
		return rep, nil
	}
	rep.Method = method

	for _, name := range wb.SheetNames() {
		if err := ctx.Err(); err != nil {
			wb.Close()
			return rep, err
		}
		s := SheetSummary{Name: name}
		werr := wb.WalkRows(name, func(row int, values []string) error {
			s.Rows++
			for i, v := range values {
				c, ok := sheet.NewCell(name, row, i, v)
				if !ok {
					continue
				}
				s.Cells++
				if len(s.Samples) < opts.Samples {
					s.Samples = append(s.Samples, c)
				}
			}
			return nil
		})
		if werr != nil {
			l.Warn("Failed to read sheet.", "sheet", name, "error", werr)
		}
		rep.Sheets = append(rep.Sheets, s)
	}
	wb.Close()

	if opts.Matcher != nil {
		rep.Matches, err = opts.Matcher.MatchCells(ctx, filepath.Base(path), r.Cells(ctx, path))
		if err != nil {
			l.Warn("Matching failed.", "error", err)
		}
	}
	return rep, nil
}

// Print writes rep in a human-readable layout.
func (rep Report) Print(w io.Writer) {
	fmt.Fprintf(w, "--- %s ---\n", filepath.Base(rep.Path))
	fmt.Fprintf(w, "Size:     %d bytes\n", rep.Size)
	fmt.Fprintf(w, "Format:   %s\n", rep.Format)
	if rep.Archive != "" {
		fmt.Fprintf(w, "Archive:  %s\n", rep.Archive)
	}
	if rep.OpenErr != nil {
		fmt.Fprintf(w, "Open:     FAILED\n")
		for _, a := range rep.Attempts {
			fmt.Fprintf(w, "  %-16s %v\n", a.Method+":", a.Err)
		}
		if len(rep.Attempts) == 0 {
			fmt.Fprintf(w, "  %v\n", rep.OpenErr)
		}
		return
	}
	fmt.Fprintf(w, "Reader:   %s\n", rep.Method)
	fmt.Fprintf(w, "Sheets:   %d\n\n", len(rep.Sheets))
	for _, s := range rep.Sheets {
		fmt.Fprintf(w, "  [%s] rows=%d cells=%d\n", s.Name, s.Rows, s.Cells)
		for _, c := range s.Samples {
			fmt.Fprintf(w, "    %-12s %s\n", c.Column+fmt.Sprint(c.Row), oneLine(c.Display, 80))
		}
	}
	if rep.Matches == nil {
		return
	}
	fmt.Fprintf(w, "\nMatches:  %d (tier %.0f)\n", len(rep.Matches), matcher.Percentage(rep.Matches))
	for _, m := range rep.Matches {
		fmt.Fprintf(w, "  %6.1f  %-30s %-16s %s\n", m.Score, oneLine(m.ProductName, 30), m.CellAddress, oneLine(m.DisplayText, 60))
	}
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
