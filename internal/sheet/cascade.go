package sheet

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/brensch/tenderscan/internal/apperr"
)

// ErrStopWalk ends a WalkRows early without reporting an error.
var ErrStopWalk = errors.New("stop walk")

// Workbook is an opened document. Values passed to the row callback are the
// cell display strings indexed by 0-based column; row numbers are 1-based.
type Workbook interface {
	SheetNames() []string
	WalkRows(sheet string, fn func(row int, values []string) error) error
	Close() error
}

// Strategy opens a document one particular way.
type Strategy interface {
	Name() string
	Open(path string) (Workbook, error)
}

// Attempt records one failed strategy.
type Attempt struct {
	Method string
	Err    error
}

// ParseError is returned when every strategy failed.
type ParseError struct {
	Path     string
	Format   Format
	Attempts []Attempt
}

const (
	summaryAttempts = 5
	summaryErrLen   = 50
)

// Summary renders the attempts as "method: error | method: error", listing
// the first five and counting the rest.
func (e *ParseError) Summary() string {
	parts := make([]string, 0, summaryAttempts+1)
	for i, a := range e.Attempts {
		if i == summaryAttempts {
			parts = append(parts, fmt.Sprintf("... and %d more", len(e.Attempts)-summaryAttempts))
			break
		}
		msg := "unknown error"
		if a.Err != nil {
			msg = truncateRunes(a.Err.Error(), summaryErrLen)
		}
		parts = append(parts, a.Method+": "+msg)
	}
	return strings.Join(parts, " | ")
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse %s (detected %s) with any reader: %s", filepath.Base(e.Path), e.Format, e.Summary())
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Cascade tries strategies in a format-dependent order until one opens the
// document.
type Cascade struct {
	strategies map[string]Strategy
	logger     *slog.Logger
}

// Strategy names.
const (
	MethodXLS           = "xls"
	MethodXLSX          = "xlsx"
	MethodCSV           = "csv"
	MethodHTML          = "html"
	MethodSpreadsheetML = "spreadsheetml"
)

// NewCascade builds a cascade over the given strategies, keyed by Name.
func NewCascade(logger *slog.Logger, strategies ...Strategy) *Cascade {
	m := make(map[string]Strategy, len(strategies))
	for _, s := range strategies {
		m[s.Name()] = s
	}
	return &Cascade{strategies: m, logger: logger}
}

// DefaultStrategies returns every built-in reader.
func DefaultStrategies() []Strategy {
	return []Strategy{xlsStrategy{}, xlsxStrategy{}, csvStrategy{}, htmlStrategy{}, spreadsheetMLStrategy{}}
}

var genericOrder = []string{MethodCSV, MethodHTML, MethodSpreadsheetML}

// Order returns the strategy names tried for a detected format: the primary
// reader, the alternate binary reader, then the generic tabular readers.
func Order(f Format) []string {
	var head []string
	switch f {
	case FormatXLSX, FormatUnknownXLSX:
		head = []string{MethodXLSX, MethodXLS}
	case FormatXLS, FormatUnknownXLS, FormatUnknown:
		head = []string{MethodXLS, MethodXLSX}
	case FormatCSV:
		head = []string{MethodCSV, MethodXLS, MethodXLSX}
	case FormatHTML:
		head = []string{MethodHTML, MethodXLS, MethodXLSX}
	case FormatXML:
		head = []string{MethodSpreadsheetML, MethodXLS, MethodXLSX}
	default:
		return nil
	}
	out := head
	for _, m := range genericOrder {
		if !containsString(out, m) {
			out = append(out, m)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Open detects the format of path and tries each strategy in Order. A
// strategy counts as successful once it has read the first row of the first
// sheet. On success it returns the workbook and the name of the strategy that
// opened it. On failure the error is a KindParse apperr wrapping a
// *ParseError.
func (c *Cascade) Open(path string) (Workbook, string, error) {
	return c.open(path, nil)
}

// open is Open that skips the methods of failed, which count as attempts.
func (c *Cascade) open(path string, failed []Attempt) (Workbook, string, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, "", apperr.New(apperr.KindParse, "detect", err).WithPath(path)
	}
	l := c.logger.With(slog.String("file", filepath.Base(path)), slog.String("format", string(format)))

	perr := &ParseError{Path: path, Format: format, Attempts: append([]Attempt(nil), failed...)}
	if format == FormatArchive {
		perr.Attempts = append(perr.Attempts, Attempt{Method: "detect", Err: errors.New("file is an archive, not a spreadsheet")})
		return nil, "", apperr.New(apperr.KindParse, "open", perr).WithPath(path)
	}
	if format == FormatCorrupted {
		perr.Attempts = append(perr.Attempts, Attempt{Method: "detect", Err: errors.New("empty or unreadable header")})
		return nil, "", apperr.New(apperr.KindParse, "open", perr).WithPath(path)
	}

	for _, name := range Order(format) {
		s, ok := c.strategies[name]
		if !ok || attempted(failed, name) {
			continue
		}
		wb, err := s.Open(path)
		if err == nil {
			if err = readFirstRow(wb); err != nil {
				wb.Close()
			}
		}
		if err == nil {
			if len(perr.Attempts) > 0 {
				l.Info("Opened document after fallback.", "method", name, "failed_attempts", len(perr.Attempts))
			}
			return wb, name, nil
		}
		l.Debug("Reader failed, trying next.", "method", name, "error", err)
		perr.Attempts = append(perr.Attempts, Attempt{Method: name, Err: err})
	}
	l.Warn("All readers failed.", "attempts", perr.Summary())
	return nil, "", apperr.New(apperr.KindParse, "open", perr).WithPath(path)
}

// readFirstRow walks one row of the first sheet. Some readers accept files on
// open that they cannot walk.
func readFirstRow(wb Workbook) error {
	names := wb.SheetNames()
	if len(names) == 0 {
		return errors.New("workbook has no sheets")
	}
	return wb.WalkRows(names[0], func(int, []string) error { return ErrStopWalk })
}

func attempted(attempts []Attempt, method string) bool {
	for _, a := range attempts {
		if a.Method == method {
			return true
		}
	}
	return false
}
