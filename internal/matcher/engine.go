package matcher

import (
	"context"
	"iter"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/brensch/tenderscan/internal/sheet"
)

// Score tiers.
const (
	TierExact = 100.0
	TierGood  = 85.0
)

const (
	DefaultMinScore   = 56.0
	DefaultMaxMatches = 50
)

// Match is the best hit for one product.
type Match struct {
	ProductName     string
	Score           float64
	Full            bool
	SourceFile      string
	Sheet           string
	Row             int
	Column          string
	CellAddress     string
	MatchedText     string
	DisplayText     string
	MatchedKeywords []string
	Context         *sheet.RowContext
}

// Options tunes an Engine. Zero values select the defaults.
type Options struct {
	MinScore    float64
	MaxMatches  int
	StopPhrases []string
}

// Engine matches cell streams against a catalog. It holds no per-file state
// and is safe for concurrent use.
type Engine struct {
	logger     *slog.Logger
	catalog    *Catalog
	stop       []string
	minScore   float64
	maxMatches int
}

func New(logger *slog.Logger, catalog *Catalog, opts Options) *Engine {
	e := &Engine{
		logger:     logger,
		catalog:    catalog,
		minScore:   opts.MinScore,
		maxMatches: opts.MaxMatches,
	}
	if e.minScore <= 0 {
		e.minScore = DefaultMinScore
	}
	if e.maxMatches <= 0 {
		e.maxMatches = DefaultMaxMatches
	}
	for _, p := range opts.StopPhrases {
		if f := fold(p); f != "" {
			e.stop = append(e.stop, f)
		}
	}
	return e
}

// MatchCells scans one document's cells and returns, per product, the best
// match at or above the score floor, highest score first.
func (e *Engine) MatchCells(ctx context.Context, source string, cells iter.Seq2[sheet.Cell, error]) ([]Match, error) {
	start := time.Now()
	var (
		found     []Match
		byProduct = make(map[string]int)
		processed int
	)
	for c, err := range cells {
		if err != nil {
			return nil, err
		}
		processed++
		if processed%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			e.logger.Debug("Matching in progress.", "file", source, "cells", processed, "matches", len(found))
		}
		m, ok := e.matchCell(c)
		if !ok {
			continue
		}
		m.SourceFile = source
		if i, seen := byProduct[m.ProductName]; seen {
			if found[i].Score >= m.Score {
				continue
			}
			found[i] = m
			continue
		}
		byProduct[m.ProductName] = len(found)
		found = append(found, m)
	}
	out := e.Finalize(found)
	e.logger.Debug("Matched document.", "file", source, "cells", processed, "matches", len(out), "duration", time.Since(start))
	return out, nil
}

// matchCell picks the best product for one cell, preferring full matches.
// Equal scores keep the earlier catalog entry.
func (e *Engine) matchCell(c sheet.Cell) (Match, bool) {
	if e.stopped(c.Text) {
		return Match{}, false
	}
	ct := newCellText(c.Text)
	var (
		best    Hit
		product string
		ok      bool
	)
	for _, p := range e.catalog.Products() {
		h, hit := score(ct, p)
		if !hit {
			continue
		}
		switch {
		case !ok:
		case h.Full && !best.Full:
		case h.Full == best.Full && h.Score > best.Score:
		default:
			continue
		}
		best, product, ok = h, p.Name, true
	}
	if !ok {
		return Match{}, false
	}
	return Match{
		ProductName:     product,
		Score:           best.Score,
		Full:            best.Full,
		Sheet:           c.Sheet,
		Row:             c.Row,
		Column:          c.Column,
		CellAddress:     c.Address,
		MatchedText:     c.Text,
		DisplayText:     c.Display,
		MatchedKeywords: best.Keywords,
	}, true
}

func (e *Engine) stopped(text string) bool {
	for _, s := range e.stop {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}

// Merge combines per-document results. Each product keeps its highest score;
// ties keep the match from the earlier list.
func (e *Engine) Merge(lists ...[]Match) []Match {
	var (
		found     []Match
		byProduct = make(map[string]int)
	)
	for _, list := range lists {
		for _, m := range list {
			if i, seen := byProduct[m.ProductName]; seen {
				if found[i].Score >= m.Score {
					continue
				}
				found[i] = m
				continue
			}
			byProduct[m.ProductName] = len(found)
			found = append(found, m)
		}
	}
	return e.Finalize(found)
}

// Finalize applies the score floor, orders by score descending (stable) and
// caps the list.
func (e *Engine) Finalize(matches []Match) []Match {
	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		if m.Score >= e.minScore {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > e.maxMatches {
		out = out[:e.maxMatches]
	}
	return out
}

// Percentage is the aggregate tier of a match set: 100 if any match is exact,
// 85 if any is good, otherwise 0.
func Percentage(matches []Match) float64 {
	var pct float64
	for _, m := range matches {
		switch {
		case m.Score >= TierExact:
			return TierExact
		case m.Score >= TierGood:
			pct = TierGood
		}
	}
	return pct
}
