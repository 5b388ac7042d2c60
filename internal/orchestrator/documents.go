package orchestrator

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/brensch/tenderscan/internal/db"
	"github.com/brensch/tenderscan/internal/matcher"
	"github.com/brensch/tenderscan/internal/store"
)

// matchDocuments matches every document with at most FileWorkers in flight.
// A failing document becomes a file error and does not stop its siblings.
// lists is indexed like docs; failed counts the documents that errored.
func (r *tenderRun) matchDocuments(ctx context.Context, docs []string) (lists [][]matcher.Match, failed int, err error) {
	lists = make([][]matcher.Match, len(docs))
	errs := make([]error, len(docs))

	var g errgroup.Group
	g.SetLimit(r.c.opts.FileWorkers)
	for i, path := range docs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			lists[i], errs[i] = r.matchDocument(ctx, path)
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	for i, err := range errs {
		if err == nil {
			continue
		}
		failed++
		name := r.relName(docs[i])
		r.logger.Warn("Failed to process document.", "file", name, "error", err)
		r.addFileError(name, docs[i], fileSize(docs[i]), err)
		r.record(ctx, db.EventError, name, err.Error(), 0)
	}
	return lists, failed, nil
}

func (r *tenderRun) matchDocument(ctx context.Context, path string) ([]matcher.Match, error) {
	deps := r.c.deps
	if deps.Guard != nil {
		if err := deps.Guard.Check(path); err != nil {
			return nil, err
		}
	}
	if deps.Verifier != nil {
		if err := deps.Verifier.Verify(ctx, path); err != nil {
			return nil, err
		}
	}
	return deps.Matcher.MatchCells(ctx, r.relName(path), deps.Parser.Cells(ctx, path))
}

// attachContext fills in the row context of each kept match. Rows that can no
// longer be read keep a nil context.
func (r *tenderRun) attachContext(matches []matcher.Match, docs []string) {
	byName := r.docsByName(docs)
	for i := range matches {
		m := &matches[i]
		path, ok := byName[m.SourceFile]
		if !ok {
			continue
		}
		rc, err := r.c.deps.Parser.RowContext(path, m.Sheet, m.Row, m.Column, r.c.opts.ContextColumns)
		if err != nil {
			r.logger.Debug("Row context unavailable.", "cell", m.CellAddress, "file", m.SourceFile, "error", err)
			continue
		}
		m.Context = &rc
	}
}

// relName is the document path relative to the tender folder, the name
// matches and file errors are stored under.
func (r *tenderRun) relName(path string) string {
	rel, err := filepath.Rel(r.dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}

func (r *tenderRun) docsByName(docs []string) map[string]string {
	m := make(map[string]string, len(docs))
	for _, p := range docs {
		m[r.relName(p)] = p
	}
	return m
}

func toDetails(matches []matcher.Match) []store.MatchDetail {
	out := make([]store.MatchDetail, 0, len(matches))
	for _, m := range matches {
		keywords := m.MatchedKeywords
		if keywords == nil {
			keywords = []string{}
		}
		kw, _ := json.Marshal(keywords)
		var rowContext string
		if m.Context != nil {
			if b, err := json.Marshal(m.Context); err == nil {
				rowContext = string(b)
			}
		}
		text := m.DisplayText
		if text == "" {
			text = m.MatchedText
		}
		out = append(out, store.MatchDetail{
			ProductName:     m.ProductName,
			Score:           m.Score,
			SheetName:       m.Sheet,
			RowIndex:        m.Row,
			ColumnLetter:    m.Column,
			CellAddress:     m.CellAddress,
			SourceFile:      m.SourceFile,
			MatchedText:     text,
			MatchedKeywords: string(kw),
			RowContext:      rowContext,
		})
	}
	return out
}
