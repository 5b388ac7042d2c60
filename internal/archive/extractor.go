package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/brensch/tenderscan/internal/apperr"
)

// DefaultMaxDepth bounds archive-in-archive recursion.
const DefaultMaxDepth = 3

// Options configures an Extractor. Zero values select the defaults.
type Options struct {
	Unrar    string
	SevenZip string
	Runner   Runner
	MaxDepth int
}

// Extractor unpacks tender archives into a work folder.
type Extractor struct {
	logger   *slog.Logger
	unrar    string
	sevenZip string
	run      Runner
	maxDepth int
}

// Failure records an input that could not be unpacked. The rest of the batch
// is still processed.
type Failure struct {
	Path string
	Err  error
}

func New(logger *slog.Logger, opts Options) *Extractor {
	e := &Extractor{
		logger:   logger,
		unrar:    opts.Unrar,
		sevenZip: opts.SevenZip,
		run:      opts.Runner,
		maxDepth: opts.MaxDepth,
	}
	if e.unrar == "" {
		e.unrar = "unrar"
	}
	if e.sevenZip == "" {
		e.sevenZip = "7z"
	}
	if e.run == nil {
		e.run = ExecRunner
	}
	if e.maxDepth <= 0 {
		e.maxDepth = DefaultMaxDepth
	}
	return e
}

// Check verifies the external tools can be found.
func (e *Extractor) Check() error {
	var errs []error
	for _, tool := range []string{e.unrar, e.sevenZip} {
		if _, err := lookTool(tool); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Extract unpacks one archive group into dest and returns every regular file
// written, nested archives included but not yet expanded. When only some
// members fail the files are returned with an EntryErrors error.
func (e *Extractor) Extract(ctx context.Context, g Group, dest string) ([]string, error) {
	if len(g.Parts) == 0 {
		return nil, fmt.Errorf("archive group %s has no parts", g.Base)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, err
	}

	kind := g.Ext
	if sniffed, err := Sniff(g.First()); err == nil && sniffed != KindNone && !g.Multi() {
		kind = sniffed
	}

	switch kind {
	case KindZip:
		src := g.First()
		if g.Multi() {
			combined, err := concatParts(g, filepath.Dir(dest))
			if err != nil {
				return nil, apperr.New(apperr.KindArchiveCorrupt, "assemble", err).WithPath(g.First())
			}
			e.logger.Debug("Concatenated split zip.", "archive", g.Base, "parts", len(g.Parts), "combined", combined)
			src = combined
		}
		files, failed, err := extractZip(src, dest)
		if err != nil {
			return nil, err
		}
		if len(failed) > 0 {
			e.logger.Warn("Some zip entries could not be extracted.", "archive", g.Base, "failed", len(failed))
			return files, failed
		}
		return files, nil
	case KindRar:
		if err := e.runUnrar(ctx, g.First(), dest); err != nil {
			return nil, err
		}
	case Kind7z:
		src := g.First()
		if g.Multi() && !g.Numbered {
			combined, err := concatParts(g, filepath.Dir(dest))
			if err != nil {
				return nil, apperr.New(apperr.KindArchiveCorrupt, "assemble", err).WithPath(g.First())
			}
			src = combined
		}
		if err := e.run7z(ctx, src, dest); err != nil {
			return nil, err
		}
	default:
		return nil, apperr.Errorf(apperr.KindArchiveCorrupt, "extract", "unsupported archive type %q", kind).WithPath(g.First())
	}
	return listFiles(dest)
}

// Collect turns a batch of downloaded files into spreadsheet documents,
// expanding archives recursively. Per-input failures are returned alongside
// the documents. A configuration error aborts the batch and is returned as err.
func (e *Extractor) Collect(ctx context.Context, paths []string, dest string) (docs []string, failures []Failure, err error) {
	return e.collect(ctx, paths, dest, 0)
}

func (e *Extractor) collect(ctx context.Context, paths []string, dest string, depth int) ([]string, []Failure, error) {
	var (
		docs     []string
		failures []Failure
	)
	groups, rest := GroupParts(paths)
	for _, p := range rest {
		if !IsSpreadsheetName(p) {
			continue
		}
		if kind, ok := IsDisguisedArchive(p); ok {
			e.logger.Info("Spreadsheet name hides an archive.", "file", filepath.Base(p), "kind", kind)
			base := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
			groups = append(groups, Group{Base: base, Ext: kind, Parts: []Part{{Path: p}}})
			continue
		}
		docs = append(docs, p)
	}

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return docs, failures, err
		}
		if depth >= e.maxDepth {
			failures = append(failures, Failure{Path: g.First(), Err: apperr.Errorf(apperr.KindArchiveCorrupt,
				"extract", "archive nesting deeper than %d", e.maxDepth).WithPath(g.First())})
			continue
		}
		out := uniqueDir(filepath.Join(dest, sanitize(g.Base)))
		logger := e.logger.With("archive", g.Base, "parts", len(g.Parts), "depth", depth)
		files, err := e.Extract(ctx, g, out)
		var partial EntryErrors
		if errors.As(err, &partial) {
			for _, f := range partial {
				logger.Warn("Failed to extract archive entry.", "entry", f.Path, "error", f.Err)
			}
			failures = append(failures, partial...)
			err = nil
		}
		if err != nil {
			if apperr.Is(err, apperr.KindConfiguration) {
				return docs, failures, err
			}
			if ctx.Err() != nil {
				return docs, failures, ctx.Err()
			}
			logger.Warn("Failed to extract archive.", "error", err)
			failures = append(failures, Failure{Path: g.First(), Err: err})
			continue
		}
		logger.Debug("Extracted archive.", "files", len(files))
		nested, nestedFailures, err := e.collect(ctx, files, out, depth+1)
		docs = append(docs, nested...)
		failures = append(failures, nestedFailures...)
		if err != nil {
			return docs, failures, err
		}
	}
	sort.Strings(docs)
	return docs, failures, nil
}

func listFiles(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

func sanitize(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
	name = strings.Trim(name, ". ")
	if name == "" {
		return "archive"
	}
	return name
}

func uniqueDir(dir string) string {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return dir
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", dir, i)
		if _, err := os.Stat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate
		}
	}
}
