// Package downloader fetches tender documents into a work folder.
package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/h2non/filetype"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/brensch/tenderscan/internal/apperr"
	"github.com/brensch/tenderscan/internal/archive"
	"github.com/brensch/tenderscan/internal/source"
	"github.com/brensch/tenderscan/internal/util"
)

var commonUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:124.0) Gecko/20100101 Firefox/124.0",
}

func getRandomUserAgent() string {
	return commonUserAgents[rand.IntN(len(commonUserAgents))]
}

// Options configures a Downloader. Zero values pick defaults.
type Options struct {
	// UserAgent is sent with every request; empty rotates common browser agents.
	UserAgent string
	// Concurrency bounds transfers across all tenders sharing the Downloader.
	Concurrency int
	Client      *http.Client
	Timeouts    TimeoutCalculator
}

// Downloader fetches documents over HTTP or copies them from disk.
type Downloader struct {
	logger    *slog.Logger
	client    *http.Client
	sem       *semaphore.Weighted
	userAgent string
	timeouts  TimeoutCalculator
}

func New(logger *slog.Logger, opts Options) *Downloader {
	if opts.Concurrency < 1 {
		opts.Concurrency = 2
	}
	if opts.Client == nil {
		opts.Client = util.DefaultHTTPClient()
	}
	if opts.Timeouts.Logger == nil {
		opts.Timeouts.Logger = logger
	}
	return &Downloader{
		logger:    logger,
		client:    opts.Client,
		sem:       semaphore.NewWeighted(int64(opts.Concurrency)),
		userAgent: opts.UserAgent,
		timeouts:  opts.Timeouts,
	}
}

// Result lists what a tender download produced. Missing holds documents the
// server reported as gone; they do not fail the download unless nothing else
// arrived.
type Result struct {
	Paths   []string
	Bytes   int64
	Missing []Missing
}

type Missing struct {
	Document source.Document
	Err      error
}

// Download selects the tender's relevant documents, discovering them from
// its index page when none are listed, and fetches them into dir. Volumes of
// one archive keep their names so they can be grouped again. No relevant
// documents yields an empty Result and no error.
func (d *Downloader) Download(ctx context.Context, t source.Tender, dir string) (Result, error) {
	logger := d.logger.With(slog.String("tender", t.String()))

	docs := t.Documents
	if len(docs) == 0 && t.IndexURL != "" {
		found, err := d.Discover(ctx, t.IndexURL)
		if err != nil {
			return Result{}, err
		}
		docs = found
	}
	docs = source.SelectDocuments(docs)
	if len(docs) == 0 {
		logger.Info("No relevant documents to download.")
		return Result{}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create work folder %s: %w", dir, err)
	}

	total := source.TotalSize(docs)
	timeouts := d.timeouts.ForTender(ctx, total)
	logger.Debug("Downloading documents.", slog.Int("documents", len(docs)), slog.Int64("expected_bytes", total))

	used := make(map[string]bool, len(docs))
	targets := make([]string, len(docs))
	for i, doc := range docs {
		targets[i] = filepath.Join(dir, uniqueName(used, sanitizeName(doc.FileName(), i)))
	}

	sizes := make([]int64, len(docs))
	errs := make([]error, len(docs))
	var g errgroup.Group
	for i, doc := range docs {
		g.Go(func() error {
			if err := d.sem.Acquire(ctx, 1); err != nil {
				errs[i] = err
				return nil
			}
			defer d.sem.Release(1)
			sizes[i], errs[i] = d.fetch(ctx, logger, timeouts, doc, targets[i])
			if errs[i] == nil && filepath.Ext(targets[i]) == "" {
				targets[i] = withSniffedExt(logger, targets[i])
			}
			return nil
		})
	}
	g.Wait()

	var res Result
	var failed []error
	for i, err := range errs {
		switch {
		case err == nil:
			res.Paths = append(res.Paths, targets[i])
			res.Bytes += sizes[i]
		case apperr.Is(err, apperr.KindNotFound):
			logger.Warn("Document not found, skipping.", "document", docs[i].FileName(), "error", err)
			res.Missing = append(res.Missing, Missing{Document: docs[i], Err: err})
		default:
			failed = append(failed, err)
		}
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if len(failed) > 0 {
		return res, errors.Join(failed...)
	}
	if len(res.Paths) == 0 {
		return res, apperr.Errorf(apperr.KindNotFound, "download", "all %d documents of %s are gone", len(docs), t.String())
	}
	logger.Info("Downloaded documents.", slog.Int("files", len(res.Paths)), slog.Int64("bytes", res.Bytes), slog.Int("missing", len(res.Missing)))
	return res, nil
}

func (d *Downloader) fetch(ctx context.Context, logger *slog.Logger, timeouts TimeoutCalculator, doc source.Document, target string) (int64, error) {
	if doc.Path != "" {
		return copyFile(doc.Path, target)
	}
	u, err := url.Parse(doc.URL)
	if err != nil {
		return 0, fmt.Errorf("invalid document url %q: %w", doc.URL, err)
	}
	if u.Scheme == "file" {
		return copyFile(u.Path, target)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return 0, apperr.Errorf(apperr.KindConfiguration, "download", "unsupported url scheme %q", u.Scheme)
	}

	timeout := timeouts.Timeout(ctx, doc.FileName(), doc.Size)
	l := logger.With(slog.String("url", doc.URL), slog.Duration("timeout", timeout))
	l.Debug("Starting download.")
	start := time.Now()

	n, err := d.get(ctx, timeout, doc.URL, target)
	if err != nil {
		os.Remove(target + ".part")
		l.Warn("Download failed.", "error", err, slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
		return 0, err
	}
	l.Debug("Download complete.", slog.Int64("bytes", n), slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return n, nil
}

func (d *Downloader) get(ctx context.Context, timeout time.Duration, rawURL, target string) (int64, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := d.newRequest(reqCtx, rawURL)
	if err != nil {
		return 0, err
	}
	tmp := target + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	n, err := util.Fetch(d.client, req, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to write %s: %w", tmp, cerr)
	}
	if err != nil {
		return 0, classify(ctx, reqCtx, rawURL, timeout, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return 0, fmt.Errorf("failed to move download into place: %w", err)
	}
	return n, nil
}

func (d *Downloader) newRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	ua := d.userAgent
	if ua == "" {
		ua = getRandomUserAgent()
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en;q=0.8")
	return req, nil
}

// classify maps a failed transfer onto the error kinds the pipeline retries
// or finalizes on. Cancellation of the parent context is returned as is.
func classify(parent, req context.Context, rawURL string, timeout time.Duration, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	var se *util.StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusNotFound || se.Code == http.StatusGone:
			return apperr.New(apperr.KindNotFound, "download", err).WithPath(rawURL)
		case se.Code == http.StatusTooManyRequests || se.Code == http.StatusForbidden ||
			se.Code == http.StatusRequestTimeout || se.Code >= 500:
			return apperr.New(apperr.KindTransient, "download", err).WithPath(rawURL)
		default:
			return apperr.New(apperr.KindUnknown, "download", err).WithPath(rawURL)
		}
	}
	if errors.Is(req.Err(), context.DeadlineExceeded) {
		return apperr.New(apperr.KindTransient, "download",
			fmt.Errorf("timed out after %s: %w", timeout, context.DeadlineExceeded)).WithPath(rawURL)
	}
	return apperr.New(apperr.KindTransient, "download", err).WithPath(rawURL)
}

// Discover lists the spreadsheet and archive links of an HTML index page.
// A link's text names the document when it looks like a file name.
func (d *Downloader) Discover(ctx context.Context, indexURL string) ([]source.Document, error) {
	base, err := url.Parse(indexURL)
	if err != nil {
		return nil, fmt.Errorf("parse base %s: %w", indexURL, err)
	}
	req, err := d.newRequest(ctx, indexURL)
	if err != nil {
		return nil, err
	}
	body, err := util.DownloadFile(d.client, req)
	if err != nil {
		return nil, classify(ctx, ctx, indexURL, 0, err)
	}
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("discover parse HTML %s: %w", indexURL, err)
	}

	var docs []source.Document
	seen := make(map[string]bool)
	for _, link := range util.ParseLinks(root) {
		abs, err := base.Parse(link.Href)
		if err != nil {
			d.logger.Warn("Failed to resolve relative link", "link", link.Href, "error", err)
			continue
		}
		doc := source.Document{URL: abs.String()}
		if wanted(link.Text) {
			doc.Name = link.Text
		}
		if !wanted(doc.FileName()) || seen[doc.URL] {
			continue
		}
		seen[doc.URL] = true
		docs = append(docs, doc)
	}
	d.logger.Debug("Index page scanned.", slog.String("index_url", indexURL), slog.Int("documents", len(docs)))
	return docs, nil
}

func wanted(name string) bool {
	return archive.IsSpreadsheetName(name) || archive.IsArchiveName(name)
}

// withSniffedExt renames a file saved without an extension after its
// detected content type, so extraction and parsing can route it.
func withSniffedExt(logger *slog.Logger, path string) string {
	kind, err := filetype.MatchFile(path)
	if err != nil || kind == filetype.Unknown || kind.Extension == "" {
		return path
	}
	renamed := path + "." + kind.Extension
	if err := os.Rename(path, renamed); err != nil {
		logger.Warn("Failed to add detected extension.", "file", filepath.Base(path), "error", err)
		return path
	}
	return renamed
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, apperr.New(apperr.KindNotFound, "copy", err).WithPath(src)
		}
		return 0, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()
	if srcInfo, err := in.Stat(); err == nil {
		if dstInfo, err := os.Stat(dst); err == nil && os.SameFile(srcInfo, dstInfo) {
			return srcInfo.Size(), nil
		}
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dst, err)
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return n, nil
}

// sanitizeName keeps the base name and replaces path separators and
// characters that are invalid on common filesystems.
func sanitizeName(name string, i int) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, filepath.Base(name))
	if name == "" || name == "." || name == "_" {
		return fmt.Sprintf("document_%d", i+1)
	}
	return name
}

// uniqueName appends " (n)" before the extension until name is unused.
// Archive volume suffixes are kept intact.
func uniqueName(used map[string]bool, name string) string {
	key := strings.ToLower(name)
	if !used[key] {
		used[key] = true
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if k := strings.ToLower(candidate); !used[k] {
			used[k] = true
			return candidate
		}
	}
}
