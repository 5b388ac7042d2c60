package source

import (
	"net/url"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/brensch/tenderscan/internal/archive"
)

// FileName returns the document's name, falling back to the last segment of
// its path or URL.
func (d Document) FileName() string {
	if d.Name != "" {
		return d.Name
	}
	if d.Path != "" {
		return filepath.Base(d.Path)
	}
	if u, err := url.Parse(d.URL); err == nil && u.Path != "" {
		if name, err := url.PathUnescape(path.Base(u.Path)); err == nil && name != "/" && name != "." {
			return name
		}
	}
	return ""
}

// Priority ranks: workbooks first, then legacy workbooks, archives, and
// everything else.
const (
	priorityWorkbook = iota
	priorityLegacy
	priorityArchive
	priorityOther
)

func priority(name string) int {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".xlsx"), strings.HasSuffix(lower, ".xlsm"):
		return priorityWorkbook
	case strings.HasSuffix(lower, ".xls"):
		return priorityLegacy
	case archive.IsArchiveName(lower):
		return priorityArchive
	default:
		return priorityOther
	}
}

// relevant keeps spreadsheets, archives and extension-less names, whose
// content is only known after download.
func relevant(name string) bool {
	return archive.IsSpreadsheetName(name) || archive.IsArchiveName(name) || filepath.Ext(name) == ""
}

// SelectDocuments returns the documents worth downloading, in processing
// order. Duplicates by (name, url) are dropped, as are documents with neither
// and known non-spreadsheet types (pdf, docx, images). Volumes of one archive
// stay adjacent in ascending part order.
func SelectDocuments(docs []Document) []Document {
	type ranked struct {
		doc   Document
		prio  int
		group string
		part  int
		name  string
	}

	seen := make(map[[2]string]bool, len(docs))
	var keep []ranked
	for _, d := range docs {
		name := d.FileName()
		if name == "" && d.URL == "" && d.Path == "" {
			continue
		}
		key := [2]string{name, d.URL}
		if seen[key] {
			continue
		}
		seen[key] = true
		if !relevant(name) {
			continue
		}
		r := ranked{doc: d, prio: priority(name), name: strings.ToLower(name)}
		r.group = r.name
		if base, ext, part, _, ok := archive.ParsePart(name); ok {
			r.group = strings.ToLower(base) + "." + ext
			r.part = part
		}
		keep = append(keep, r)
	}

	sort.SliceStable(keep, func(i, j int) bool {
		a, b := keep[i], keep[j]
		if a.prio != b.prio {
			return a.prio < b.prio
		}
		if a.group != b.group {
			return a.group < b.group
		}
		if a.part != b.part {
			return a.part < b.part
		}
		return a.name < b.name
	})

	out := make([]Document, len(keep))
	for i, r := range keep {
		out[i] = r.doc
	}
	return out
}

// TotalSize sums the known sizes of docs.
func TotalSize(docs []Document) int64 {
	var n int64
	for _, d := range docs {
		n += d.Size
	}
	return n
}
