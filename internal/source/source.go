// Package source lists the tenders a run works on and the files attached to
// them: a YAML manifest of remote documents, or folders already on disk.
package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/brensch/tenderscan/internal/tender"
)

// Document is one attachment. Exactly one of URL or Path is normally set:
// URL for documents still to be downloaded, Path for files on disk.
type Document struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	Size int64  `yaml:"size"` // bytes, 0 when unknown
	Path string `yaml:"path"`
}

// Tender is a unit of work: a reference and its documents.
type Tender struct {
	tender.Ref `yaml:",inline"`
	Documents  []Document `yaml:"documents"`
	// IndexURL points at an HTML page listing the documents, used when the
	// manifest has no direct links.
	IndexURL string `yaml:"index_url"`
	// LocalDir is the folder a local scan found the tender in.
	LocalDir string `yaml:"-"`
}

type manifest struct {
	Tenders []Tender `yaml:"tenders"`
}

// LoadManifest reads tenders from a YAML file of the form
//
//	tenders:
//	  - id: 123
//	    registry_type: 44fz
//	    documents:
//	      - {name: smeta.xlsx, url: https://..., size: 52000}
//
// Entries with an invalid reference are reported together.
func LoadManifest(path string) ([]Tender, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	var errs []error
	out := make([]Tender, 0, len(m.Tenders))
	seen := make(map[tender.Ref]bool, len(m.Tenders))
	for i, t := range m.Tenders {
		if err := t.Ref.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("manifest entry %d: %w", i+1, err))
			continue
		}
		if seen[t.Ref] {
			errs = append(errs, fmt.Errorf("manifest entry %d: duplicate tender %s", i+1, t.Ref))
			continue
		}
		seen[t.Ref] = true
		out = append(out, t)
	}
	return out, errors.Join(errs...)
}

// ScanLocal finds tender folders (named like 44fz_123) directly under root
// and lists the regular files inside each one, recursively. Folders with other
// names are ignored.
func ScanLocal(root string) ([]Tender, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}

	var out []Tender
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ref, err := tender.ParseRef(e.Name())
		if err != nil {
			continue
		}
		dir := filepath.Join(root, e.Name())
		docs, err := listDocuments(dir)
		if err != nil {
			return nil, err
		}
		out = append(out, Tender{Ref: ref, Documents: docs, LocalDir: dir})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func listDocuments(dir string) ([]Document, error) {
	var docs []Document
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		docs = append(docs, Document{Name: d.Name(), Path: path, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	return docs, nil
}
