// Package archive assembles and extracts single and multi-volume archives.
package archive

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/brensch/tenderscan/internal/apperr"
)

var (
	// name.part1.rar, name_part02.zip, name part3.7z
	partSuffix = regexp.MustCompile(`(?i)^(.+?)[._ -]part0*(\d+)\.(rar|zip|7z)$`)
	// name.7z.001, name.zip.002
	numericSuffix = regexp.MustCompile(`(?i)^(.+)\.(7z|zip|rar)\.0*(\d+)$`)
	plainArchive  = regexp.MustCompile(`(?i)^(.+)\.(rar|zip|7z)$`)
)

// Part is one volume of an archive group. Index is 0 for single archives.
type Part struct {
	Path  string
	Index int
}

// Group is a set of volumes sharing a base name, sorted by ascending Index.
type Group struct {
	Base  string
	Ext   string // rar, zip or 7z, lower case
	Parts []Part
	// Numbered reports the .7z.001 naming, which 7-Zip follows natively.
	Numbered bool
}

// Multi reports whether the group is a multi-volume archive.
func (g Group) Multi() bool {
	return len(g.Parts) > 1 || (len(g.Parts) == 1 && g.Parts[0].Index > 0)
}

// First returns the lowest-numbered part.
func (g Group) First() string {
	if len(g.Parts) == 0 {
		return ""
	}
	return g.Parts[0].Path
}

// Paths returns the part paths in ascending order.
func (g Group) Paths() []string {
	out := make([]string, len(g.Parts))
	for i, p := range g.Parts {
		out[i] = p.Path
	}
	return out
}

// Validate reports a missing or duplicated volume as an archive-corrupt error.
func (g Group) Validate() error {
	if !g.Multi() {
		return nil
	}
	for i, p := range g.Parts {
		want := i + 1
		if p.Index != want {
			return apperr.Errorf(apperr.KindArchiveCorrupt, "assemble",
				"archive %s is incomplete: part %d missing (have %s)", g.Base, want, g.indexList()).WithPath(g.First())
		}
	}
	return nil
}

func (g Group) indexList() string {
	s := make([]string, len(g.Parts))
	for i, p := range g.Parts {
		s[i] = strconv.Itoa(p.Index)
	}
	return strings.Join(s, ",")
}

// ParsePart splits an archive file name into base name, lower-case extension
// and part number. Part is 0 for non-volume archives. ok is false for files
// that are not archives by name.
func ParsePart(name string) (base, ext string, part int, numbered, ok bool) {
	name = filepath.Base(name)
	if m := numericSuffix.FindStringSubmatch(name); m != nil {
		n, _ := strconv.Atoi(m[3])
		return m[1], strings.ToLower(m[2]), n, true, true
	}
	if m := partSuffix.FindStringSubmatch(name); m != nil {
		n, _ := strconv.Atoi(m[2])
		return m[1], strings.ToLower(m[3]), n, false, true
	}
	if m := plainArchive.FindStringSubmatch(name); m != nil {
		return m[1], strings.ToLower(m[2]), 0, false, true
	}
	return "", "", 0, false, false
}

// IsArchiveName reports whether name looks like an archive or archive volume.
func IsArchiveName(name string) bool {
	_, _, _, _, ok := ParsePart(name)
	return ok
}

// GroupParts groups archive paths by case-folded base name and extension and
// sorts each group's parts ascending. Non-archive paths are returned in rest.
func GroupParts(paths []string) (groups []Group, rest []string) {
	index := make(map[string]int)
	for _, p := range paths {
		base, ext, n, numbered, ok := ParsePart(p)
		if !ok {
			rest = append(rest, p)
			continue
		}
		key := fmt.Sprintf("%s|%s|%s", filepath.Dir(p), strings.ToLower(base), ext)
		i, seen := index[key]
		if !seen {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Base: base, Ext: ext, Numbered: numbered})
		}
		groups[i].Parts = append(groups[i].Parts, Part{Path: p, Index: n})
	}
	for i := range groups {
		sort.SliceStable(groups[i].Parts, func(a, b int) bool {
			return groups[i].Parts[a].Index < groups[i].Parts[b].Index
		})
	}
	return groups, rest
}
