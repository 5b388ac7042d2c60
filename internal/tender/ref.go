// Package tender holds the identity of a procurement notice.
package tender

import (
	"fmt"
	"strconv"
	"strings"
)

// Registry is the legal regime a tender is published under.
type Registry string

const (
	Registry44  Registry = "44fz"
	Registry223 Registry = "223fz"
)

func (r Registry) Valid() bool {
	return r == Registry44 || r == Registry223
}

// Ref identifies a tender. It is the key of every stored result.
type Ref struct {
	ID       int64    `yaml:"id" json:"id"`
	Registry Registry `yaml:"registry_type" json:"registry_type"`
}

// String returns the folder-style key, e.g. 44fz_123.
func (r Ref) String() string {
	return fmt.Sprintf("%s_%d", r.Registry, r.ID)
}

// Validate reports a missing id or unknown registry.
func (r Ref) Validate() error {
	if r.ID <= 0 {
		return fmt.Errorf("tender id must be positive, got %d", r.ID)
	}
	if !r.Registry.Valid() {
		return fmt.Errorf("unknown registry type %q", r.Registry)
	}
	return nil
}

// ParseRef parses the String form. Registry names are matched case-insensitively
// and accept the 44-fz / 44_fz spellings used in folder names.
func ParseRef(s string) (Ref, error) {
	i := strings.LastIndexByte(s, '_')
	if i <= 0 {
		return Ref{}, fmt.Errorf("invalid tender key %q: want <registry>_<id>", s)
	}
	id, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil {
		return Ref{}, fmt.Errorf("invalid tender key %q: %w", s, err)
	}
	reg := Registry(strings.NewReplacer("-", "", "_", "").Replace(strings.ToLower(s[:i])))
	ref := Ref{ID: id, Registry: reg}
	if err := ref.Validate(); err != nil {
		return Ref{}, fmt.Errorf("invalid tender key %q: %w", s, err)
	}
	return ref, nil
}
