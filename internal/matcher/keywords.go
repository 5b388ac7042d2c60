// Package matcher scores spreadsheet cells against a product catalog.
package matcher

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hbollon/go-edlib"
	"golang.org/x/text/cases"
)

const (
	minTokenLen = 3
	// FuzzyThreshold is the token similarity, in percent, that counts as a hit.
	FuzzyThreshold = 85.0
)

var (
	parenthetical = regexp.MustCompile(`\([^)]*\)`)
	wordPattern   = regexp.MustCompile(`[а-яёa-z0-9]+`)
)

// Product is a catalog entry prepared for matching.
type Product struct {
	Name   string
	Phrase string // folded name without parentheticals, empty if shorter than 3 runes
	Tokens []string
}

// Prepare builds the matching pattern for name. ok is false when the name
// carries nothing to match on.
func Prepare(name string) (Product, bool) {
	cleaned := strings.TrimSpace(parenthetical.ReplaceAllString(name, ""))
	if cleaned == "" {
		return Product{}, false
	}
	folded := fold(cleaned)
	p := Product{Name: name}
	if utf8.RuneCountInString(folded) >= minTokenLen {
		p.Phrase = folded
	}
	seen := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(folded, -1) {
		if utf8.RuneCountInString(w) < minTokenLen || isDigits(w) || seen[w] {
			continue
		}
		seen[w] = true
		p.Tokens = append(p.Tokens, w)
	}
	if p.Phrase == "" && len(p.Tokens) == 0 {
		return Product{}, false
	}
	return p, true
}

// Catalog is the prepared, read-only product list for a run.
type Catalog struct {
	products []Product
}

// NewCatalog prepares names, dropping duplicates and names with nothing to
// match on. Order is preserved.
func NewCatalog(names []string) *Catalog {
	c := &Catalog{}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		if p, ok := Prepare(n); ok {
			c.products = append(c.products, p)
		}
	}
	return c
}

func (c *Catalog) Products() []Product { return c.products }

func (c *Catalog) Len() int { return len(c.products) }

// Hit is the outcome of scoring one text against one product.
type Hit struct {
	Score    float64
	Full     bool
	Keywords []string
}

// cellText is a cell prepared once for scoring against every product.
type cellText struct {
	text  string
	words []string
}

func newCellText(text string) cellText {
	ct := cellText{text: text}
	for _, w := range wordPattern.FindAllString(text, -1) {
		if utf8.RuneCountInString(w) >= minTokenLen {
			ct.words = append(ct.words, w)
		}
	}
	return ct
}

// Score rates a folded cell text against p. ok is false below the 30%
// keyword coverage floor.
func Score(text string, p Product) (Hit, bool) {
	return score(newCellText(text), p)
}

func score(ct cellText, p Product) (Hit, bool) {
	if p.Phrase != "" && strings.Contains(ct.text, p.Phrase) {
		return Hit{Score: 100, Full: true, Keywords: []string{p.Phrase}}, true
	}
	if len(p.Tokens) == 0 {
		return Hit{}, false
	}
	var matched []string
	for _, tok := range p.Tokens {
		if strings.Contains(ct.text, tok) || fuzzyHit(tok, ct.words) {
			matched = append(matched, tok)
		}
	}
	if len(matched) == 0 {
		return Hit{}, false
	}
	r := float64(len(matched)) / float64(len(p.Tokens))
	switch {
	case r >= 0.6:
		return Hit{Score: 85 + (r-0.6)*15, Keywords: matched}, true
	case r >= 0.3:
		return Hit{Score: 35 + (r-0.3)*50, Keywords: matched}, true
	}
	return Hit{}, false
}

func fuzzyHit(token string, words []string) bool {
	lt := utf8.RuneCountInString(token)
	for _, w := range words {
		lw := utf8.RuneCountInString(w)
		// LCS is bounded by the shorter word.
		if 200*float64(min(lt, lw))/float64(lt+lw) < FuzzyThreshold {
			continue
		}
		if Ratio(token, w) >= FuzzyThreshold {
			return true
		}
	}
	return false
}

// Ratio is the normalized indel similarity of a and b in percent:
// 2*LCS/(len(a)+len(b))*100, counted in runes.
func Ratio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la+lb == 0 {
		return 100
	}
	return 200 * float64(edlib.LCS(a, b)) / float64(la+lb)
}

func fold(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
