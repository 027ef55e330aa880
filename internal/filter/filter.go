// Package filter provides the anti-repeat machinery used before selection.
// The helpers in this file are pure: items in, items out, no side effects.
package filter

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/abelbrown/waitwiki/internal/model"
)

// fingerprintWords is how many leading tokens make up a fingerprint.
const fingerprintWords = 5

// Candidate is an item plus its position in the allowed-category pool.
type Candidate struct {
	Index int
	Item  model.Item
}

// ByCategory keeps only items whose category is allowed, remembering each
// survivor's index in the resulting pool.
func ByCategory(items []model.Item, allowed model.CategorySet) []Candidate {
	if len(items) == 0 || len(allowed) == 0 {
		return []Candidate{}
	}

	result := make([]Candidate, 0, len(items))
	for _, item := range items {
		if allowed.Has(item.Category) {
			result = append(result, Candidate{Index: len(result), Item: item})
		}
	}
	return result
}

// Fingerprint derives a coarse near-duplicate key from a body: NFKC-fold,
// drop every rune that is not a word character, whitespace or CJK
// ideograph, then keep the first five whitespace-separated tokens.
func Fingerprint(body string) string {
	body = norm.NFKC.String(body)

	var b strings.Builder
	b.Grow(len(body))
	for _, r := range body {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || unicode.Is(unicode.Han, r) {
			b.WriteRune(r)
		}
	}

	words := strings.Fields(b.String())
	if len(words) > fingerprintWords {
		words = words[:fingerprintWords]
	}
	return strings.Join(words, " ")
}

// Titles returns the titles of candidates, in order.
func Titles(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Item.Title
	}
	return out
}
