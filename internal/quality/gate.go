// Package quality scores candidate items and rejects degenerate content.
package quality

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/abelbrown/waitwiki/internal/model"
)

// DefaultThreshold is the minimum score an item needs to be shown.
const DefaultThreshold = 0.3

// DefaultPlaceholders are markers upstream APIs and the local fallbacks
// put in place of real content.
var DefaultPlaceholders = []string{"暂无", "No data"}

// Gate scores items. The zero value is not usable; use NewGate.
type Gate struct {
	Threshold    float64
	Placeholders []string
}

// NewGate returns a gate with the given threshold (<=0 means default).
func NewGate(threshold float64) *Gate {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Gate{
		Threshold:    threshold,
		Placeholders: DefaultPlaceholders,
	}
}

// Score rates item in [0,1]. Deductions are applied in a fixed order
// starting from 1.0 and the result is clamped at zero.
func (g *Gate) Score(item model.Item) float64 {
	score := 1.0

	titleLen := utf8.RuneCountInString(item.Title)
	switch {
	case titleLen < 2:
		score -= 0.3
	case titleLen > 100:
		score -= 0.1
	}

	bodyLen := utf8.RuneCountInString(item.Body)
	switch {
	case bodyLen < 10:
		score -= 0.4
	case bodyLen > 1000:
		score -= 0.1
	}

	for _, marker := range g.Placeholders {
		if marker != "" && strings.Contains(item.Body, marker) {
			score -= 0.3
			break
		}
	}

	if bodyLen > 0 && specialRatio(item.Body, bodyLen) > 0.3 {
		score -= 0.2
	}

	if score < 0 {
		return 0
	}
	return score
}

// Accept reports whether item clears the threshold.
func (g *Gate) Accept(item model.Item) bool {
	return g.Score(item) >= g.Threshold
}

// specialRatio is the share of runes that are neither word characters,
// whitespace, nor CJK ideographs.
func specialRatio(s string, n int) float64 {
	special := 0
	for _, r := range s {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || unicode.Is(unicode.Han, r) {
			continue
		}
		special++
	}
	return float64(special) / float64(n)
}
