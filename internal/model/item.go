// Package model holds the value types shared by every waitwiki component.
package model

import "strings"

// Category tags the content domain an item came from.
type Category string

// Known categories.
const (
	CategoryWikipedia Category = "wikipedia"
	CategoryQuotes    Category = "quotes"
	CategoryFacts     Category = "facts"
	CategoryAdvice    Category = "advice"
	CategoryCatFacts  Category = "catfacts"
	CategoryTrivia    Category = "trivia"
	CategoryCocktails Category = "cocktails"
	CategoryDataFacts Category = "datafacts"
	CategoryGathas    Category = "gathas"
)

// AllCategories returns every known category in display order.
func AllCategories() []Category {
	return []Category{
		CategoryWikipedia,
		CategoryQuotes,
		CategoryFacts,
		CategoryAdvice,
		CategoryCatFacts,
		CategoryTrivia,
		CategoryCocktails,
		CategoryDataFacts,
		CategoryGathas,
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range AllCategories() {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategories converts names to categories, skipping blanks.
// Unknown names are kept; callers validate.
func ParseCategories(names []string) []Category {
	out := make([]Category, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		out = append(out, Category(n))
	}
	return out
}

// CategorySet is a membership set of categories.
type CategorySet map[Category]struct{}

// NewCategorySet builds a set from a list.
func NewCategorySet(cats []Category) CategorySet {
	s := make(CategorySet, len(cats))
	for _, c := range cats {
		s[c] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s CategorySet) Has(c Category) bool {
	_, ok := s[c]
	return ok
}

// Item is one displayable knowledge snippet. Items are values; two items
// sharing (Category, Title) are still distinct entries in the cache.
//
// JSON field names match the persisted cache layout.
type Item struct {
	Category    Category `json:"type"`
	Title       string   `json:"title"`
	Body        string   `json:"content"`
	Attribution string   `json:"source"`
	URL         string   `json:"url,omitempty"`
	Language    string   `json:"language,omitempty"`
}

// IsZero reports whether the item is the empty value.
func (i Item) IsZero() bool {
	return i == Item{}
}
