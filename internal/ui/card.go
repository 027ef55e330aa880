package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/abelbrown/waitwiki/internal/model"
)

// categoryLabels are the badge texts shown above a card.
var categoryLabels = map[model.Category]string{
	model.CategoryWikipedia: "WIKIPEDIA",
	model.CategoryQuotes:    "QUOTE",
	model.CategoryFacts:     "FACT",
	model.CategoryAdvice:    "ADVICE",
	model.CategoryCatFacts:  "CAT FACT",
	model.CategoryTrivia:    "TRIVIA",
	model.CategoryCocktails: "COCKTAIL",
	model.CategoryDataFacts: "DATA",
	model.CategoryGathas:    "GATHA",
}

func categoryLabel(c model.Category) string {
	if label, ok := categoryLabels[c]; ok {
		return label
	}
	return strings.ToUpper(string(c))
}

// RenderCard renders item centered in a width x height area.
func RenderCard(item model.Item, width, height int) string {
	cardWidth := max(min(72, width-8), 20)
	inner := cardWidth - 6 // CardFrame horizontal padding

	parts := []string{
		CategoryBadge.Render(categoryLabel(item.Category)),
		CardTitle.Width(inner).Render(item.Title),
		CardBody.Width(inner).Render(item.Body),
	}
	if item.Attribution != "" {
		parts = append(parts, CardAttribution.Width(inner).Render("- "+item.Attribution))
	}
	if item.URL != "" {
		parts = append(parts, CardURL.Render(truncateRunes(item.URL, inner)))
	}

	card := CardFrame.Width(cardWidth).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, card)
}

// RenderStatusBar renders the bottom status bar with the display counter
// and key hints.
func RenderStatusBar(shown int, width int, status string) string {
	left := " " + status + " "
	if status == "" {
		left = " " + plural(shown, "card") + " "
	}

	keys := []string{
		StatusBarKey.Render("n/Enter") + StatusBarText.Render(":next"),
		StatusBarKey.Render("d") + StatusBarText.Render(":debug"),
		StatusBarKey.Render("q") + StatusBarText.Render(":quit"),
	}
	keyHints := strings.Join(keys, " ")

	padding := max(width-lipgloss.Width(left)-lipgloss.Width(keyHints), 0)
	return StatusBar.Width(width).Render(left + strings.Repeat(" ", padding) + keyHints)
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
