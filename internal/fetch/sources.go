package fetch

import (
	"net/http"
	"strings"
	"time"

	"github.com/abelbrown/waitwiki/internal/model"
)

// Endpoints are the upstream URLs. Tests point them at httptest servers.
type Endpoints struct {
	WikiSummary  string // "{lang}" is replaced with the configured language
	WikiFeatured string
	ZenQuotes    string
	Quotable     string
	Numbers      string
	NinjaFacts   string
	Advice       string
	CatFact      string
	Trivia       string
	Cocktail     string
}

// DefaultEndpoints returns the public API URLs.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		WikiSummary:  "https://{lang}.wikipedia.org/api/rest_v1/page/random/summary",
		WikiFeatured: "https://{lang}.wikipedia.org/w/api.php?action=featuredfeed&feed=featured&feedformat=atom",
		ZenQuotes:    "https://zenquotes.io/api/random",
		Quotable:     "https://api.quotable.io/random",
		Numbers:      "http://numbersapi.com/random/trivia?json",
		NinjaFacts:   "https://api.api-ninjas.com/v1/facts",
		Advice:       "https://api.adviceslip.com/advice",
		CatFact:      "https://catfact.ninja/fact",
		Trivia:       "https://the-trivia-api.com/v2/questions?limit=1",
		Cocktail:     "https://www.thecocktaildb.com/api/json/v1/1/random.php",
	}
}

// Source serves one category: a preferred transport and an optional fallback.
type Source struct {
	Category  model.Category
	Preferred Transport
	Fallback  Transport
}

// buildSources wires every known category. Categories whose datasets fail
// to load are left out and reported through the gateway's fetch errors.
func buildSources(ep Endpoints, lang, ninjaKey string, client *http.Client, every time.Duration) map[model.Category]Source {
	withLang := func(u string) string { return strings.ReplaceAll(u, "{lang}", lang) }
	t := func(name, url string, decode decodeFunc) *httpTransport {
		return newHTTPTransport(name, url, client, every, decode)
	}

	ninja := func(cat model.Category) Transport {
		tr := t("api-ninjas", ep.NinjaFacts, decodeNinjaFacts(cat))
		if ninjaKey == "" {
			return keyless{name: tr.name}
		}
		tr.header.Set("X-Api-Key", ninjaKey)
		return tr
	}

	sources := map[model.Category]Source{
		model.CategoryWikipedia: {
			Preferred: t("wikipedia-random", withLang(ep.WikiSummary), decodeWikiSummary),
			Fallback:  t("wikipedia-featured", withLang(ep.WikiFeatured), decodeFeaturedFeed),
		},
		model.CategoryQuotes: {
			Preferred: t("zenquotes", ep.ZenQuotes, decodeZenQuotes),
			Fallback:  t("quotable", ep.Quotable, decodeQuotable),
		},
		model.CategoryFacts: {
			Preferred: t("numbersapi", ep.Numbers, decodeNumbers),
			Fallback:  ninja(model.CategoryFacts),
		},
		model.CategoryAdvice:    {Preferred: t("adviceslip", ep.Advice, decodeAdvice)},
		model.CategoryCatFacts:  {Preferred: t("catfact-ninja", ep.CatFact, decodeCatFact)},
		model.CategoryTrivia:    {Preferred: t("trivia-api", ep.Trivia, decodeTrivia)},
		model.CategoryCocktails: {Preferred: t("cocktaildb", ep.Cocktail, decodeCocktail)},
	}

	if facts, err := LoadDataFacts(); err == nil {
		sources[model.CategoryDataFacts] = Source{
			Preferred: newDatasetTransport("datafacts-csv", facts),
			Fallback:  ninja(model.CategoryDataFacts),
		}
	} else {
		sources[model.CategoryDataFacts] = Source{Preferred: ninja(model.CategoryDataFacts)}
	}
	if gathas, err := LoadGathas(); err == nil {
		sources[model.CategoryGathas] = Source{Preferred: newDatasetTransport("gathas-csv", gathas)}
	}

	for cat, src := range sources {
		src.Category = cat
		sources[cat] = src
	}
	return sources
}
