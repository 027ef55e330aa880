package fetch

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/abelbrown/waitwiki/internal/model"
)

var errNoKey = errors.New("api key not configured")

// zenquotes.io/api/random: [{"q": "...", "a": "..."}]
func decodeZenQuotes(body []byte) ([]model.Item, error) {
	var resp []struct {
		Quote  string `json:"q"`
		Author string `json:"a"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	items := make([]model.Item, 0, len(resp))
	for _, q := range resp {
		items = append(items, quoteItem(q.Quote, q.Author, "ZenQuotes"))
	}
	return items, nil
}

// api.quotable.io/random: {"content": "...", "author": "..."}
func decodeQuotable(body []byte) ([]model.Item, error) {
	var resp struct {
		Content string `json:"content"`
		Author  string `json:"author"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return []model.Item{quoteItem(resp.Content, resp.Author, "Quotable")}, nil
}

func quoteItem(text, author, via string) model.Item {
	author = strings.TrimSpace(author)
	if author == "" {
		author = "Unknown"
	}
	return model.Item{
		Category:    model.CategoryQuotes,
		Title:       author,
		Body:        strings.TrimSpace(text),
		Attribution: author + " via " + via,
	}
}

// numbersapi.com/random/trivia?json: {"text": "...", "number": 42, "found": true}
func decodeNumbers(body []byte) ([]model.Item, error) {
	var resp struct {
		Text   string          `json:"text"`
		Number json.RawMessage `json:"number"`
		Found  bool            `json:"found"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, nil
	}
	title := "Number " + strings.Trim(string(resp.Number), `"`)
	return []model.Item{{
		Category:    model.CategoryFacts,
		Title:       title,
		Body:        resp.Text,
		Attribution: "Numbers API",
	}}, nil
}

// api.api-ninjas.com/v1/facts: [{"fact": "..."}]
func decodeNinjaFacts(cat model.Category) decodeFunc {
	return func(body []byte) ([]model.Item, error) {
		var resp []struct {
			Fact string `json:"fact"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, err
		}
		items := make([]model.Item, 0, len(resp))
		for _, f := range resp {
			items = append(items, model.Item{
				Category:    cat,
				Title:       headline(f.Fact),
				Body:        f.Fact,
				Attribution: "API Ninjas",
			})
		}
		return items, nil
	}
}

// api.adviceslip.com/advice: {"slip": {"id": 1, "advice": "..."}}
func decodeAdvice(body []byte) ([]model.Item, error) {
	var resp struct {
		Slip struct {
			ID     int    `json:"id"`
			Advice string `json:"advice"`
		} `json:"slip"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Slip.Advice == "" {
		return nil, nil
	}
	return []model.Item{{
		Category:    model.CategoryAdvice,
		Title:       "Advice #" + strconv.Itoa(resp.Slip.ID),
		Body:        resp.Slip.Advice,
		Attribution: "Advice Slip API",
	}}, nil
}

// catfact.ninja/fact: {"fact": "...", "length": 42}
func decodeCatFact(body []byte) ([]model.Item, error) {
	var resp struct {
		Fact string `json:"fact"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Fact == "" {
		return nil, nil
	}
	return []model.Item{{
		Category:    model.CategoryCatFacts,
		Title:       headline(resp.Fact),
		Body:        resp.Fact,
		Attribution: "Cat Facts API",
	}}, nil
}

// the-trivia-api.com/v2/questions:
// [{"category": "science", "question": {"text": "..."}, "correctAnswer": "..."}]
func decodeTrivia(body []byte) ([]model.Item, error) {
	var resp []struct {
		Category string `json:"category"`
		Question struct {
			Text string `json:"text"`
		} `json:"question"`
		CorrectAnswer string `json:"correctAnswer"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	items := make([]model.Item, 0, len(resp))
	for _, q := range resp {
		if q.Question.Text == "" {
			continue
		}
		items = append(items, model.Item{
			Category:    model.CategoryTrivia,
			Title:       truncate(q.Question.Text, 80),
			Body:        fmt.Sprintf("%s\n\nAnswer: %s", q.Question.Text, q.CorrectAnswer),
			Attribution: "The Trivia API · " + strings.ReplaceAll(q.Category, "_", " "),
		})
	}
	return items, nil
}

// thecocktaildb.com random.php: {"drinks": [{"strDrink": ..., "strIngredient1": ...}]}
// Ingredient and measure fields are numbered 1..15 and often null.
func decodeCocktail(body []byte) ([]model.Item, error) {
	var resp struct {
		Drinks []map[string]*string `json:"drinks"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	field := func(d map[string]*string, k string) string {
		if v := d[k]; v != nil {
			return strings.TrimSpace(*v)
		}
		return ""
	}

	items := make([]model.Item, 0, len(resp.Drinks))
	for _, d := range resp.Drinks {
		name := field(d, "strDrink")
		if name == "" {
			continue
		}
		var ingredients []string
		for i := 1; i <= 15; i++ {
			ing := field(d, "strIngredient"+strconv.Itoa(i))
			if ing == "" {
				continue
			}
			if m := field(d, "strMeasure"+strconv.Itoa(i)); m != "" {
				ing = m + " " + ing
			}
			ingredients = append(ingredients, ing)
		}
		items = append(items, model.Item{
			Category:    model.CategoryCocktails,
			Title:       name,
			Body:        fmt.Sprintf("Ingredients: %s\n\nMethod: %s", strings.Join(ingredients, ", "), field(d, "strInstructions")),
			Attribution: "TheCocktailDB",
		})
	}
	return items, nil
}

// {lang}.wikipedia.org/api/rest_v1/page/random/summary
func decodeWikiSummary(body []byte) ([]model.Item, error) {
	var resp struct {
		Title       string `json:"title"`
		Extract     string `json:"extract"`
		Lang        string `json:"lang"`
		ContentURLs struct {
			Desktop struct {
				Page string `json:"page"`
			} `json:"desktop"`
		} `json:"content_urls"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Title == "" {
		return nil, nil
	}
	return []model.Item{{
		Category:    model.CategoryWikipedia,
		Title:       resp.Title,
		Body:        resp.Extract,
		Attribution: "Wikipedia",
		URL:         resp.ContentURLs.Desktop.Page,
		Language:    resp.Lang,
	}}, nil
}
