package fetch

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/abelbrown/waitwiki/internal/model"
)

// maxFeedItems caps how many featured articles one feed call yields.
// The feed carries roughly ten days; the newest are the tail.
const maxFeedItems = 5

// decodeFeaturedFeed parses Wikipedia's featured-article Atom feed. Each
// entry's description is an HTML blurb whose first bold link names the
// article.
func decodeFeaturedFeed(body []byte) ([]model.Item, error) {
	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, err
	}

	entries := feed.Items
	if len(entries) > maxFeedItems {
		entries = entries[len(entries)-maxFeedItems:]
	}

	items := make([]model.Item, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if item, ok := convertFeedItem(entries[i], feed.Language); ok {
			items = append(items, item)
		}
	}
	return items, nil
}

// convertFeedItem converts a gofeed.Item to a card.
func convertFeedItem(fi *gofeed.Item, lang string) (model.Item, bool) {
	html := fi.Description
	if html == "" {
		html = fi.Content
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return model.Item{}, false
	}

	title := fi.Title
	link := fi.Link
	if a := doc.Find("p b a, b a").First(); a.Length() > 0 {
		if t := strings.TrimSpace(a.Text()); t != "" {
			title = t
		}
		if href, ok := a.Attr("href"); ok {
			link = resolve(fi.Link, href)
		}
	}

	var body string
	doc.Find("p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
		body = collapse(p.Text())
		return body == ""
	})
	if body == "" {
		body = collapse(doc.Text())
	}
	if body == "" {
		return model.Item{}, false
	}

	if len(lang) > 2 {
		lang = lang[:2]
	}
	return model.Item{
		Category:    model.CategoryWikipedia,
		Title:       title,
		Body:        truncate(body, 900),
		Attribution: "Wikipedia · Featured article",
		URL:         link,
		Language:    strings.ToLower(lang),
	}, true
}

// resolve makes href absolute against base. Bad input returns href as-is.
func resolve(base, href string) string {
	b, err := url.Parse(base)
	if err != nil || base == "" {
		return href
	}
	h, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(h).String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
