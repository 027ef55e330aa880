package fetch

import (
	"context"
	"embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"

	"github.com/abelbrown/waitwiki/internal/model"
)

//go:embed data/*.csv
var dataFS embed.FS

// datasetLanguage is the language of the bundled datasets.
const datasetLanguage = "zh"

// readCSV parses an embedded file into header-keyed rows.
func readCSV(name string) ([]map[string]string, error) {
	f, err := dataFS.Open("data/" + name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: header: %w", name, err)
	}

	var rows []map[string]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = strings.ReplaceAll(strings.TrimSpace(rec[i]), `\n`, "\n")
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// LoadDataFacts returns the bundled statistics dataset.
func LoadDataFacts() ([]model.Item, error) {
	rows, err := readCSV("datafacts.csv")
	if err != nil {
		return nil, err
	}
	items := make([]model.Item, 0, len(rows))
	for _, row := range rows {
		if row["content"] == "" {
			continue
		}
		items = append(items, model.Item{
			Category:    model.CategoryDataFacts,
			Title:       orDefault(row["title"], "数据真相"),
			Body:        row["content"],
			Attribution: orDefault(row["source"], "权威数据源"),
			Language:    datasetLanguage,
		})
	}
	return items, nil
}

// LoadGathas returns the bundled verse dataset.
func LoadGathas() ([]model.Item, error) {
	rows, err := readCSV("gathas.csv")
	if err != nil {
		return nil, err
	}
	items := make([]model.Item, 0, len(rows))
	for _, row := range rows {
		if row["content"] == "" {
			continue
		}
		items = append(items, model.Item{
			Category:    model.CategoryGathas,
			Title:       orDefault(row["title"], "偈语"),
			Body:        row["content"],
			Attribution: orDefault(row["source"], "禅宗偈语"),
			Language:    datasetLanguage,
		})
	}
	return items, nil
}

// LoadStarter returns the small offline set used to seed an empty cache
// for categories that are otherwise network-only.
func LoadStarter() (map[model.Category][]model.Item, error) {
	rows, err := readCSV("starter.csv")
	if err != nil {
		return nil, err
	}
	out := make(map[model.Category][]model.Item)
	for _, row := range rows {
		cat := model.Category(row["category"])
		if !cat.Valid() || row["content"] == "" {
			continue
		}
		out[cat] = append(out[cat], model.Item{
			Category:    cat,
			Title:       row["title"],
			Body:        row["content"],
			Attribution: row["source"],
			Language:    orDefault(row["language"], datasetLanguage),
		})
	}
	return out, nil
}

// datasetTransport serves one random row per call from an in-memory set.
type datasetTransport struct {
	name  string
	items []model.Item
	intn  func(int) int
}

func newDatasetTransport(name string, items []model.Item) *datasetTransport {
	return &datasetTransport{name: name, items: items, intn: rand.IntN}
}

func (t *datasetTransport) Name() string  { return t.name }
func (t *datasetTransport) Offline() bool { return true }

func (t *datasetTransport) Fetch(ctx context.Context) ([]model.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(t.items) == 0 {
		return nil, fmt.Errorf("%s: dataset is empty", t.name)
	}
	return []model.Item{t.items[t.intn(len(t.items))]}, nil
}
