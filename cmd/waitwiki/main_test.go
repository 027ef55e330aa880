package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/abelbrown/waitwiki/internal/app"
	"github.com/abelbrown/waitwiki/internal/cache"
	"github.com/abelbrown/waitwiki/internal/coord"
	"github.com/abelbrown/waitwiki/internal/fetch"
	"github.com/abelbrown/waitwiki/internal/health"
	"github.com/abelbrown/waitwiki/internal/model"
	"github.com/abelbrown/waitwiki/internal/store"
)

const sampleLog = `{"t":"2025-01-01T12:00:00Z","level":"info","kind":"card.select","comp":"selection","session_id":"abc123","cat":"quotes","title":"A","stage":"strict"}
not json
{"t":"2025-01-01T12:00:01Z","level":"warn","kind":"fetch.error","comp":"fetch","session_id":"abc123","cat":"trivia","err":"timeout","dur_ms":5000}
{"t":"2025-01-01T12:00:02Z","level":"debug","kind":"sched.preload","comp":"coord","session_id":"def456","cat":"quotes","count":3}
{"t":"2025-01-01T12:00:03Z","level":"error","kind":"store.error","comp":"app","session_id":"def456","err":"disk full"}
`

func TestReadTailLines(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		filter eventFilter
		want   []string
	}{
		{"all", 10, eventFilter{}, []string{"card.select", "fetch.error", "sched.preload", "store.error"}},
		{"tail", 2, eventFilter{}, []string{"sched.preload", "store.error"}},
		{"kind prefix", 10, eventFilter{kind: "sched"}, []string{"sched.preload"}},
		{"min level", 10, eventFilter{level: "warn"}, []string{"fetch.error", "store.error"}},
		{"component", 10, eventFilter{comp: "fetch"}, []string{"fetch.error"}},
		{"category", 10, eventFilter{category: "quotes"}, []string{"card.select", "sched.preload"}},
		{"session", 10, eventFilter{session: "def"}, []string{"sched.preload", "store.error"}},
		{"zero", 0, eventFilter{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := readTailLines(strings.NewReader(sampleLog), tt.n, tt.filter.match)
			var got []string
			for _, l := range lines {
				got = append(got, l.ev.Kind)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("kinds = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatEvent(t *testing.T) {
	ev := eventRecord{
		Time:     time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
		Level:    "warn",
		Kind:     "fetch.error",
		Comp:     "fetch",
		Category: "trivia",
		DurMs:    5000,
		Err:      "timeout",
	}
	got := formatEvent(ev)
	for _, want := range []string{"WARN", "[fetch", "fetch.error", "cat=trivia", "(5000ms)", "err=timeout"} {
		if !strings.Contains(got, want) {
			t.Errorf("formatEvent = %q, missing %q", got, want)
		}
	}
	if strings.Contains(got, "n=") {
		t.Errorf("zero count should be omitted: %q", got)
	}
}

func TestDurPrecision(t *testing.T) {
	tests := []struct {
		ms   float64
		want int
	}{
		{250, 0},
		{12.5, 1},
		{0.25, 2},
	}
	for _, tt := range tests {
		if got := durPrecision(tt.ms); got != tt.want {
			t.Errorf("durPrecision(%v) = %d, want %d", tt.ms, got, tt.want)
		}
	}
}

func TestPrintCard(t *testing.T) {
	var buf bytes.Buffer
	printCard(&buf, model.Item{
		Category:    model.CategoryWikipedia,
		Title:       "Okapi",
		Body:        "The okapi is a giraffid artiodactyl mammal.",
		Attribution: "Wikipedia",
		URL:         "https://en.wikipedia.org/wiki/Okapi",
	})
	out := buf.String()
	for _, want := range []string{"[wikipedia] Okapi", "giraffid", "- Wikipedia", "wiki/Okapi"} {
		if !strings.Contains(out, want) {
			t.Errorf("printCard output missing %q:\n%s", want, out)
		}
	}
}

func TestLoadPersistedAndPrint(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "waitwiki.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	mustJSON := func(v any) []byte {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	values := map[string][]byte{
		app.KeyCache: mustJSON([]cache.Entry{
			{Key: "quotes_A_1", Item: model.Item{Category: model.CategoryQuotes, Title: "A"}},
			{Key: "quotes_B_2", Item: model.Item{Category: model.CategoryQuotes, Title: "B"}},
			{Key: "advice_C_3", Item: model.Item{Category: model.CategoryAdvice, Title: "C"}},
		}),
		app.KeyPerformance: mustJSON(app.Performance{
			Stats:     fetch.Stats{APICalls: 10, Successes: 7, Failures: 3, ItemsFetched: 40},
			CacheHits: 5,
			LastReset: at,
		}),
		app.KeyUserStats: mustJSON(coord.UserStats{
			Displays:   4,
			Categories: map[model.Category]int64{model.CategoryQuotes: 3, model.CategoryAdvice: 1},
		}),
		app.KeyFailedAPIs: mustJSON([]health.Entry{
			{Category: model.CategoryTrivia, Failures: 2, LastFailure: at, LastError: "timeout"},
		}),
	}
	if err := st.Set(ctx, values); err != nil {
		t.Fatal(err)
	}

	p, err := loadPersisted(ctx, st)
	if err != nil {
		t.Fatalf("loadPersisted: %v", err)
	}
	if len(p.Cache) != 3 || p.ByCategory["quotes"] != 2 || p.ByCategory["advice"] != 1 {
		t.Errorf("cache = %d entries, by category %v", len(p.Cache), p.ByCategory)
	}
	if p.Performance.APICalls != 10 || p.Usage.Displays != 4 || len(p.Failures) != 1 {
		t.Errorf("decoded = %+v", p)
	}
	if len(p.Keys) != 4 {
		t.Errorf("keys = %d, want 4", len(p.Keys))
	}

	var buf bytes.Buffer
	printStats(&buf, p)
	out := buf.String()
	for _, want := range []string{
		"Cached cards:          3",
		"API calls:             10 (7 ok, 3 failed)",
		"Cache hits / misses:   5 / 0",
		"Cards displayed:       4",
		"Failing sources:",
		"timeout",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("stats output missing %q:\n%s", want, out)
		}
	}
	// Favorites are listed most-displayed first.
	usage := out[strings.Index(out, "Cards displayed"):]
	if strings.Index(usage, "quotes") > strings.Index(usage, "advice") {
		t.Errorf("favorites out of order:\n%s", usage)
	}
}

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "waitwiki dev") {
		t.Errorf("version output = %q", buf.String())
	}
}

func TestUnsupported(t *testing.T) {
	gw := fetch.NewGateway(fetch.Options{})
	if got := unsupported(model.AllCategories(), gw.Categories()); len(got) != 0 {
		t.Errorf("default gateway should serve every category, missing %v", got)
	}

	wired := []model.Category{model.CategoryQuotes}
	got := unsupported([]model.Category{model.CategoryQuotes, model.CategoryAdvice}, wired)
	if len(got) != 1 || got[0] != model.CategoryAdvice {
		t.Errorf("unsupported = %v, want [advice]", got)
	}
}
