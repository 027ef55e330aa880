package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/abelbrown/waitwiki/internal/app"
	"github.com/abelbrown/waitwiki/internal/model"
	"github.com/abelbrown/waitwiki/internal/otel"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeEngine struct {
	mu       sync.Mutex
	item     model.Item
	ok       bool
	requests []bool
	enabled  []model.Category
}

func (f *fakeEngine) RequestCard(forceNew bool) (model.Item, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, forceNew)
	return f.item, f.ok
}

func (f *fakeEngine) OnSettingsChanged(_ context.Context, cats []model.Category) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = cats
}

func (f *fakeEngine) Enabled() []model.Category {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *fakeEngine) Stats() app.Stats {
	return app.Stats{CacheSize: 42, Clicks: 3, Enabled: f.Enabled()}
}

func newTestRouter(eng *fakeEngine, ring *otel.RingBuffer, save func([]model.Category) error) *gin.Engine {
	return SetupRouter(NewHandler(eng, ring, save), nil)
}

func do(t *testing.T, r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCard(t *testing.T) {
	item := model.Item{Category: model.CategoryTrivia, Title: "Q", Body: "What is the capital of Peru?"}

	tests := []struct {
		name      string
		target    string
		ok        bool
		wantNew   bool
		wantAvail bool
	}{
		{"current", "/api/v1/card", true, false, true},
		{"force new", "/api/v1/card?new=true", true, true, true},
		{"nothing cached", "/api/v1/card?new=1", false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{item: item, ok: tt.ok}
			w := do(t, newTestRouter(eng, nil, nil), http.MethodGet, tt.target, "")

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", w.Code, w.Body)
			}
			var resp CardResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Available != tt.wantAvail {
				t.Errorf("available = %v, want %v", resp.Available, tt.wantAvail)
			}
			if tt.wantAvail && (resp.Card == nil || *resp.Card != item) {
				t.Errorf("card = %+v", resp.Card)
			}
			if !tt.wantAvail && resp.Card != nil {
				t.Errorf("card should be omitted, got %+v", resp.Card)
			}
			if len(eng.requests) != 1 || eng.requests[0] != tt.wantNew {
				t.Errorf("requests = %v, want [%v]", eng.requests, tt.wantNew)
			}
		})
	}
}

func TestCardBadQuery(t *testing.T) {
	eng := &fakeEngine{}
	w := do(t, newTestRouter(eng, nil, nil), http.MethodGet, "/api/v1/card?new=maybe", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if len(eng.requests) != 0 {
		t.Error("engine should not be asked on a bad query")
	}
}

func TestPutSettings(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantCats []model.Category
	}{
		{"valid", `{"categories":["quotes","gathas"]}`, http.StatusOK, []model.Category{model.CategoryQuotes, model.CategoryGathas}},
		{"unknown category", `{"categories":["quotes","horoscopes"]}`, http.StatusBadRequest, nil},
		{"empty list", `{"categories":[]}`, http.StatusBadRequest, nil},
		{"missing field", `{}`, http.StatusBadRequest, nil},
		{"malformed", `{"categories":`, http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{}
			var saved []model.Category
			save := func(cats []model.Category) error { saved = cats; return nil }

			w := do(t, newTestRouter(eng, nil, save), http.MethodPut, "/api/v1/settings", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body)
			}
			if tt.wantCode != http.StatusOK {
				if eng.Enabled() != nil || saved != nil {
					t.Error("rejected settings must not reach the engine or the file")
				}
				return
			}

			var resp SettingsResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if len(resp.Categories) != len(tt.wantCats) {
				t.Fatalf("categories = %v, want %v", resp.Categories, tt.wantCats)
			}
			for i := range tt.wantCats {
				if resp.Categories[i] != tt.wantCats[i] || saved[i] != tt.wantCats[i] {
					t.Errorf("categories = %v saved = %v, want %v", resp.Categories, saved, tt.wantCats)
				}
			}
		})
	}
}

func TestPutSettingsSaveFailure(t *testing.T) {
	eng := &fakeEngine{}
	save := func([]model.Category) error { return errors.New("read-only file system") }

	w := do(t, newTestRouter(eng, nil, save), http.MethodPut, "/api/v1/settings", `{"categories":["advice"]}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if got := eng.Enabled(); len(got) != 1 || got[0] != model.CategoryAdvice {
		t.Errorf("engine should still run with the new set, got %v", got)
	}
}

func TestGetSettings(t *testing.T) {
	eng := &fakeEngine{enabled: []model.Category{model.CategoryFacts}}
	w := do(t, newTestRouter(eng, nil, nil), http.MethodGet, "/api/v1/settings", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"facts"`) {
		t.Errorf("status = %d body = %s", w.Code, w.Body)
	}
}

func TestStats(t *testing.T) {
	ring := otel.NewRingBuffer(16)
	ring.Push(otel.Event{Kind: otel.KindCardSelect, Level: otel.LevelInfo, Time: time.Now()})
	ring.Push(otel.Event{Kind: otel.KindStoreError, Level: otel.LevelError, Time: time.Now(), Err: "disk full"})

	w := do(t, newTestRouter(&fakeEngine{}, ring, nil), http.MethodGet, "/api/v1/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		CacheSize int `json:"cache_size"`
		Clicks    int `json:"clicks"`
		Recent    []struct {
			Kind string `json:"kind"`
			Err  string `json:"err"`
		} `json:"recent"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.CacheSize != 42 || resp.Clicks != 3 {
		t.Errorf("stats = %+v", resp)
	}
	if len(resp.Recent) != 1 || resp.Recent[0].Kind != string(otel.KindStoreError) || resp.Recent[0].Err != "disk full" {
		t.Errorf("recent = %+v, want only the store error", resp.Recent)
	}
}

func TestLivenessAndCORS(t *testing.T) {
	r := newTestRouter(&fakeEngine{}, nil, nil)

	w := do(t, r, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"alive"`) {
		t.Errorf("healthz: %d %s", w.Code, w.Body)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}

	w = do(t, r, http.MethodOptions, "/api/v1/settings", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
}
