// Package fetch retrieves knowledge snippets from upstream APIs and the
// embedded offline datasets.
//
// Each category is served by a Source: a preferred Transport plus at most
// one fallback. The Gateway makes a single attempt per transport per call;
// retrying is the scheduler's job.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/abelbrown/waitwiki/internal/model"
)

const userAgent = "WaitWiki/1.2 (+https://github.com/abelbrown/waitwiki)"

// maxBody caps how much of an upstream response is read.
const maxBody = 1 << 20

// Transport fetches one batch from one upstream.
type Transport interface {
	Name() string
	Fetch(ctx context.Context) ([]model.Item, error)
}

// offline is implemented by transports that never touch the network.
// The gateway skips the per-attempt timeout for them.
type offline interface {
	Offline() bool
}

func isOffline(t Transport) bool {
	o, ok := t.(offline)
	return ok && o.Offline()
}

// decodeFunc turns a response body into items.
type decodeFunc func(body []byte) ([]model.Item, error)

// httpTransport is a rate-limited GET against a JSON or XML endpoint.
type httpTransport struct {
	name     string
	endpoint string
	header   http.Header
	client   *http.Client
	limiter  *rate.Limiter
	decode   decodeFunc
}

func newHTTPTransport(name, endpoint string, client *http.Client, every time.Duration, decode decodeFunc) *httpTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpTransport{
		name:     name,
		endpoint: endpoint,
		header:   make(http.Header),
		client:   client,
		limiter:  rate.NewLimiter(rate.Every(every), 2),
		decode:   decode,
	}
}

func (t *httpTransport) Name() string { return t.name }

// Fetch performs exactly one request.
func (t *httpTransport) Fetch(ctx context.Context) ([]model.Item, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := get(ctx, t.client, t.endpoint, t.header)
	if err != nil {
		return nil, err
	}

	items, err := t.decode(body)
	if err != nil {
		return nil, fmt.Errorf("%s: decode: %w", t.name, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%s: empty response", t.name)
	}
	return items, nil
}

// get performs a GET and returns the body of a 2xx response.
func get(ctx context.Context, client *http.Client, url string, header http.Header) ([]byte, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, application/atom+xml;q=0.9, */*;q=0.5")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// headline makes a title from the first words of body for sources that
// do not provide one.
func headline(body string) string {
	words := strings.Fields(body)
	if len(words) > 8 {
		words = words[:8]
	}
	return truncate(strings.Join(words, " "), 60)
}

// truncate shortens a string to maxLen runes, adding "..." if truncated.
// Uses rune-aware slicing to avoid breaking UTF-8 characters.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
