package solsync_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"solsync"
)

// recordedRequest is what the fake backend saw of one request.
type recordedRequest struct {
	Method      string
	Path        string
	Query       url.Values
	IfNoneMatch string
	Auth        string
}

// fakeBackend is an httptest server that records every request it serves.
type fakeBackend struct {
	srv *httptest.Server
	mux *http.ServeMux

	mu       sync.Mutex
	requests []recordedRequest
}

func newFakeBackend(t testing.TB) *fakeBackend {
	b := &fakeBackend{mux: http.NewServeMux()}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.requests = append(b.requests, recordedRequest{
			Method:      r.Method,
			Path:        r.URL.Path,
			Query:       r.URL.Query(),
			IfNoneMatch: r.Header.Get("If-None-Match"),
			Auth:        r.Header.Get("Authorization"),
		})
		b.mu.Unlock()
		b.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) handle(pattern string, h http.HandlerFunc) {
	b.mux.HandleFunc(pattern, h)
}

// requestsTo returns the recorded requests for method and path.
func (b *fakeBackend) requestsTo(method, path string) []recordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []recordedRequest
	for _, r := range b.requests {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (b *fakeBackend) apiBase() string {
	return b.srv.URL + "/api"
}

// newTestClient builds a Client against b with a fake clock and a bearer token.
func newTestClient(t testing.TB, b *fakeBackend, mutate ...func(*solsync.Options)) (*solsync.Client, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	opts := solsync.Options{
		Config:     solsync.Config{APIBase: b.apiBase(), Token: "test-token"},
		HTTPClient: b.srv.Client(),
		Clock:      clock,
	}
	for _, m := range mutate {
		m(&opts)
	}
	c, err := solsync.NewClient(opts)
	require.NoError(t, err)
	return c, clock
}

// pageBody renders a nested snake_case list response with records numbered
// from 1 to count.
func pageBody(count, page, perPage, total int) string {
	items := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		items = append(items, fmt.Sprintf(`{"id":%d,"numero":%d,"nome":"Contact %d","processed_at":null}`, 1000+i, i, i))
	}
	return fmt.Sprintf(`{"data":[%s],"meta":{"current_page":%d,"per_page":%d,"total":%d,"last_page":%d}}`,
		strings.Join(items, ","), page, perPage, total, (total+perPage-1)/perPage)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
