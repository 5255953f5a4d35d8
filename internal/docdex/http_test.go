package docdex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(DefaultHTTPConfig(srv.URL))
}

func TestSearchParsesHits(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "auth flow", body["query"])
		w.Write([]byte(`{"hits":[{"doc_id":"d1","path":"src/auth.ts","score":0.9},{"doc_id":"d2","path":"src/login.ts","score":0.4}]}`))
	})

	hits, err := client.Search(context.Background(), "auth flow", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "src/auth.ts", hits[0].Path)
	assert.Equal(t, 0.9, hits[0].Score)
}

func TestSymbolsEncodesPath(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/symbols", r.URL.Path)
		assert.Equal(t, "src/a b.go", r.URL.Query().Get("path"))
		w.Write([]byte(`{"path":"src/a b.go","symbols":[{"name":"Run","kind":"func"}]}`))
	})

	rec, err := client.Symbols(context.Background(), "src/a b.go")
	require.NoError(t, err)
	require.Len(t, rec.Symbols, 1)
	assert.Equal(t, "Run", rec.Symbols[0].Name)
}

func TestNon200SurfacesError(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index rebuilding", http.StatusServiceUnavailable)
	})

	_, err := client.Stats(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultHTTPConfig("")
	cfg.BreakerConsecutiveFailures = 2
	cfg.Timeout = time.Second

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	cfg.BaseURL = srv.URL
	client := NewHTTPClient(cfg)

	ctx := context.Background()
	require.Error(t, client.HealthCheck(ctx))
	require.Error(t, client.HealthCheck(ctx))

	// Breaker is open now; the failure comes back without hitting the server.
	err := client.HealthCheck(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
}

func TestHealthCheckOK(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		w.Write([]byte(`{"ok":true}`))
	})
	assert.NoError(t, client.HealthCheck(context.Background()))
}
