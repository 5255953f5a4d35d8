package docdex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"mcoda/internal/logging"
	"mcoda/internal/types"
)

// HTTPConfig configures the HTTP index client.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration

	// Breaker settings; zero values take the defaults below.
	BreakerMaxRequests         uint32
	BreakerInterval            time.Duration
	BreakerTimeout             time.Duration
	BreakerConsecutiveFailures uint32
}

// DefaultHTTPConfig returns sensible defaults for a local index.
func DefaultHTTPConfig(baseURL string) HTTPConfig {
	return HTTPConfig{
		BaseURL:                    baseURL,
		Timeout:                    30 * time.Second,
		BreakerMaxRequests:         2,
		BreakerInterval:            60 * time.Second,
		BreakerTimeout:             20 * time.Second,
		BreakerConsecutiveFailures: 5,
	}
}

// HTTPClient talks JSON to the docdex service. All calls route through one
// circuit breaker so a dead index fails fast instead of stalling every
// assembly.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewHTTPClient creates an index client for the given config.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BreakerMaxRequests == 0 {
		cfg.BreakerMaxRequests = 2
	}
	if cfg.BreakerInterval <= 0 {
		cfg.BreakerInterval = 60 * time.Second
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 20 * time.Second
	}
	if cfg.BreakerConsecutiveFailures == 0 {
		cfg.BreakerConsecutiveFailures = 5
	}

	settings := gobreaker.Settings{
		Name:        "docdex",
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.DocdexWarn("Circuit breaker %s: %s -> %s", name, from, to)
		},
	}

	return &HTTPClient{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

// do executes one JSON round trip through the breaker.
func (c *HTTPClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		var reqBody io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request: %w", err)
			}
			reqBody = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("docdex request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read docdex response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("docdex %s returned status %d: %s", path, resp.StatusCode, truncate(string(data), 200))
		}
		return data, nil
	})
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(result.([]byte), out); err != nil {
		return fmt.Errorf("failed to parse docdex %s response: %w", path, err)
	}
	return nil
}

// Search runs one index query.
func (c *HTTPClient) Search(ctx context.Context, query string, opts SearchOptions) ([]types.SearchHit, error) {
	timer := logging.StartTimer(logging.CategoryDocdex, "search")
	defer timer.StopWithThreshold(2 * time.Second)

	var out struct {
		Hits []types.SearchHit `json:"hits"`
	}
	payload := map[string]interface{}{"query": query}
	if opts.Limit > 0 {
		payload["limit"] = opts.Limit
	}
	if opts.SourceOnly {
		payload["source_only"] = true
	}
	if err := c.do(ctx, http.MethodPost, "/search", payload, &out); err != nil {
		return nil, err
	}
	logging.DocdexDebug("search %q: %d hits", query, len(out.Hits))
	return out.Hits, nil
}

// Tree fetches the workspace tree.
func (c *HTTPClient) Tree(ctx context.Context, opts TreeOptions) (*TreeResult, error) {
	timer := logging.StartTimer(logging.CategoryDocdex, "tree")
	defer timer.StopWithThreshold(5 * time.Second)

	var out TreeResult
	if err := c.do(ctx, http.MethodPost, "/tree", opts, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OpenSnippet extracts a region of a file.
func (c *HTTPClient) OpenSnippet(ctx context.Context, path string, opts SnippetOptions) (*types.Snippet, error) {
	var out types.Snippet
	payload := map[string]interface{}{"path": path}
	if opts.Query != "" {
		payload["query"] = opts.Query
	}
	if opts.MaxBytes > 0 {
		payload["max_bytes"] = opts.MaxBytes
	}
	if err := c.do(ctx, http.MethodPost, "/open", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Symbols lists declared symbols for a path.
func (c *HTTPClient) Symbols(ctx context.Context, path string) (*types.SymbolRecord, error) {
	var out types.SymbolRecord
	if err := c.do(ctx, http.MethodGet, "/symbols?path="+url.QueryEscape(path), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AST fetches the structural outline for a path.
func (c *HTTPClient) AST(ctx context.Context, path string) (*types.ASTRecord, error) {
	var out types.ASTRecord
	if err := c.do(ctx, http.MethodGet, "/ast?path="+url.QueryEscape(path), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ImpactGraph fetches dependency fan-in/fan-out for a path.
func (c *HTTPClient) ImpactGraph(ctx context.Context, path string) (*ImpactResult, error) {
	var out ImpactResult
	if err := c.do(ctx, http.MethodGet, "/impact?path="+url.QueryEscape(path), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MemoryRecall retrieves stored memory facts matching a query.
func (c *HTTPClient) MemoryRecall(ctx context.Context, query string, limit int) ([]types.MemoryFact, error) {
	var out struct {
		Facts []types.MemoryFact `json:"facts"`
	}
	payload := map[string]interface{}{"query": query}
	if limit > 0 {
		payload["limit"] = limit
	}
	if err := c.do(ctx, http.MethodPost, "/memory/recall", payload, &out); err != nil {
		return nil, err
	}
	return out.Facts, nil
}

// GetProfile fetches the advisory workspace profile.
func (c *HTTPClient) GetProfile(ctx context.Context) (*Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodGet, "/profile", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats reports index freshness.
func (c *HTTPClient) Stats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DAGExport fetches the dependency DAG summary.
func (c *HTTPClient) DAGExport(ctx context.Context) (*DAGResult, error) {
	var out DAGResult
	if err := c.do(ctx, http.MethodGet, "/dag/export", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HealthCheck probes the index service.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
