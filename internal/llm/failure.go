package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"mcoda/internal/types"
)

// classifyHTTPFailure wraps a non-200 provider response in a ProviderError
// when the status maps to a known class. Other statuses come back as plain
// errors; the orchestrator's regex fallback never matches them, so they are
// treated as generic agent failures.
func classifyHTTPFailure(provider string, statusCode int, body string) error {
	base := fmt.Errorf("API request failed with status %d: %s", statusCode, truncate(body, 300))

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &types.ProviderError{
			Provider:   provider,
			Class:      types.ProviderClassAuth,
			StatusCode: statusCode,
			Err:        base,
		}
	case statusCode == http.StatusTooManyRequests:
		class := types.ProviderClassRateLimit
		if strings.Contains(body, "usage_limit_reached") {
			class = types.ProviderClassUsageLimit
		}
		return &types.ProviderError{
			Provider:   provider,
			Class:      class,
			StatusCode: statusCode,
			Err:        base,
		}
	}
	return base
}

// classifyTransportFailure tags timeouts as provider-class so per-phase
// deadline expiries become eligible for fallback. The run's own cancellation
// is passed through untouched.
func classifyTransportFailure(ctx context.Context, provider string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() == context.Canceled {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return &types.ProviderError{
			Provider: provider,
			Class:    types.ProviderClassTimeout,
			Err:      err,
		}
	}
	return fmt.Errorf("request failed: %w", err)
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
