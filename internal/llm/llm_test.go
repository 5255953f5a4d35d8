package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcoda/internal/config"
	"mcoda/internal/types"
)

func TestAnthropicCompleteParsesContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		w.Write([]byte(`{"content":[{"type":"text","text":"PLAN:\n1. do thing"}],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	client := NewAnthropicClientWithOptions(Options{APIKey: "test-key", BaseURL: srv.URL})
	out, err := client.Complete(context.Background(), "plan it")
	require.NoError(t, err)
	assert.Contains(t, out, "PLAN:")
}

func TestAuthFailureTaggedWithProviderClass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid x-api-key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewAnthropicClientWithOptions(Options{APIKey: "bad", BaseURL: srv.URL})
	_, err := client.Complete(context.Background(), "x")
	require.Error(t, err)

	var pe *types.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, types.ProviderClassAuth, pe.Class)
	assert.Equal(t, "anthropic", pe.Provider)
}

func TestRateLimitTagged429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `rate limited`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewOpenAIClientWithOptions(Options{APIKey: "k", BaseURL: srv.URL})
	_, err := client.Complete(context.Background(), "x")
	require.Error(t, err)

	var pe *types.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, types.ProviderClassRateLimit, pe.Class)
}

func TestUsageLimitClass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"usage_limit_reached"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewOpenAIClientWithOptions(Options{APIKey: "k", BaseURL: srv.URL})
	_, err := client.Complete(context.Background(), "x")
	var pe *types.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, types.ProviderClassUsageLimit, pe.Class)
}

func TestOpenAISystemPromptIncluded(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	client := NewOpenAIClientWithOptions(Options{APIKey: "k", BaseURL: srv.URL})
	out, err := client.CompleteWithSystem(context.Background(), "be terse", "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Contains(t, gotBody, `"system"`)
	assert.Contains(t, gotBody, "be terse")
}

func TestDetectProviderPriority(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "oa-key")
	t.Setenv("GEMINI_API_KEY", "gm-key")

	resolved, err := DetectProvider(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, resolved.Provider)
	assert.Equal(t, "oa-key", resolved.APIKey)
}

func TestDetectProviderConfigWins(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "oa-key")
	cfg := &config.Config{}
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.APIKey = "cfg-key"
	cfg.LLM.Model = "claude-sonnet-4-20250514"

	resolved, err := DetectProvider(cfg)
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, resolved.Provider)
	assert.Equal(t, "cfg-key", resolved.APIKey)
}

func TestDetectProviderNoKey(t *testing.T) {
	for _, v := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY"} {
		old := os.Getenv(v)
		t.Setenv(v, "")
		_ = old
	}
	_, err := DetectProvider(nil)
	require.Error(t, err)
}

func TestPacingDelaysSecondRequest(t *testing.T) {
	var calls []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, time.Now())
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	client := NewOpenAIClientWithOptions(Options{APIKey: "k", BaseURL: srv.URL, MinInterval: 50 * time.Millisecond})
	ctx := context.Background()
	_, err := client.Complete(ctx, "a")
	require.NoError(t, err)
	_, err = client.Complete(ctx, "b")
	require.NoError(t, err)

	require.Len(t, calls, 2)
	assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), 40*time.Millisecond)
}
