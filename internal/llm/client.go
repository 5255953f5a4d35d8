// Package llm implements the provider clients behind the phase agents.
// Each client satisfies types.LLMClient; failures are tagged with a provider
// class at this boundary so the orchestrator can dispatch without regexes.
package llm

import (
	"time"

	"mcoda/internal/types"
)

// Client is re-exported for constructors; it is identical to types.LLMClient.
type Client = types.LLMClient

// Provider names accepted by the factory.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

// Options configure one provider client.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	// MinInterval paces consecutive requests from one client.
	MinInterval time.Duration
}

func (o *Options) normalize(defaultBase, defaultModel string) {
	if o.BaseURL == "" {
		o.BaseURL = defaultBase
	}
	if o.Model == "" {
		o.Model = defaultModel
	}
	if o.Timeout <= 0 {
		o.Timeout = 120 * time.Second
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 8192
	}
	if o.Temperature == 0 {
		o.Temperature = 0.1
	}
}
