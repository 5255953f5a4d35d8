package llm

import (
	"fmt"
	"os"

	"mcoda/internal/config"
)

// Resolved holds the provider and credential the factory settled on.
type Resolved struct {
	Provider string
	APIKey   string
	Model    string
}

// DetectProvider resolves provider and key: configured values win, then
// environment variables in fixed priority (ANTHROPIC > OPENAI > GEMINI).
func DetectProvider(cfg *config.Config) (*Resolved, error) {
	if cfg != nil && cfg.LLM.APIKey != "" {
		return &Resolved{
			Provider: cfg.LLM.Provider,
			APIKey:   cfg.LLM.APIKey,
			Model:    cfg.LLM.Model,
		}, nil
	}

	providers := []struct {
		envVar   string
		provider string
	}{
		{"ANTHROPIC_API_KEY", ProviderAnthropic},
		{"OPENAI_API_KEY", ProviderOpenAI},
		{"GEMINI_API_KEY", ProviderGemini},
	}
	for _, p := range providers {
		if key := os.Getenv(p.envVar); key != "" {
			model := ""
			if cfg != nil {
				model = cfg.LLM.Model
			}
			return &Resolved{Provider: p.provider, APIKey: key, Model: model}, nil
		}
	}

	return nil, fmt.Errorf("no API key found; set ANTHROPIC_API_KEY, OPENAI_API_KEY, or GEMINI_API_KEY")
}

// NewClient builds a client for the resolved provider.
func NewClient(r *Resolved, opts Options) (Client, error) {
	opts.APIKey = r.APIKey
	if r.Model != "" {
		opts.Model = r.Model
	}

	switch r.Provider {
	case ProviderAnthropic:
		return NewAnthropicClientWithOptions(opts), nil
	case ProviderOpenAI:
		return NewOpenAIClientWithOptions(opts), nil
	case ProviderGemini:
		return NewGeminiClientWithOptions(opts)
	default:
		return nil, fmt.Errorf("unknown provider: %s (valid: anthropic, openai, gemini)", r.Provider)
	}
}

// NewClientFromConfig resolves and builds in one step.
func NewClientFromConfig(cfg *config.Config) (Client, error) {
	resolved, err := DetectProvider(cfg)
	if err != nil {
		return nil, err
	}
	opts := Options{Timeout: cfg.GetLLMTimeout(), BaseURL: cfg.LLM.BaseURL}
	return NewClient(resolved, opts)
}

// NewRoleClient builds a client for one phase role, honoring per-role
// provider/model overrides from config.
func NewRoleClient(cfg *config.Config, role string) (Client, error) {
	resolved, err := DetectProvider(cfg)
	if err != nil {
		return nil, err
	}
	provider, model := cfg.RoleProvider(role)
	if provider != "" && provider != resolved.Provider {
		// A role pinned to a different provider needs that provider's key.
		roleResolved := &Resolved{Provider: provider, APIKey: keyForProvider(provider), Model: model}
		if roleResolved.APIKey == "" {
			return nil, fmt.Errorf("role %s pinned to provider %s but no key is configured", role, provider)
		}
		return NewClient(roleResolved, Options{Timeout: cfg.GetLLMTimeout()})
	}
	resolved.Model = model
	return NewClient(resolved, Options{Timeout: cfg.GetLLMTimeout(), BaseURL: cfg.LLM.BaseURL})
}

func keyForProvider(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case ProviderGemini:
		return os.Getenv("GEMINI_API_KEY")
	}
	return ""
}
