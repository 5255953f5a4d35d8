package main

import (
	"context"
	"os"
	"sync"

	"mcoda/internal/config"
	"mcoda/internal/llm"
	"mcoda/internal/types"
)

// switchableClient lets the provider-failure hook swap the client a phase is
// using mid-run without rebuilding the phase agents.
type switchableClient struct {
	mu     sync.Mutex
	active llm.Client
}

func (s *switchableClient) swap(next llm.Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == next {
		return false
	}
	s.active = next
	return true
}

func (s *switchableClient) current() llm.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *switchableClient) Complete(ctx context.Context, prompt string) (string, error) {
	return s.current().Complete(ctx, prompt)
}

func (s *switchableClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return s.current().CompleteWithSystem(ctx, systemPrompt, userPrompt)
}

// buildRoleClients constructs one switchable client per phase role and the
// provider-failure hook that flips a role onto the configured fallback
// provider. Without a fallback provider the hook declines every switch.
func buildRoleClients(cfg *config.Config) (map[string]*switchableClient, types.OnPhaseProviderFailure, error) {
	roles := map[string]*switchableClient{}
	for _, role := range []string{"architect", "builder", "critic"} {
		client, err := llm.NewRoleClient(cfg, role)
		if err != nil {
			return nil, nil, err
		}
		roles[role] = &switchableClient{active: client}
	}

	fallback, err := buildFallbackClient(cfg)
	if err != nil {
		return nil, nil, err
	}

	hook := func(failure types.PhaseFailure) types.FallbackDecision {
		if fallback == nil {
			return types.FallbackDecision{}
		}
		role, ok := roles[failure.Phase]
		if !ok {
			return types.FallbackDecision{}
		}
		if !role.swap(fallback) {
			return types.FallbackDecision{}
		}
		return types.FallbackDecision{
			Switched: true,
			Note:     failure.Phase + " switched to " + cfg.LLM.FallbackProvider,
		}
	}
	return roles, hook, nil
}

func buildFallbackClient(cfg *config.Config) (llm.Client, error) {
	if cfg.LLM.FallbackProvider == "" {
		return nil, nil
	}
	key := apiKeyFor(cfg, cfg.LLM.FallbackProvider)
	if key == "" {
		// A fallback without a key would fail on first use; treat it as
		// unconfigured rather than erroring runs that never need it.
		logger.Warn("fallback provider configured without an API key; fallback disabled")
		return nil, nil
	}
	resolved := &llm.Resolved{
		Provider: cfg.LLM.FallbackProvider,
		APIKey:   key,
		Model:    cfg.LLM.FallbackModel,
	}
	return llm.NewClient(resolved, llm.Options{Timeout: cfg.GetLLMTimeout()})
}

func apiKeyFor(cfg *config.Config, provider string) string {
	if provider == cfg.LLM.Provider && cfg.LLM.APIKey != "" {
		return cfg.LLM.APIKey
	}
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	}
	return ""
}
