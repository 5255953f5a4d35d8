// Package config loads and validates mcoda configuration.
// Configuration lives in .mcoda/config.yaml inside the workspace; environment
// variables override file values for credentials and endpoints.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	LLM LLMConfig `yaml:"llm"`

	Docdex DocdexConfig `yaml:"docdex"`

	Pipeline PipelineConfig `yaml:"pipeline"`

	Lanes LanesConfig `yaml:"lanes"`

	Librarian LibrarianConfig `yaml:"librarian"`

	Memory MemoryConfig `yaml:"memory"`

	Logging LoggingConfig `yaml:"logging"`
}

// RoleLLMConfig overrides provider/model for one phase role.
type RoleLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// LLMConfig holds the provider settings shared by the phase agents.
type LLMConfig struct {
	Provider string `yaml:"provider"` // anthropic, openai, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`

	// Fallback provider used when OnPhaseProviderFailure opts to switch.
	FallbackProvider string `yaml:"fallback_provider"`
	FallbackModel    string `yaml:"fallback_model"`

	// Per-role overrides keyed by architect/builder/critic/summarizer.
	Roles map[string]RoleLLMConfig `yaml:"roles"`
}

// BreakerConfig tunes the docdex client circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32 `yaml:"max_requests"`          // half-open probe allowance
	Interval            string `yaml:"interval"`              // closed-state count reset window
	Timeout             string `yaml:"timeout"`               // open-state cooldown
	ConsecutiveFailures uint32 `yaml:"consecutive_failures"`  // trip threshold
}

// DocdexConfig points at the workspace index service.
type DocdexConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	Timeout string        `yaml:"timeout"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// ToolQuotaConfig sets per-bucket minimum successful tool runs for deep mode.
type ToolQuotaConfig struct {
	Search        int `yaml:"search"`
	OpenOrSnippet int `yaml:"open_or_snippet"`
	SymbolsOrAST  int `yaml:"symbols_or_ast"`
	Impact        int `yaml:"impact"`
	Tree          int `yaml:"tree"`
	DAGExport     int `yaml:"dag_export"`
}

// InvestigationBudgetConfig bounds research cycles and time.
type InvestigationBudgetConfig struct {
	MinCycles  int `yaml:"min_cycles"`
	MinSeconds int `yaml:"min_seconds"`
	MaxCycles  int `yaml:"max_cycles"`
}

// EvidenceGateConfig sets the minimum evidence counts for deep mode.
type EvidenceGateConfig struct {
	MinSearchHits    int `yaml:"min_search_hits"`
	MinOpenOrSnippet int `yaml:"min_open_or_snippet"`
	MinSymbolsOrAST  int `yaml:"min_symbols_or_ast"`
	MinImpact        int `yaml:"min_impact"`
	MaxWarnings      int `yaml:"max_warnings"`
}

// DeepInvestigationConfig groups the deep-mode gates.
type DeepInvestigationConfig struct {
	ToolQuota           ToolQuotaConfig           `yaml:"tool_quota"`
	InvestigationBudget InvestigationBudgetConfig `yaml:"investigation_budget"`
	EvidenceGate        EvidenceGateConfig        `yaml:"evidence_gate"`
}

// PhaseTimeoutsConfig bounds each phase agent call.
type PhaseTimeoutsConfig struct {
	Librarian     string `yaml:"librarian"`
	Architect     string `yaml:"architect"`
	Builder       string `yaml:"builder"`
	Critic        string `yaml:"critic"`
	ResearchCycle string `yaml:"research_cycle"`
}

// PipelineConfig tunes the run state machine.
type PipelineConfig struct {
	MaxRetries          int                     `yaml:"max_retries"`
	MaxContextRefreshes int                     `yaml:"max_context_refreshes"`
	FastPathEnabled     bool                    `yaml:"fast_path_enabled"`
	DeepMode            bool                    `yaml:"deep_mode"`
	DeepInvestigation   DeepInvestigationConfig `yaml:"deep_investigation"`
	PhaseTimeouts       PhaseTimeoutsConfig     `yaml:"phase_timeouts"`
}

// SummarizeConfig tunes cooperative lane summarization.
type SummarizeConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ThresholdPct float64 `yaml:"threshold_pct"`
	TargetTokens int     `yaml:"target_tokens"`
}

// LanesConfig tunes the lane context manager.
type LanesConfig struct {
	MaxMessages      int             `yaml:"max_messages"`
	MaxBytesPerLane  int             `yaml:"max_bytes_per_lane"`
	ModelTokenLimits map[string]int  `yaml:"model_token_limits"`
	Summarize        SummarizeConfig `yaml:"summarize"`
	DatabasePath     string          `yaml:"database_path"`
}

// LibrarianConfig tunes context assembly depth.
type LibrarianConfig struct {
	MaxQueries            int  `yaml:"max_queries"`
	MaxFiles              int  `yaml:"max_files"`
	MaxTotalBytes         int  `yaml:"max_total_bytes"`
	TokenBudget           int  `yaml:"token_budget"`
	FocusFileByteCap      int  `yaml:"focus_file_byte_cap"`
	PeripheryFileByteCap  int  `yaml:"periphery_file_byte_cap"`
	IncludeRepoMap        bool `yaml:"include_repo_map"`
	MaxSnippetsPerQuery   int  `yaml:"max_snippets_per_query"`

	// IntentRoots maps an intent name to the workspace roots enumerated when
	// that intent is detected in a request.
	IntentRoots map[string][]string `yaml:"intent_roots"`
}

// MemoryConfig tunes recall and writeback persistence.
type MemoryConfig struct {
	DatabasePath string  `yaml:"database_path"`
	MaxRecall    int     `yaml:"max_recall"`
	MinScore     float64 `yaml:"min_score"`
}

// LoggingConfig mirrors the block internal/logging reads.
type LoggingConfig struct {
	Debug      bool            `yaml:"debug"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "mcoda",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider: "anthropic",
			Model:    "claude-sonnet-4-20250514",
			Timeout:  "120s",
		},

		Docdex: DocdexConfig{
			Enabled: true,
			BaseURL: "http://localhost:8942",
			Timeout: "30s",
			Breaker: BreakerConfig{
				MaxRequests:         2,
				Interval:            "60s",
				Timeout:             "20s",
				ConsecutiveFailures: 5,
			},
		},

		Pipeline: PipelineConfig{
			MaxRetries:          1,
			MaxContextRefreshes: 2,
			FastPathEnabled:     false,
			DeepMode:            false,
			DeepInvestigation: DeepInvestigationConfig{
				ToolQuota: ToolQuotaConfig{
					Search:        1,
					OpenOrSnippet: 1,
					SymbolsOrAST:  0,
					Impact:        0,
					Tree:          0,
					DAGExport:     0,
				},
				InvestigationBudget: InvestigationBudgetConfig{
					MinCycles:  1,
					MinSeconds: 0,
					MaxCycles:  3,
				},
				EvidenceGate: EvidenceGateConfig{
					MinSearchHits:    1,
					MinOpenOrSnippet: 0,
					MinSymbolsOrAST:  0,
					MinImpact:        0,
					MaxWarnings:      3,
				},
			},
			PhaseTimeouts: PhaseTimeoutsConfig{
				Librarian:     "60s",
				Architect:     "180s",
				Builder:       "300s",
				Critic:        "120s",
				ResearchCycle: "90s",
			},
		},

		Lanes: LanesConfig{
			MaxMessages:     64,
			MaxBytesPerLane: 262144,
			ModelTokenLimits: map[string]int{
				"default": 128000,
			},
			Summarize: SummarizeConfig{
				Enabled:      true,
				ThresholdPct: 0.80,
				TargetTokens: 1024,
			},
			DatabasePath: ".mcoda/context/lanes.db",
		},

		Librarian: LibrarianConfig{
			MaxQueries:           6,
			MaxFiles:             12,
			MaxTotalBytes:        524288,
			TokenBudget:          48000,
			FocusFileByteCap:     98304,
			PeripheryFileByteCap: 32768,
			IncludeRepoMap:       true,
			MaxSnippetsPerQuery:  3,
			IntentRoots: map[string][]string{
				"testing":       {"tests/", "test/", "__tests__/", "spec/"},
				"infra":         {"deploy/", "infra/", ".github/", "docker/"},
				"security":      {"auth/", "security/", "src/auth/"},
				"observability": {"telemetry/", "metrics/", "logging/", "monitoring/"},
				"backend":       {"server/", "api/", "src/server/", "src/api/"},
			},
		},

		Memory: MemoryConfig{
			DatabasePath: ".mcoda/memory/memory.db",
			MaxRecall:    16,
			MinScore:     0.2,
		},

		Logging: LoggingConfig{
			Debug: false,
			Level: "info",
		},
	}
}

// Path returns the canonical config location for a workspace.
func Path(workspace string) string {
	return filepath.Join(workspace, ".mcoda", "config.yaml")
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Provider keys in priority order; the last one found wins, matching the
	// explicit-provider-beats-implicit rule in the client factory.
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "anthropic"
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}
	if p := os.Getenv("MCODA_PROVIDER"); p != "" {
		c.LLM.Provider = p
	}
	if m := os.Getenv("MCODA_MODEL"); m != "" {
		c.LLM.Model = m
	}

	if url := os.Getenv("MCODA_DOCDEX_URL"); url != "" {
		c.Docdex.BaseURL = url
	}
	if path := os.Getenv("MCODA_MEMORY_DB"); path != "" {
		c.Memory.DatabasePath = path
	}
	if path := os.Getenv("MCODA_LANES_DB"); path != "" {
		c.Lanes.DatabasePath = path
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDurationOr(c.LLM.Timeout, 120*time.Second)
}

// GetDocdexTimeout returns the docdex per-call timeout as a duration.
func (c *Config) GetDocdexTimeout() time.Duration {
	return parseDurationOr(c.Docdex.Timeout, 30*time.Second)
}

// PhaseTimeout returns the configured timeout for a phase name.
func (c *Config) PhaseTimeout(phase string) time.Duration {
	pt := c.Pipeline.PhaseTimeouts
	switch phase {
	case "librarian":
		return parseDurationOr(pt.Librarian, 60*time.Second)
	case "architect":
		return parseDurationOr(pt.Architect, 180*time.Second)
	case "builder":
		return parseDurationOr(pt.Builder, 300*time.Second)
	case "critic":
		return parseDurationOr(pt.Critic, 120*time.Second)
	case "research":
		return parseDurationOr(pt.ResearchCycle, 90*time.Second)
	}
	return 120 * time.Second
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"anthropic", "openai", "gemini"}

// Validate checks the configuration for values the pipeline cannot run with.
// Range problems are normalized rather than rejected where a sane floor
// exists; contradictions return errors.
func (c *Config) Validate() error {
	validProvider := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}

	if c.Pipeline.MaxRetries < 1 {
		c.Pipeline.MaxRetries = 1
	}
	if c.Pipeline.MaxContextRefreshes < 0 {
		c.Pipeline.MaxContextRefreshes = 0
	}

	budget := &c.Pipeline.DeepInvestigation.InvestigationBudget
	if budget.MinCycles < 1 {
		budget.MinCycles = 1
	}
	if budget.MaxCycles < budget.MinCycles {
		return fmt.Errorf("deep_investigation.investigation_budget: max_cycles (%d) below min_cycles (%d)",
			budget.MaxCycles, budget.MinCycles)
	}

	sum := &c.Lanes.Summarize
	if sum.ThresholdPct <= 0 || sum.ThresholdPct > 1 {
		sum.ThresholdPct = 0.80
	}
	if c.Lanes.MaxBytesPerLane < 1024 {
		c.Lanes.MaxBytesPerLane = 1024
	}
	if c.Lanes.MaxMessages < 2 {
		c.Lanes.MaxMessages = 2
	}

	return nil
}

// RequireAPIKey ensures a provider credential is configured; the CLI calls
// this before wiring live agents (tests wire mocks and skip it).
func (c *Config) RequireAPIKey() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set ANTHROPIC_API_KEY, OPENAI_API_KEY, or GEMINI_API_KEY)")
	}
	return nil
}

// RoleProvider resolves the provider/model for a phase role, falling back to
// the shared settings.
func (c *Config) RoleProvider(role string) (provider, model string) {
	if rc, ok := c.LLM.Roles[role]; ok {
		provider, model = rc.Provider, rc.Model
	}
	if provider == "" {
		provider = c.LLM.Provider
	}
	if model == "" {
		model = c.LLM.Model
	}
	return provider, model
}

// IsDocdexEnabled returns whether the index integration is enabled.
func (c *Config) IsDocdexEnabled() bool {
	return c.Docdex.Enabled
}
