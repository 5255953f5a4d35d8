package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "mcoda", cfg.Name)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 1, cfg.Pipeline.MaxRetries)
	assert.Equal(t, 2, cfg.Pipeline.MaxContextRefreshes)
	assert.Equal(t, 12, cfg.Librarian.MaxFiles)
	assert.Equal(t, 524288, cfg.Librarian.MaxTotalBytes)
	assert.Equal(t, ".mcoda/memory/memory.db", cfg.Memory.DatabasePath)
	assert.Equal(t, ".mcoda/context/lanes.db", cfg.Lanes.DatabasePath)
	assert.True(t, cfg.Docdex.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Librarian.MaxQueries, cfg.Librarian.MaxQueries)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".mcoda", "config.yaml")

	cfg := DefaultConfig()
	cfg.Pipeline.MaxRetries = 3
	cfg.Pipeline.DeepMode = true
	cfg.Librarian.TokenBudget = 32000
	cfg.LLM.Roles = map[string]RoleLLMConfig{
		"critic": {Provider: "openai", Model: "gpt-4o"},
	}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Pipeline.MaxRetries)
	assert.True(t, loaded.Pipeline.DeepMode)
	assert.Equal(t, 32000, loaded.Librarian.TokenBudget)

	provider, model := loaded.RoleProvider("critic")
	assert.Equal(t, "openai", provider)
	assert.Equal(t, "gpt-4o", model)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "sk-test-gemini")
	t.Setenv("MCODA_DOCDEX_URL", "http://docdex.internal:9000")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "sk-test-gemini", cfg.LLM.APIKey)
	assert.Equal(t, "http://docdex.internal:9000", cfg.Docdex.BaseURL)
}

func TestEnvOverridesIgnoreEmptyValues(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	os.Unsetenv("MCODA_PROVIDER")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Empty(t, cfg.LLM.APIKey)
}

func TestValidate(t *testing.T) {
	t.Run("normalizes out-of-range values", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Pipeline.MaxRetries = 0
		cfg.Pipeline.MaxContextRefreshes = -1
		cfg.Lanes.MaxBytesPerLane = 10
		cfg.Lanes.Summarize.ThresholdPct = 7.5

		require.NoError(t, cfg.Validate())
		assert.Equal(t, 1, cfg.Pipeline.MaxRetries)
		assert.Equal(t, 0, cfg.Pipeline.MaxContextRefreshes)
		assert.Equal(t, 1024, cfg.Lanes.MaxBytesPerLane)
		assert.Equal(t, 0.80, cfg.Lanes.Summarize.ThresholdPct)
	})

	t.Run("rejects unknown provider", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.LLM.Provider = "cohere"
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects contradictory cycle budget", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Pipeline.DeepInvestigation.InvestigationBudget.MinCycles = 5
		cfg.Pipeline.DeepInvestigation.InvestigationBudget.MaxCycles = 2
		assert.Error(t, cfg.Validate())
	})
}

func TestPhaseTimeouts(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 60*time.Second, cfg.PhaseTimeout("librarian"))
	assert.Equal(t, 300*time.Second, cfg.PhaseTimeout("builder"))

	cfg.Pipeline.PhaseTimeouts.Builder = "not a duration"
	assert.Equal(t, 300*time.Second, cfg.PhaseTimeout("builder"))

	cfg.Pipeline.PhaseTimeouts.Builder = "45s"
	assert.Equal(t, 45*time.Second, cfg.PhaseTimeout("builder"))
}

func TestPathPlacesConfigUnderStateDir(t *testing.T) {
	assert.Equal(t, filepath.Join("/ws", ".mcoda", "config.yaml"), Path("/ws"))
}
