// Package lanes implements the per-phase conversation lane manager.
// A lane is a bounded message buffer keyed by "<jobId>:<taskId>:<role>"
// (with an ":attempt-N" suffix on builder retries). Non-ephemeral lanes are
// persisted to SQLite; ephemeral lanes (query expansion, research) live only
// until DropEphemeral.
package lanes

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"mcoda/internal/logging"
	"mcoda/internal/types"
)

// ErrLaneNotFound is returned when appending to a lane that was never created.
var ErrLaneNotFound = errors.New("lane not found")

// Config tunes lane capacity and summarization.
type Config struct {
	MaxMessages      int
	MaxBytesPerLane  int
	ModelTokenLimits map[string]int

	Summarize SummarizeConfig

	// Model selects the token limit applied from ModelTokenLimits; empty
	// falls back to the "default" entry.
	Model string
}

// SummarizeConfig tunes the cooperative summarization trigger.
type SummarizeConfig struct {
	Enabled      bool
	ThresholdPct float64
	TargetTokens int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
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
	}
}

// laneState pairs a lane with its serialization lock.
type laneState struct {
	mu   sync.Mutex
	lane *types.Lane
	// summarizing guards against stacking summarization jobs on one lane.
	summarizing bool
}

// Manager is the lane context manager. Safe for concurrent use; writes to a
// single lane are serialized by the per-lane lock.
type Manager struct {
	mu     sync.RWMutex
	lanes  map[string]*laneState
	config Config

	store      *Store // nil when persistence is disabled
	summarizer types.LLMClient

	// wg tracks background summarizations so Close can drain them.
	wg sync.WaitGroup
}

// NewManager creates a lane manager. store and summarizer may be nil:
// without a store, lanes are memory-only; without a summarizer, overflow
// falls back to dropping oldest messages.
func NewManager(cfg Config, store *Store, summarizer types.LLMClient) *Manager {
	if cfg.MaxMessages < 2 {
		cfg.MaxMessages = 2
	}
	if cfg.MaxBytesPerLane < 1024 {
		cfg.MaxBytesPerLane = 1024
	}
	if cfg.Summarize.ThresholdPct <= 0 || cfg.Summarize.ThresholdPct > 1 {
		cfg.Summarize.ThresholdPct = 0.80
	}
	return &Manager{
		lanes:      make(map[string]*laneState),
		config:     cfg,
		store:      store,
		summarizer: summarizer,
	}
}

// GetLane returns the lane for key, creating it if needed. Non-ephemeral
// lanes are rehydrated from the store on first access.
func (m *Manager) GetLane(ctx context.Context, key types.LaneKey) (*types.Lane, error) {
	laneID := key.LaneID()

	m.mu.RLock()
	if st, ok := m.lanes[laneID]; ok {
		m.mu.RUnlock()
		return st.lane, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.lanes[laneID]; ok {
		return st.lane, nil
	}

	lane := &types.Lane{
		LaneID: laneID,
		Role:   key.Role,
		Scope: types.LaneScope{
			JobID:   key.JobID,
			TaskID:  key.TaskID,
			RunID:   key.RunID,
			Attempt: key.Attempt,
		},
		Ephemeral: key.Ephemeral,
	}

	if !key.Ephemeral && m.store != nil {
		messages, err := m.store.LoadLane(laneID)
		if err != nil {
			logging.LanesWarn("Failed to rehydrate lane %s: %v", laneID, err)
		} else if len(messages) > 0 {
			lane.Messages = messages
			for _, msg := range messages {
				lane.Bytes += len(msg.Content)
			}
			logging.LanesDebug("Rehydrated lane %s: %d messages, %d bytes", laneID, len(messages), lane.Bytes)
		}
	}

	m.lanes[laneID] = &laneState{lane: lane}
	logging.LanesDebug("Lane created: %s (ephemeral=%v)", laneID, key.Ephemeral)
	return lane, nil
}

// Append adds a message to a lane, enforcing caps. When the lane crosses the
// summarization threshold, a background summarization is scheduled; the
// append itself never blocks on it.
func (m *Manager) Append(ctx context.Context, laneID string, msg types.Message) error {
	m.mu.RLock()
	st, ok := m.lanes[laneID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrLaneNotFound, laneID)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	lane := st.lane
	lane.Messages = append(lane.Messages, msg)
	lane.Bytes += len(msg.Content)

	if !lane.Ephemeral && m.store != nil {
		if err := m.store.SaveMessage(laneID, len(lane.Messages)-1, msg); err != nil {
			logging.LanesWarn("Lane %s persistence failed: %v", laneID, err)
		}
	}

	// Hard caps: trim oldest until within message and byte budgets.
	m.enforceCapsLocked(lane)

	// Cooperative summarization below the hard cap.
	if m.shouldSummarize(lane) && !st.summarizing {
		st.summarizing = true
		m.wg.Add(1)
		go m.summarizeLane(st)
	}

	return nil
}

// enforceCapsLocked trims oldest messages past the hard limits. Callers hold
// the lane lock.
func (m *Manager) enforceCapsLocked(lane *types.Lane) {
	for len(lane.Messages) > m.config.MaxMessages || lane.Bytes > m.config.MaxBytesPerLane {
		if len(lane.Messages) <= 1 {
			break
		}
		dropped := lane.Messages[0]
		lane.Messages = lane.Messages[1:]
		lane.Bytes -= len(dropped.Content)
		logging.LanesDebug("Lane %s: dropped oldest message (%d bytes) to respect caps", lane.LaneID, len(dropped.Content))
	}
}

// tokenLimit resolves the configured model token ceiling.
func (m *Manager) tokenLimit() int {
	if limit, ok := m.config.ModelTokenLimits[m.config.Model]; ok && limit > 0 {
		return limit
	}
	if limit, ok := m.config.ModelTokenLimits["default"]; ok && limit > 0 {
		return limit
	}
	return 128000
}

// shouldSummarize reports whether the lane crossed the threshold fraction of
// its byte or token budget.
func (m *Manager) shouldSummarize(lane *types.Lane) bool {
	if !m.config.Summarize.Enabled || m.summarizer == nil {
		return false
	}
	if len(lane.Messages) < 4 {
		return false
	}
	pct := m.config.Summarize.ThresholdPct
	if float64(lane.Bytes) >= pct*float64(m.config.MaxBytesPerLane) {
		return true
	}
	tokens := EstimateLaneTokens(lane.Messages)
	return float64(tokens) >= pct*float64(m.tokenLimit())
}

// DropEphemeral discards an ephemeral lane. Non-ephemeral lanes are left
// alone.
func (m *Manager) DropEphemeral(laneID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.lanes[laneID]
	if !ok {
		return
	}
	if !st.lane.Ephemeral {
		logging.LanesWarn("DropEphemeral called on persistent lane %s; ignored", laneID)
		return
	}
	delete(m.lanes, laneID)
	logging.LanesDebug("Ephemeral lane dropped: %s", laneID)
}

// Close drains in-flight summarizations and closes the store.
func (m *Manager) Close() error {
	m.wg.Wait()
	if m.store != nil {
		return m.store.Close()
	}
	return nil
}
