package lanes

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"mcoda/internal/types"
)

type stubSummarizer struct {
	mu    sync.Mutex
	calls int
	reply string
	block chan struct{}
}

func (s *stubSummarizer) Complete(ctx context.Context, prompt string) (string, error) {
	return s.CompleteWithSystem(ctx, "", prompt)
}

func (s *stubSummarizer) CompleteWithSystem(ctx context.Context, sys, user string) (string, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.reply == "" {
		return "condensed history", nil
	}
	return s.reply, nil
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLaneIDConvention(t *testing.T) {
	key := types.LaneKey{JobID: "job-x", TaskID: "task-y", Role: "builder"}
	if got := key.LaneID(); got != "job-x:task-y:builder" {
		t.Fatalf("lane id = %q, want job-x:task-y:builder", got)
	}
	key.Attempt = 2
	if got := key.LaneID(); got != "job-x:task-y:builder:attempt-2" {
		t.Fatalf("retry lane id = %q", got)
	}
}

func TestGetLanePersistsAcrossCalls(t *testing.T) {
	m := NewManager(DefaultConfig(), nil, nil)
	defer m.Close()
	ctx := context.Background()

	key := types.LaneKey{JobID: "j", TaskID: "t", Role: "architect"}
	lane, err := m.GetLane(ctx, key)
	require.NoError(t, err)
	require.NoError(t, m.Append(ctx, lane.LaneID, types.Message{Role: "user", Content: "hello"}))

	again, err := m.GetLane(ctx, key)
	require.NoError(t, err)
	assert.Len(t, again.Messages, 1)
	assert.Equal(t, "hello", again.Messages[0].Content)
}

func TestAppendUnknownLane(t *testing.T) {
	m := NewManager(DefaultConfig(), nil, nil)
	defer m.Close()
	err := m.Append(context.Background(), "nope:nope:builder", types.Message{Role: "user", Content: "x"})
	require.ErrorIs(t, err, ErrLaneNotFound)
}

func TestHardCapsTrimOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMessages = 3
	cfg.Summarize.Enabled = false
	m := NewManager(cfg, nil, nil)
	defer m.Close()
	ctx := context.Background()

	lane, err := m.GetLane(ctx, types.LaneKey{JobID: "j", TaskID: "t", Role: "builder"})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Append(ctx, lane.LaneID, types.Message{Role: "user", Content: strings.Repeat("m", 10)}))
	}

	assert.Len(t, lane.Messages, 3)
	assert.LessOrEqual(t, lane.Bytes, cfg.MaxBytesPerLane)
}

func TestByteCapTrims(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBytesPerLane = 1024
	cfg.Summarize.Enabled = false
	m := NewManager(cfg, nil, nil)
	defer m.Close()
	ctx := context.Background()

	lane, err := m.GetLane(ctx, types.LaneKey{JobID: "j", TaskID: "t", Role: "critic"})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.NoError(t, m.Append(ctx, lane.LaneID, types.Message{Role: "user", Content: strings.Repeat("x", 400)}))
	}
	assert.LessOrEqual(t, lane.Bytes, 1024)
}

func TestSummarizationCollapsesOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBytesPerLane = 4096
	cfg.Summarize.Enabled = true
	cfg.Summarize.ThresholdPct = 0.5
	sum := &stubSummarizer{reply: "key facts retained"}
	m := NewManager(cfg, nil, sum)
	ctx := context.Background()

	lane, err := m.GetLane(ctx, types.LaneKey{JobID: "j", TaskID: "t", Role: "builder"})
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		require.NoError(t, m.Append(ctx, lane.LaneID, types.Message{Role: "assistant", Content: strings.Repeat("y", 500)}))
	}
	m.Close()

	sum.mu.Lock()
	calls := sum.calls
	sum.mu.Unlock()
	require.Greater(t, calls, 0, "summarizer should have been invoked")

	found := false
	for _, msg := range lane.Messages {
		if strings.Contains(msg.Content, "key facts retained") {
			found = true
		}
	}
	assert.True(t, found, "expected a synthetic summary message")
	assert.Less(t, len(lane.Messages), 6)
}

func TestSummarizationNeverBlocksAppend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBytesPerLane = 4096
	cfg.Summarize.ThresholdPct = 0.5
	block := make(chan struct{})
	sum := &stubSummarizer{block: block}
	m := NewManager(cfg, nil, sum)
	ctx := context.Background()

	lane, err := m.GetLane(ctx, types.LaneKey{JobID: "j", TaskID: "t", Role: "builder"})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 8; i++ {
			m.Append(ctx, lane.LaneID, types.Message{Role: "user", Content: strings.Repeat("z", 400)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("appends blocked on an in-flight summarization")
	}
	close(block)
	m.Close()
}

func TestEphemeralLaneDrop(t *testing.T) {
	m := NewManager(DefaultConfig(), nil, nil)
	defer m.Close()
	ctx := context.Background()

	key := types.LaneKey{JobID: "j", TaskID: "t", Role: "query-expansion", Ephemeral: true}
	lane, err := m.GetLane(ctx, key)
	require.NoError(t, err)
	require.NoError(t, m.Append(ctx, lane.LaneID, types.Message{Role: "user", Content: "tmp"}))

	m.DropEphemeral(lane.LaneID)
	err = m.Append(ctx, lane.LaneID, types.Message{Role: "user", Content: "after"})
	require.ErrorIs(t, err, ErrLaneNotFound)
}

func TestSQLiteRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "lanes.db")
	store, err := OpenStore(dbPath)
	require.NoError(t, err)

	ctx := context.Background()
	m := NewManager(DefaultConfig(), store, nil)
	key := types.LaneKey{JobID: "j", TaskID: "t", Role: "architect"}
	lane, err := m.GetLane(ctx, key)
	require.NoError(t, err)
	require.NoError(t, m.Append(ctx, lane.LaneID, types.Message{Role: "user", Content: "persist me"}))
	require.NoError(t, m.Close())

	store2, err := OpenStore(dbPath)
	require.NoError(t, err)
	m2 := NewManager(DefaultConfig(), store2, nil)
	defer m2.Close()
	lane2, err := m2.GetLane(ctx, key)
	require.NoError(t, err)
	require.Len(t, lane2.Messages, 1)
	assert.Equal(t, "persist me", lane2.Messages[0].Content)
}

func TestEphemeralLaneNeverPersisted(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "lanes.db")
	store, err := OpenStore(dbPath)
	require.NoError(t, err)

	ctx := context.Background()
	m := NewManager(DefaultConfig(), store, nil)
	key := types.LaneKey{JobID: "j", TaskID: "t", Role: "research", Ephemeral: true}
	lane, err := m.GetLane(ctx, key)
	require.NoError(t, err)
	require.NoError(t, m.Append(ctx, lane.LaneID, types.Message{Role: "user", Content: "transient"}))
	require.NoError(t, m.Close())

	store2, err := OpenStore(dbPath)
	require.NoError(t, err)
	defer store2.Close()
	msgs, err := store2.LoadLane(lane.LaneID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
