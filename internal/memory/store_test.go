package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcoda/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPersistAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Persist(ctx, types.WritebackRecord{
		RunID:       "run-1",
		JobID:       "job-1",
		Failures:    0,
		MaxRetries:  1,
		Lesson:      "",
		Preferences: []string{"prefers-typescript"},
	}))
	require.NoError(t, s.Persist(ctx, types.WritebackRecord{
		RunID:      "run-2",
		Failures:   2,
		MaxRetries: 2,
		Lesson:     "tests missing; lint failed",
	}))

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	// Newest first.
	assert.Equal(t, "run-2", recent[0].RunID)
	assert.Equal(t, 2, recent[0].Failures)
	assert.Equal(t, "tests missing; lint failed", recent[0].Lesson)
	assert.Equal(t, []string{"prefers-typescript"}, recent[1].Preferences)
}

func TestPersistDedupesOnRunID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := types.WritebackRecord{RunID: "run-x", Failures: 1, MaxRetries: 1, Lesson: "first"}
	require.NoError(t, s.Persist(ctx, rec))
	rec.Lesson = "second write ignored"
	require.NoError(t, s.Persist(ctx, rec))

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "first", recent[0].Lesson)
}
