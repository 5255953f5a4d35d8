package runlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, "job-1", "run-1")
	require.NoError(t, err)
	defer l.Close()

	l.Log("phase_start", map[string]interface{}{"phase": "librarian"})
	l.Log("phase_end", map[string]interface{}{"phase": "librarian"})
	require.NoError(t, l.Close())

	f, err := os.Open(filepath.Join(dir, ".mcoda", "jobs", "job-1", "events.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var types []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec EventRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		assert.Equal(t, "run-1", rec.RunID)
		types = append(types, rec.Type)
	}
	assert.Equal(t, []string{"phase_start", "phase_end"}, types)
}

func TestWritePhaseArtifactSequencesRepeats(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, "job-2", "run-2")
	require.NoError(t, err)
	defer l.Close()

	p1, err := l.WritePhaseArtifact("architect", "output", map[string]int{"pass": 1})
	require.NoError(t, err)
	p2, err := l.WritePhaseArtifact("architect", "output", map[string]int{"pass": 2})
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(p1, "architect-output.json"))
	assert.True(t, strings.HasSuffix(p2, "architect-output-2.json"))

	data, err := os.ReadFile(p2)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"pass": 2`)
}

func TestArtifactPayloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, "job-4", "run-4")
	require.NoError(t, err)
	defer l.Close()

	payload := map[string]interface{}{
		"pass":         float64(1),
		"source":       "llm",
		"target_drift": []interface{}{"src/auth.ts"},
	}
	path, err := l.WritePhaseArtifact("architect", "pass-1", payload)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &got))
	if diff := cmp.Diff(payload, got); diff != "" {
		t.Fatalf("artifact payload mismatch (-want +got):\n%s", diff)
	}
}

func TestNewGeneratesJobID(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, "", "run-3")
	require.NoError(t, err)
	defer l.Close()

	assert.True(t, strings.HasPrefix(l.JobID(), "job-"))
	_, err = os.Stat(filepath.Join(l.Dir(), "artifacts"))
	assert.NoError(t, err)
}
