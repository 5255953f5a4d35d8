// Package runlog persists the per-run event stream and phase artifacts.
// Events go to .mcoda/jobs/<jobId>/events.jsonl as one JSON object per line;
// artifacts are standalone JSON files under the job's artifacts/ directory.
// Both writers are internally serialized so concurrent runs on distinct jobs
// never interleave within one file.
package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mcoda/internal/logging"
)

// EventRecord is one line in the events stream.
type EventRecord struct {
	Timestamp int64                  `json:"ts"` // Unix milliseconds
	RunID     string                 `json:"run_id,omitempty"`
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Logger writes a single job's event stream and artifacts.
// It satisfies types.RunLogger.
type Logger struct {
	mu        sync.Mutex
	jobID     string
	runID     string
	jobDir    string
	eventFile *os.File

	// artifactSeq disambiguates repeated artifacts of the same phase/kind
	// (the architect writes several output artifacts per run).
	artifactSeq map[string]int
}

// New creates (or reopens) the run logger for a job under workspaceRoot.
func New(workspaceRoot, jobID, runID string) (*Logger, error) {
	if jobID == "" {
		jobID = "job-" + uuid.NewString()[:8]
	}
	jobDir := filepath.Join(workspaceRoot, ".mcoda", "jobs", jobID)
	if err := os.MkdirAll(filepath.Join(jobDir, "artifacts"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create job directory: %w", err)
	}

	eventPath := filepath.Join(jobDir, "events.jsonl")
	f, err := os.OpenFile(eventPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	logging.Pipeline("Run logger opened: job=%s run=%s dir=%s", jobID, runID, jobDir)

	return &Logger{
		jobID:       jobID,
		runID:       runID,
		jobDir:      jobDir,
		eventFile:   f,
		artifactSeq: make(map[string]int),
	}, nil
}

// JobID returns the job this logger writes under.
func (l *Logger) JobID() string { return l.jobID }

// Dir returns the job directory.
func (l *Logger) Dir() string { return l.jobDir }

// Log appends one event to the stream. Never fails the caller: a write error
// is reported to the category log and swallowed.
func (l *Logger) Log(eventType string, data map[string]interface{}) {
	rec := EventRecord{
		Timestamp: time.Now().UnixMilli(),
		RunID:     l.runID,
		Type:      eventType,
		Data:      data,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		logging.PipelineError("Failed to marshal event %s: %v", eventType, err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.eventFile == nil {
		return
	}
	if _, err := l.eventFile.Write(append(line, '\n')); err != nil {
		logging.PipelineError("Failed to write event %s: %v", eventType, err)
	}
}

// WritePhaseArtifact stores a JSON artifact for a phase and returns its path.
// Files are named <phase>-<kind>.json, with a numeric suffix on repeats.
func (l *Logger) WritePhaseArtifact(phase, kind string, payload interface{}) (string, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s %s artifact: %w", phase, kind, err)
	}

	l.mu.Lock()
	key := phase + "-" + kind
	seq := l.artifactSeq[key]
	l.artifactSeq[key] = seq + 1
	l.mu.Unlock()

	name := fmt.Sprintf("%s-%s.json", sanitize(phase), sanitize(kind))
	if seq > 0 {
		name = fmt.Sprintf("%s-%s-%d.json", sanitize(phase), sanitize(kind), seq+1)
	}
	path := filepath.Join(l.jobDir, "artifacts", name)

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write artifact %s: %w", name, err)
	}
	return path, nil
}

// Close closes the event stream.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.eventFile == nil {
		return nil
	}
	err := l.eventFile.Close()
	l.eventFile = nil
	return err
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, string(os.PathSeparator), "_")
	s = strings.ReplaceAll(s, "..", "_")
	if s == "" {
		return "unnamed"
	}
	return s
}
