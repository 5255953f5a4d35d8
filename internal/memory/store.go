// Package memory persists post-run writebacks: failure counts and lessons
// from critic verdicts, plus detected preferences worth keeping.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mcoda/internal/logging"
	"mcoda/internal/types"
)

// Store is the SQLite-backed writeback store. Satisfies types.MemoryWriteback.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) the writeback database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create memory directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory db: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS writebacks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		job_id TEXT DEFAULT '',
		task_id TEXT DEFAULT '',
		failures INTEGER NOT NULL,
		max_retries INTEGER NOT NULL,
		lesson TEXT DEFAULT '',
		preferences TEXT DEFAULT '[]',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(run_id)
	);
	CREATE INDEX IF NOT EXISTS idx_writebacks_created ON writebacks(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize writeback schema: %w", err)
	}

	logging.Memory("Writeback store opened at %s", path)
	return &Store{db: db}, nil
}

// Persist stores one writeback record. Duplicate run ids are silently
// skipped, making post-run writeback idempotent.
func (s *Store) Persist(ctx context.Context, rec types.WritebackRecord) error {
	timer := logging.StartTimer(logging.CategoryMemory, "Store.Persist")
	defer timer.Stop()

	prefs, err := json.Marshal(rec.Preferences)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO writebacks (run_id, job_id, task_id, failures, max_retries, lesson, preferences)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.JobID, rec.TaskID, rec.Failures, rec.MaxRetries, rec.Lesson, string(prefs),
	)
	if err != nil {
		logging.Get(logging.CategoryMemory).Error("Failed to persist writeback for run %s: %v", rec.RunID, err)
		return fmt.Errorf("failed to persist writeback: %w", err)
	}

	logging.MemoryDebug("Writeback persisted: run=%s failures=%d lesson_len=%d", rec.RunID, rec.Failures, len(rec.Lesson))
	return nil
}

// Recent returns the latest n writebacks, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]types.WritebackRecord, error) {
	if n <= 0 {
		n = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, job_id, task_id, failures, max_retries, lesson, preferences, created_at
		 FROM writebacks ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.WritebackRecord
	for rows.Next() {
		var rec types.WritebackRecord
		var prefs string
		var createdAt time.Time
		if err := rows.Scan(&rec.RunID, &rec.JobID, &rec.TaskID, &rec.Failures, &rec.MaxRetries, &rec.Lesson, &prefs, &createdAt); err != nil {
			continue
		}
		_ = json.Unmarshal([]byte(prefs), &rec.Preferences)
		rec.CreatedAtMS = createdAt.UnixMilli()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
