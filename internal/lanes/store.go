package lanes

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"mcoda/internal/logging"
	"mcoda/internal/types"
)

// Store persists non-ephemeral lanes so a run can resume after a process
// restart. Ephemeral lanes never touch disk.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenStore opens (or creates) the lane database at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lane directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open lane db: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS lane_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		lane_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(lane_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_lane_messages_lane ON lane_messages(lane_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize lane schema: %w", err)
	}

	logging.Lanes("Lane store opened at %s", path)
	return &Store{db: db}, nil
}

// SaveMessage appends one message for a lane at the given sequence number.
// Uses INSERT OR IGNORE so replayed appends are idempotent.
func (s *Store) SaveMessage(laneID string, seq int, msg types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO lane_messages (lane_id, seq, role, content) VALUES (?, ?, ?, ?)`,
		laneID, seq, msg.Role, msg.Content,
	)
	if err != nil {
		logging.Get(logging.CategoryLanes).Error("Failed to save message for lane %s: %v", laneID, err)
		return err
	}
	return nil
}

// ReplaceLane rewrites a lane's full message list (used after summarization).
func (s *Store) ReplaceLane(laneID string, messages []types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM lane_messages WHERE lane_id = ?`, laneID); err != nil {
		tx.Rollback()
		return err
	}
	for i, m := range messages {
		if _, err := tx.Exec(
			`INSERT INTO lane_messages (lane_id, seq, role, content) VALUES (?, ?, ?, ?)`,
			laneID, i, m.Role, m.Content,
		); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LoadLane returns a lane's messages in sequence order.
func (s *Store) LoadLane(laneID string) ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT role, content FROM lane_messages WHERE lane_id = ? ORDER BY seq ASC`,
		laneID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []types.Message
	for rows.Next() {
		var m types.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			continue
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// DeleteLane removes a lane's messages.
func (s *Store) DeleteLane(laneID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM lane_messages WHERE lane_id = ?`, laneID)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
