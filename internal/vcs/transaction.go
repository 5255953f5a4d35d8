package vcs

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// snapshot is the pre-mutation state of one staged file.
type snapshot struct {
	tempPath string
	mode     fs.FileMode
}

// FileTransaction gives a patch batch best-effort atomicity. Every file is
// staged before its first write; Commit discards the snapshots, Rollback
// restores them and deletes files the batch created.
type FileTransaction struct {
	staged  map[string]snapshot
	created map[string]struct{}
}

// NewFileTransaction creates an empty transaction.
func NewFileTransaction() *FileTransaction {
	return &FileTransaction{
		staged:  make(map[string]snapshot),
		created: make(map[string]struct{}),
	}
}

// Stage snapshots path before mutation. A missing file is tracked as a
// create so Rollback can delete it. Staging the same path twice is a no-op.
func (tx *FileTransaction) Stage(path string) error {
	if _, ok := tx.staged[path]; ok {
		return nil
	}
	if _, ok := tx.created[path]; ok {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			tx.created[path] = struct{}{}
			return nil
		}
		return err
	}

	tmp, err := os.CreateTemp("", "mcoda_backup_*")
	if err != nil {
		return err
	}
	defer tmp.Close()

	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	if _, err := io.Copy(tmp, src); err != nil {
		return err
	}
	tx.staged[path] = snapshot{tempPath: tmp.Name(), mode: info.Mode()}
	return nil
}

// Commit discards the snapshots.
func (tx *FileTransaction) Commit() {
	for _, s := range tx.staged {
		_ = os.Remove(s.tempPath)
	}
	tx.staged = nil
	tx.created = nil
}

// Rollback restores every staged file with its original mode and deletes
// created files. Returns false when any restore failed.
func (tx *FileTransaction) Rollback() bool {
	ok := true
	for path, s := range tx.staged {
		data, err := os.ReadFile(s.tempPath)
		if err != nil {
			ok = false
			_ = os.Remove(s.tempPath)
			continue
		}
		_ = os.MkdirAll(filepath.Dir(path), 0755)
		if werr := os.WriteFile(path, data, s.mode); werr != nil {
			ok = false
		}
		_ = os.Remove(s.tempPath)
	}
	for path := range tx.created {
		_ = os.Remove(path)
	}

	tx.staged = nil
	tx.created = nil
	return ok
}
