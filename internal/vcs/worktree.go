// Package vcs applies builder patches to the workspace. Only the builder
// phase mutates workspace files; the worktree lock serializes apply +
// rollback + post-apply read across concurrent runs.
package vcs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"mcoda/internal/logging"
	"mcoda/internal/types"
)

// ApplyResult reports a successful patch application.
type ApplyResult struct {
	TouchedFiles []string
	Diff         string
}

// Worktree applies patch batches under a single lock.
type Worktree struct {
	mu   sync.Mutex
	root string
}

// NewWorktree creates a worktree rooted at root.
func NewWorktree(root string) *Worktree {
	return &Worktree{root: root}
}

// Root returns the worktree root.
func (w *Worktree) Root() string { return w.root }

// Apply applies patches transactionally. allowedFiles, when non-empty,
// restricts which files a patch may touch; a patch referencing anything else
// aborts the whole batch before any mutation. On any failure after staging,
// the transaction rolls back and the error is a *types.PatchApplyError.
func (w *Worktree) Apply(patches []types.Patch, allowedFiles []string) (*ApplyResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(patches) == 0 {
		return nil, &types.PatchApplyError{
			Source:  types.ApplySourceBuilderPatchProcessing,
			Message: "Patch payload includes empty patches array",
			Kind:    types.DeterministicPatchParse,
		}
	}

	// Allowed-file enforcement happens before any mutation.
	if len(allowedFiles) > 0 {
		allowed := make(map[string]struct{}, len(allowedFiles))
		for _, f := range allowedFiles {
			allowed[filepath.Clean(f)] = struct{}{}
		}
		for _, p := range patches {
			if _, ok := allowed[filepath.Clean(p.File)]; !ok {
				return nil, &types.PatchApplyError{
					Source:  types.ApplySourceBuilderPatchProcessing,
					Message: fmt.Sprintf("Patch references file not in plan targets: %s", p.File),
					Patches: patches,
					Kind:    types.DeterministicDisallowedFiles,
				}
			}
		}
	}

	tx := NewFileTransaction()
	oldContents := make(map[string]string)
	touched := make(map[string]struct{})

	fail := func(msg, kind string) (*ApplyResult, error) {
		rolledBack := tx.Rollback()
		logging.VCSError("Patch apply failed (%s): %s", kind, msg)
		return nil, &types.PatchApplyError{
			Source:   types.ApplySourceInterpreterPrimary,
			Message:  msg,
			Patches:  patches,
			Rollback: types.RollbackInfo{Attempted: true, OK: rolledBack},
			Kind:     kind,
		}
	}

	for _, p := range patches {
		abs := filepath.Join(w.root, p.File)

		if err := tx.Stage(abs); err != nil {
			return fail(fmt.Sprintf("failed to stage %s: %v", p.File, err), "")
		}

		switch p.Action {
		case types.PatchCreate:
			if _, ok := oldContents[p.File]; !ok {
				oldContents[p.File] = readIfExists(abs)
			}
			if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
				return fail(fmt.Sprintf("failed to create directory for %s: %v", p.File, err), "")
			}
			if err := os.WriteFile(abs, []byte(p.ReplaceBlock), 0644); err != nil {
				return fail(fmt.Sprintf("failed to write %s: %v", p.File, err), "")
			}

		case types.PatchReplace:
			data, err := os.ReadFile(abs)
			if err != nil {
				if os.IsNotExist(err) {
					return fail(fmt.Sprintf("ENOENT: no such file or directory, open '%s'", p.File), types.DeterministicENOENT)
				}
				return fail(fmt.Sprintf("failed to read %s: %v", p.File, err), "")
			}
			content := string(data)
			if _, ok := oldContents[p.File]; !ok {
				oldContents[p.File] = content
			}

			var updated string
			if p.SearchBlock == "" {
				updated = p.ReplaceBlock
			} else {
				if !strings.Contains(content, p.SearchBlock) {
					return fail(fmt.Sprintf("search block not found in %s", p.File), types.DeterministicSearchBlockMissing)
				}
				updated = strings.Replace(content, p.SearchBlock, p.ReplaceBlock, 1)
			}
			if err := os.WriteFile(abs, []byte(updated), 0644); err != nil {
				return fail(fmt.Sprintf("failed to write %s: %v", p.File, err), "")
			}

		case types.PatchDelete:
			if _, err := os.Stat(abs); err != nil {
				if os.IsNotExist(err) {
					return fail(fmt.Sprintf("ENOENT: no such file or directory, unlink '%s'", p.File), types.DeterministicENOENT)
				}
				return fail(fmt.Sprintf("failed to stat %s: %v", p.File, err), "")
			}
			if _, ok := oldContents[p.File]; !ok {
				oldContents[p.File] = readIfExists(abs)
			}
			if err := os.Remove(abs); err != nil {
				return fail(fmt.Sprintf("failed to delete %s: %v", p.File, err), "")
			}

		default:
			return fail(fmt.Sprintf("Patch parsing failed. unknown action %q for %s", p.Action, p.File), types.DeterministicPatchParse)
		}

		touched[p.File] = struct{}{}
	}

	tx.Commit()

	files := make([]string, 0, len(touched))
	for f := range touched {
		files = append(files, f)
	}
	sort.Strings(files)

	// Post-apply read under the same lock for the artifact diff.
	var diff strings.Builder
	for _, f := range files {
		newContent := readIfExists(filepath.Join(w.root, f))
		diff.WriteString(UnifiedDiff(f, oldContents[f], newContent))
	}

	logging.VCS("Applied %d patches touching %d files", len(patches), len(files))
	return &ApplyResult{TouchedFiles: files, Diff: diff.String()}, nil
}

func readIfExists(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
