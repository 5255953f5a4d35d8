package vcs

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcoda/internal/types"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, rel))
	require.NoError(t, err)
	return string(data)
}

func TestApplyCreateReplaceDelete(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/app.ts", "const a = 1;\nconst b = 2;\n")
	writeFile(t, root, "src/old.ts", "obsolete\n")
	w := NewWorktree(root)

	result, err := w.Apply([]types.Patch{
		{Action: types.PatchCreate, File: "src/new.ts", ReplaceBlock: "export const fresh = true;\n"},
		{Action: types.PatchReplace, File: "src/app.ts", SearchBlock: "const b = 2;", ReplaceBlock: "const b = 3;"},
		{Action: types.PatchDelete, File: "src/old.ts"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"src/app.ts", "src/new.ts", "src/old.ts"}, result.TouchedFiles)
	assert.Equal(t, "export const fresh = true;\n", readFile(t, root, "src/new.ts"))
	assert.Contains(t, readFile(t, root, "src/app.ts"), "const b = 3;")
	_, statErr := os.Stat(filepath.Join(root, "src/old.ts"))
	assert.True(t, os.IsNotExist(statErr))
	assert.Contains(t, result.Diff, "+const b = 3;")
	assert.Contains(t, result.Diff, "-const b = 2;")
}

func TestSearchBlockMissingErrorText(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/app.ts", "hello\n")
	w := NewWorktree(root)

	_, err := w.Apply([]types.Patch{
		{Action: types.PatchReplace, File: "src/app.ts", SearchBlock: "not present", ReplaceBlock: "x"},
	}, nil)
	require.Error(t, err)

	var pae *types.PatchApplyError
	require.True(t, errors.As(err, &pae))
	assert.Contains(t, pae.Message, "search block not found")
	assert.Equal(t, types.DeterministicSearchBlockMissing, pae.DeterministicKind())
	assert.True(t, pae.Rollback.Attempted)
	assert.True(t, pae.Rollback.OK)
}

func TestENOENTErrorText(t *testing.T) {
	root := t.TempDir()
	w := NewWorktree(root)

	_, err := w.Apply([]types.Patch{
		{Action: types.PatchReplace, File: "missing.go", SearchBlock: "a", ReplaceBlock: "b"},
	}, nil)
	var pae *types.PatchApplyError
	require.True(t, errors.As(err, &pae))
	assert.Contains(t, pae.Message, "ENOENT")
	assert.Equal(t, types.DeterministicENOENT, pae.DeterministicKind())
}

func TestDisallowedFilesRejectedBeforeMutation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/app.ts", "safe\n")
	w := NewWorktree(root)

	_, err := w.Apply([]types.Patch{
		{Action: types.PatchReplace, File: "src/app.ts", SearchBlock: "safe", ReplaceBlock: "changed"},
		{Action: types.PatchCreate, File: "etc/rogue.ts", ReplaceBlock: "nope"},
	}, []string{"src/app.ts"})
	var pae *types.PatchApplyError
	require.True(t, errors.As(err, &pae))
	assert.Equal(t, types.DeterministicDisallowedFiles, pae.DeterministicKind())

	// Nothing was mutated.
	assert.Equal(t, "safe\n", readFile(t, root, "src/app.ts"))
}

func TestRollbackRestoresBytes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "original a\n")
	w := NewWorktree(root)

	// Second patch fails after the first succeeded; the first must roll back.
	_, err := w.Apply([]types.Patch{
		{Action: types.PatchReplace, File: "a.txt", SearchBlock: "original a", ReplaceBlock: "mutated a"},
		{Action: types.PatchReplace, File: "a.txt", SearchBlock: "never there", ReplaceBlock: "x"},
	}, nil)
	require.Error(t, err)

	assert.Equal(t, "original a\n", readFile(t, root, "a.txt"))
}

func TestRollbackRemovesCreatedFiles(t *testing.T) {
	root := t.TempDir()
	w := NewWorktree(root)

	_, err := w.Apply([]types.Patch{
		{Action: types.PatchCreate, File: "fresh.txt", ReplaceBlock: "new\n"},
		{Action: types.PatchDelete, File: "ghost.txt"},
	}, nil)
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(root, "fresh.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestEmptyPatchesIsParseKind(t *testing.T) {
	w := NewWorktree(t.TempDir())
	_, err := w.Apply(nil, nil)
	var pae *types.PatchApplyError
	require.True(t, errors.As(err, &pae))
	assert.Equal(t, types.DeterministicPatchParse, pae.DeterministicKind())
	assert.Contains(t, pae.Message, "empty patches array")
}

func TestLockSerializesApplies(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "counter.txt", "0")
	w := NewWorktree(root)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Whole-file replace: each apply reads then writes under the lock.
			data, _ := os.ReadFile(filepath.Join(root, "counter.txt"))
			w.Apply([]types.Patch{
				{Action: types.PatchReplace, File: "counter.txt", ReplaceBlock: string(data) + "x"},
			}, nil)
		}()
	}
	wg.Wait()

	// No torn writes: file contains only the expected alphabet.
	content := readFile(t, root, "counter.txt")
	for _, r := range content {
		assert.Contains(t, "0x", string(r))
	}
}
