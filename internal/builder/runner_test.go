package builder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcoda/internal/types"
	"mcoda/internal/vcs"
)

type stubLLM struct {
	response string
	err      error
}

func (s *stubLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return s.response, s.err
}

func (s *stubLLM) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return s.response, s.err
}

func newTestRunner(t *testing.T, response string) (*Runner, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src/a.ts"), []byte("const x = 1;\n"), 0644))
	return New(&stubLLM{response: response}, vcs.NewWorktree(root), nil), root
}

func builderInput() types.BuilderInput {
	return types.BuilderInput{
		Plan: &types.Plan{
			Steps:       []string{"change x to 2"},
			TargetFiles: []string{"src/a.ts"},
		},
		Bundle: &types.ContextBundle{
			Request: "change x",
			Files:   []types.BundleFile{{Path: "src/a.ts", Role: types.FileRoleFocus, Content: "const x = 1;\n"}},
		},
	}
}

func TestRunAppliesPatches(t *testing.T) {
	r, root := newTestRunner(t, `{"patches":[{"action":"replace","file":"src/a.ts","search_block":"const x = 1;","replace_block":"const x = 2;"}]}`)

	result, err := r.Run(context.Background(), builderInput())
	require.NoError(t, err)

	assert.Equal(t, []string{"src/a.ts"}, result.TouchedFiles)
	assert.Contains(t, result.Diff, "+const x = 2;")
	data, _ := os.ReadFile(filepath.Join(root, "src/a.ts"))
	assert.Equal(t, "const x = 2;\n", string(data))
}

func TestRunNeedsContext(t *testing.T) {
	r, _ := newTestRunner(t, `NEEDS_CONTEXT: {"queries":["auth"],"files":["src/auth.ts"]}`)

	result, err := r.Run(context.Background(), builderInput())
	require.NoError(t, err)

	require.NotNil(t, result.ContextRequest)
	assert.Equal(t, []string{"auth"}, result.ContextRequest.Queries)
	assert.Equal(t, []string{"src/auth.ts"}, result.ContextRequest.Files)
	assert.Empty(t, result.Patches)
}

func TestRunFinalize(t *testing.T) {
	r, _ := newTestRunner(t, "The code already behaves as requested; no change needed.")

	result, err := r.Run(context.Background(), builderInput())
	require.NoError(t, err)

	assert.Empty(t, result.Patches)
	assert.Nil(t, result.ContextRequest)
	assert.Contains(t, result.FinalMessage.Content, "no change needed")
}

func TestRunPatchParseFailure(t *testing.T) {
	r, _ := newTestRunner(t, `here are the "patches" I would apply: nothing parseable`)

	_, err := r.Run(context.Background(), builderInput())
	require.Error(t, err)

	var pae *types.PatchApplyError
	require.True(t, errors.As(err, &pae))
	assert.Equal(t, types.DeterministicPatchParse, pae.DeterministicKind())
	assert.Contains(t, pae.Message, "initial=")
	assert.Contains(t, pae.Message, "retry=")
	assert.NotEmpty(t, pae.RawOutput)
}

func TestRunDisallowedFile(t *testing.T) {
	r, root := newTestRunner(t, `{"patches":[{"action":"create","file":"src/rogue.ts","replace_block":"evil"}]}`)

	_, err := r.Run(context.Background(), builderInput())
	require.Error(t, err)

	var pae *types.PatchApplyError
	require.True(t, errors.As(err, &pae))
	assert.Equal(t, types.DeterministicDisallowedFiles, pae.DeterministicKind())
	assert.Equal(t, pae.RawOutput, `{"patches":[{"action":"create","file":"src/rogue.ts","replace_block":"evil"}]}`)

	_, statErr := os.Stat(filepath.Join(root, "src/rogue.ts"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunFencedPatchesRetry(t *testing.T) {
	r, _ := newTestRunner(t, "Here you go:\n```json\n{\"patches\":[{\"action\":\"replace\",\"file\":\"src/a.ts\",\"search_block\":\"const x = 1;\",\"replace_block\":\"const x = 3;\"}]}\n```")

	result, err := r.Run(context.Background(), builderInput())
	require.NoError(t, err)
	assert.Equal(t, []string{"src/a.ts"}, result.TouchedFiles)
}

func TestEmptyPatchesArrayMessage(t *testing.T) {
	r, _ := newTestRunner(t, `{"patches":[]}`)

	_, err := r.Run(context.Background(), builderInput())
	require.Error(t, err)

	var pae *types.PatchApplyError
	require.True(t, errors.As(err, &pae))
	assert.Contains(t, pae.Message, "empty patches array")
	assert.Equal(t, types.DeterministicPatchParse, pae.DeterministicKind())
}
