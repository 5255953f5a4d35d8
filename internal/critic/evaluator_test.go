package critic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcoda/internal/types"
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

func TestParseVerdict(t *testing.T) {
	t.Run("pass", func(t *testing.T) {
		r := parseVerdict("VERDICT: PASS\nRETRYABLE: false\nREASONS:\n")
		assert.Equal(t, types.CriticPass, r.Status)
		assert.Empty(t, r.Reasons)
	})

	t.Run("retryable fail", func(t *testing.T) {
		r := parseVerdict("VERDICT: FAIL\nRETRYABLE: true\nREASONS:\n- missing null check\n- no test added")
		assert.Equal(t, types.CriticFail, r.Status)
		assert.True(t, r.Retryable)
		assert.Equal(t, []string{"missing null check", "no test added"}, r.Reasons)
	})

	t.Run("non-retryable fail", func(t *testing.T) {
		r := parseVerdict("VERDICT: FAIL\nRETRYABLE: false\nREASONS:\n- the plan targets the wrong module")
		assert.Equal(t, types.CriticFail, r.Status)
		assert.False(t, r.Retryable)
	})

	t.Run("agent request", func(t *testing.T) {
		r := parseVerdict(`AGENT_REQUEST: {"request_id":"cr-7","needs":[{"tool":"docdex.open","path":"src/a.ts"}]}`)
		require.NotNil(t, r.Request)
		assert.Equal(t, "cr-7", r.Request.RequestID)
		assert.Equal(t, "critic", r.Request.Role)
		assert.Equal(t, types.CriticFail, r.Status)
		assert.True(t, r.Retryable)
	})

	t.Run("garbage degrades to retryable fail", func(t *testing.T) {
		r := parseVerdict("looks good to me!")
		assert.Equal(t, types.CriticFail, r.Status)
		assert.True(t, r.Retryable)
		assert.NotEmpty(t, r.Reasons)
	})
}

func TestEvaluateDrivesLLM(t *testing.T) {
	e := New(&stubLLM{response: "VERDICT: PASS\nRETRYABLE: false\nREASONS:\n"}, nil)

	result, err := e.Evaluate(context.Background(), types.CriticInput{
		Plan:         &types.Plan{Steps: []string{"change x"}, TargetFiles: []string{"src/a.ts"}},
		Builder:      &types.BuilderResult{Diff: "+const x = 2;"},
		TouchedFiles: []string{"src/a.ts"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.CriticPass, result.Status)
}
