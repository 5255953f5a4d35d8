package architect

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcoda/internal/types"
)

const dslOutput = `PLAN:
- Add a confirm dialog before the delete action
- Wire the dialog result into the submit handler
TARGETS:
- src/page.js
RISK: low, isolated to one handler
VERIFY:
- Run unit tests for src/page.js
- Manual browser check: click delete and confirm the dialog appears`

func TestParseDSL(t *testing.T) {
	resp := parseResponse(dslOutput)
	require.NotNil(t, resp.Plan)
	assert.Equal(t, FormatDSL, resp.ResponseFormatType)
	assert.Len(t, resp.Plan.Steps, 2)
	assert.Equal(t, []string{"src/page.js"}, resp.Plan.TargetFiles)
	assert.Equal(t, "low, isolated to one handler", resp.Plan.RiskAssessment)
	assert.Len(t, resp.Plan.Verification, 2)
	assert.Empty(t, resp.Plan.Warnings)
}

func TestParseJSONFallback(t *testing.T) {
	raw := `{"steps":["do the thing"],"target_files":["src/a.ts"],"risk_assessment":"low","verification":["Run unit tests for src/a.ts"]}`
	resp := parseResponse(raw)
	require.NotNil(t, resp.Plan)
	assert.Equal(t, FormatJSON, resp.ResponseFormatType)
	assert.True(t, resp.Plan.HasWarning("architect_output_used_json_fallback"))
	assert.Equal(t, []string{"src/a.ts"}, resp.Plan.TargetFiles)
}

func TestParseWrapperRepair(t *testing.T) {
	t.Run("code fence", func(t *testing.T) {
		resp := parseResponse("```\n" + dslOutput + "\n```")
		require.NotNil(t, resp.Plan)
		assert.True(t, resp.Plan.HasWarning("architect_output_repaired"))
		assert.Len(t, resp.Plan.Steps, 2)
	})

	t.Run("leading prose", func(t *testing.T) {
		resp := parseResponse("Sure! Here is my plan for the change:\n\n" + dslOutput)
		require.NotNil(t, resp.Plan)
		assert.True(t, resp.Plan.HasWarning("architect_output_repaired"))
		assert.Len(t, resp.Plan.Steps, 2)
	})

	t.Run("duplicate sections merge", func(t *testing.T) {
		resp := parseResponse(dslOutput + "\nPLAN:\n- A third step from the duplicate section")
		require.NotNil(t, resp.Plan)
		assert.True(t, resp.Plan.HasWarning("architect_output_repaired"))
		assert.Len(t, resp.Plan.Steps, 3)
	})
}

func TestParseUnstructuredPlaintext(t *testing.T) {
	resp := parseResponse("I think you should probably refactor the auth module somehow.")
	require.NotNil(t, resp.Plan)
	assert.Equal(t, FormatPlaintext, resp.ResponseFormatType)
	assert.True(t, resp.Plan.HasWarning("architect_output_unstructured_plaintext"))
}

func TestParseAgentRequest(t *testing.T) {
	raw := `AGENT_REQUEST: {"request_id":"req-1","needs":[{"tool":"docdex.search","query":"auth handler"}]}`
	resp := parseResponse(raw)
	require.NotNil(t, resp.Request)
	assert.Nil(t, resp.Plan)
	assert.Equal(t, "req-1", resp.Request.RequestID)
	assert.Equal(t, "architect", resp.Request.Role)
	assert.Equal(t, []string{"auth handler"}, resp.Request.Queries())
}

func TestPlaceholderTargetQualityWarning(t *testing.T) {
	raw := "PLAN:\n- do it\nTARGETS:\n- path/to/file.ts\nVERIFY:\n- Run unit tests for it"
	resp := parseResponse(raw)
	require.NotNil(t, resp.Plan)
	assert.True(t, resp.Plan.HasWarning("architect_plan_quality_warning"))
}

func TestVerificationSynthesis(t *testing.T) {
	checks := SynthesizeVerification([]string{"public/index.html", "src/server/routes.ts", "src/util.ts"})
	require.NotEmpty(t, checks)
	for _, c := range checks {
		assert.Regexp(t, ConcreteCheckPattern, c)
	}
}

func TestIsGenericVerification(t *testing.T) {
	assert.True(t, isGenericVerification(nil))
	assert.True(t, isGenericVerification([]string{"verify changes"}))
	assert.False(t, isGenericVerification([]string{"Run unit tests for src/a.ts"}))
	assert.False(t, isGenericVerification([]string{"Manual browser check: open the page"}))
}

// stubLLM satisfies types.LLMClient with canned responses.
type stubLLM struct {
	response string
	err      error
	calls    int
}

func (s *stubLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return s.CompleteWithSystem(ctx, "", prompt)
}

func (s *stubLLM) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	s.calls++
	return s.response, s.err
}

func bundleWithFile(path string) *types.ContextBundle {
	return &types.ContextBundle{
		Request: "change " + path,
		Files:   []types.BundleFile{{Path: path, Role: types.FileRoleFocus, Content: "x"}},
		Selection: types.Selection{
			Focus: []string{path},
			All:   []string{path},
		},
	}
}

func TestPlanHintValidation(t *testing.T) {
	llm := &stubLLM{response: dslOutput}
	p := New(llm, nil)
	bundle := bundleWithFile("src/page.js")

	t.Run("valid hint skips the agent", func(t *testing.T) {
		hint := &types.Plan{
			Steps:        []string{"edit the handler"},
			TargetFiles:  []string{"src/page.js"},
			Verification: []string{"Run unit tests for src/page.js"},
		}
		resp, err := p.PlanWithRequest(context.Background(), bundle, types.PlanOptions{
			PlanHint:     hint,
			ValidateOnly: true,
		})
		require.NoError(t, err)
		assert.Same(t, hint, resp.Plan)
		assert.Equal(t, 0, llm.calls)
	})

	t.Run("unresolvable target fails validation", func(t *testing.T) {
		hint := &types.Plan{
			Steps:       []string{"edit"},
			TargetFiles: []string{"src/ghost.js"},
		}
		_, err := p.PlanWithRequest(context.Background(), bundle, types.PlanOptions{
			PlanHint:     hint,
			ValidateOnly: true,
		})
		var hve *types.PlanHintValidationError
		require.True(t, errors.As(err, &hve))
	})

	t.Run("placeholder target fails validation", func(t *testing.T) {
		hint := &types.Plan{
			Steps:       []string{"edit"},
			TargetFiles: []string{"path/to/file.ts"},
		}
		_, err := p.PlanWithRequest(context.Background(), bundle, types.PlanOptions{
			PlanHint:     hint,
			ValidateOnly: true,
		})
		var hve *types.PlanHintValidationError
		require.True(t, errors.As(err, &hve))
	})
}

func TestPlannerParsesAgentResponse(t *testing.T) {
	llm := &stubLLM{response: dslOutput}
	p := New(llm, nil)

	resp, err := p.PlanWithRequest(context.Background(), bundleWithFile("src/page.js"), types.PlanOptions{})
	require.NoError(t, err)
	require.NotNil(t, resp.Plan)
	assert.Equal(t, 1, llm.calls)
	assert.Equal(t, dslOutput, resp.RawOutput)
}

func TestReviewParsing(t *testing.T) {
	t.Run("pass", func(t *testing.T) {
		r := parseReview("STATUS: PASS\nREASONS:\nFEEDBACK:\n")
		assert.Equal(t, types.ReviewPass, r.Status)
	})

	t.Run("actionable retry", func(t *testing.T) {
		r := parseReview("STATUS: RETRY\nREASONS:\n- missing null check\nFEEDBACK:\n- add a guard in src/a.ts")
		assert.Equal(t, types.ReviewRetry, r.Status)
		assert.True(t, r.Actionable())
	})

	t.Run("non-actionable retry carries missing warnings", func(t *testing.T) {
		r := parseReview("STATUS: RETRY\n")
		assert.Equal(t, types.ReviewRetry, r.Status)
		assert.False(t, r.Actionable())
		assert.Contains(t, r.Warnings, "architect_review_missing_reasons")
	})

	t.Run("garbage degrades to retry with warning", func(t *testing.T) {
		r := parseReview("looks fine to me")
		assert.Equal(t, types.ReviewRetry, r.Status)
		assert.Contains(t, r.Warnings, "architect_review_missing_status")
	})
}
