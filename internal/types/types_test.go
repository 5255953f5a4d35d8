package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaneKeyLaneID(t *testing.T) {
	tests := []struct {
		name string
		key  LaneKey
		want string
	}{
		{"first attempt", LaneKey{JobID: "job-x", TaskID: "task-y", Role: "builder"}, "job-x:task-y:builder"},
		{"retry attempt", LaneKey{JobID: "job-x", TaskID: "task-y", Role: "builder", Attempt: 2}, "job-x:task-y:builder:attempt-2"},
		{"critic role", LaneKey{JobID: "j", TaskID: "t", Role: "critic"}, "j:t:critic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.LaneID())
		})
	}
}

func TestClassifyDeterministicKind(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			"enoent",
			"apply failed: ENOENT: no such file or directory, open 'src/missing.ts'",
			DeterministicENOENT,
		},
		{
			"search block",
			"Search block not found in src/app.ts",
			DeterministicSearchBlockMissing,
		},
		{
			"patch parse",
			"Patch parsing failed. initial=Patch output is not valid JSON; retry=Patch payload includes empty patches array",
			DeterministicPatchParse,
		},
		{
			"disallowed",
			"patch references disallowed file src/secret.ts",
			DeterministicDisallowedFiles,
		},
		{
			"mixed parse and disallowed prefers disallowed",
			"Patch parsing failed: entry not in plan targets",
			DeterministicDisallowedFiles,
		},
		{
			"non deterministic",
			"connection reset by peer",
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyDeterministicKind(tt.text))
		})
	}
}

func TestPatchApplyErrorKindFallback(t *testing.T) {
	tagged := &PatchApplyError{Source: ApplySourceInterpreterPrimary, Message: "whatever", Kind: DeterministicENOENT}
	assert.Equal(t, DeterministicENOENT, tagged.DeterministicKind())

	untagged := &PatchApplyError{Source: ApplySourceInterpreterRetry, Message: "search block not found in x"}
	assert.Equal(t, DeterministicSearchBlockMissing, untagged.DeterministicKind())
	assert.Equal(t, "search block not found in x", untagged.Error())
}

func TestIsProviderFailureText(t *testing.T) {
	assert.True(t, IsProviderFailureText("AUTH_ERROR: key rejected"))
	assert.True(t, IsProviderFailureText("status 429 too many requests"))
	assert.True(t, IsProviderFailureText("usage_limit_reached for org"))
	assert.True(t, IsProviderFailureText("upstream rate limit exceeded"))
	assert.False(t, IsProviderFailureText("search block not found"))
	assert.False(t, IsProviderFailureText("plain failure"))
}

func TestIsPlaceholderTarget(t *testing.T) {
	assert.True(t, IsPlaceholderTarget("path/to/file.ts"))
	assert.True(t, IsPlaceholderTarget(" path/to/file.ts "))
	assert.True(t, IsPlaceholderTarget("TBD"))
	assert.False(t, IsPlaceholderTarget("src/auth.ts"))
}

func TestAgentRequestAccessors(t *testing.T) {
	req := &AgentRequest{
		Role:      "architect",
		RequestID: "req-1",
		Needs: []AgentNeed{
			{Tool: "docdex.search", Query: "auth middleware"},
			{Tool: "docdex.open", Path: "src/auth.ts"},
			{Tool: "docdex.search", Query: "session store"},
		},
	}
	assert.Equal(t, []string{"auth middleware", "session store"}, req.Queries())
	assert.Equal(t, []string{"src/auth.ts"}, req.Files())
}

func TestBundleLookups(t *testing.T) {
	b := &ContextBundle{
		Files: []BundleFile{
			{Path: "src/a.ts", Role: FileRoleFocus},
			{Path: "src/b.ts", Role: FileRolePeriphery},
		},
		Warnings:   []string{"docdex_no_hits"},
		RepoMapRaw: "src/\n  a.ts\n  server/api.ts\n",
	}
	require.True(t, b.HasFile("src/a.ts"))
	require.False(t, b.HasFile("src/c.ts"))
	assert.True(t, b.HasWarning("docdex_no_hits"))
	assert.False(t, b.HasWarning("docdex_tree_failed"))
	assert.True(t, b.InRepoMap("server/api.ts"))
	assert.False(t, b.InRepoMap("nonexistent.go"))
}

func TestReviewResultActionable(t *testing.T) {
	assert.False(t, (&ReviewResult{Status: ReviewRetry}).Actionable())
	assert.True(t, (&ReviewResult{Status: ReviewRetry, Reasons: []string{"missing handler"}}).Actionable())
	assert.True(t, (&ReviewResult{Status: ReviewRetry, Feedback: []string{"add tests"}}).Actionable())
}
