// Package builder adapts an LLM into the code-writing phase. The runner
// renders the plan and context into a builder prompt, classifies the agent's
// response (patches, needs-context, or finalize) and applies patches through
// the worktree with the plan's targets as the allowed file set.
package builder

import (
	"context"
	"fmt"
	"strings"

	"mcoda/internal/logging"
	"mcoda/internal/types"
	"mcoda/internal/vcs"
)

// Runner implements types.BuilderRunner.
type Runner struct {
	llm      types.LLMClient
	worktree *vcs.Worktree
	lanes    types.LaneManager
}

// New creates a runner. lanes may be nil.
func New(llm types.LLMClient, worktree *vcs.Worktree, lanes types.LaneManager) *Runner {
	return &Runner{llm: llm, worktree: worktree, lanes: lanes}
}

// Run executes one builder attempt. Patch apply failures surface as
// *types.PatchApplyError so the pipeline can classify and repair them.
func (r *Runner) Run(ctx context.Context, in types.BuilderInput) (*types.BuilderResult, error) {
	timer := logging.StartTimer(logging.CategoryBuilder, "Run")
	defer timer.Stop()

	prompt := r.buildPrompt(in)
	r.appendLane(ctx, in.LaneID, "user", prompt)

	raw, err := r.llm.CompleteWithSystem(ctx, builderSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("builder agent call failed: %w", err)
	}
	r.appendLane(ctx, in.LaneID, "assistant", raw)

	parsed, perr := parseOutput(raw)
	if perr != nil {
		logging.BuilderError("Patch parsing failed: %s", perr.Message)
		return nil, perr
	}

	switch {
	case parsed.ContextRequest != nil:
		logging.Builder("Builder needs context: %d queries, %d files",
			len(parsed.ContextRequest.Queries), len(parsed.ContextRequest.Files))
		return &types.BuilderResult{
			FinalMessage:   types.Message{Role: "assistant", Content: raw},
			ContextRequest: parsed.ContextRequest,
		}, nil

	case len(parsed.Patches) > 0:
		applied, err := r.worktree.Apply(parsed.Patches, in.Plan.TargetFiles)
		if err != nil {
			if pae, ok := err.(*types.PatchApplyError); ok {
				pae.RawOutput = raw
				return nil, pae
			}
			return nil, err
		}
		logging.Builder("Applied %d patches, touched %d files", len(parsed.Patches), len(applied.TouchedFiles))
		return &types.BuilderResult{
			FinalMessage: types.Message{Role: "assistant", Content: raw},
			Patches:      parsed.Patches,
			TouchedFiles: applied.TouchedFiles,
			Diff:         applied.Diff,
		}, nil

	default:
		logging.Builder("Builder finalized without patches")
		return &types.BuilderResult{
			FinalMessage: types.Message{Role: "assistant", Content: raw},
		}, nil
	}
}

const maxBuilderFileBytes = 24000

func (r *Runner) buildPrompt(in types.BuilderInput) string {
	var b strings.Builder

	b.WriteString("REQUEST:\n")
	b.WriteString(in.Bundle.Request)
	b.WriteString("\n\nPLAN:\n")
	for _, s := range in.Plan.Steps {
		b.WriteString("- " + s + "\n")
	}
	b.WriteString("\nTARGET FILES (the only files you may touch):\n")
	for _, t := range in.Plan.TargetFiles {
		b.WriteString("- " + t + "\n")
	}
	if len(in.Plan.Verification) > 0 {
		b.WriteString("\nVERIFICATION EXPECTED:\n")
		for _, v := range in.Plan.Verification {
			b.WriteString("- " + v + "\n")
		}
	}

	b.WriteString("\n")
	for _, f := range in.Bundle.Files {
		content := f.Content
		if len(content) > maxBuilderFileBytes {
			content = content[:maxBuilderFileBytes]
		}
		fmt.Fprintf(&b, "=== %s (%s) ===\n%s\n\n", f.Path, f.Role, content)
	}

	return b.String()
}

func (r *Runner) appendLane(ctx context.Context, laneID, role, content string) {
	if r.lanes == nil || laneID == "" {
		return
	}
	if err := r.lanes.Append(ctx, laneID, types.Message{Role: role, Content: content}); err != nil {
		logging.BuilderWarn("Lane append failed for %s: %v", laneID, err)
	}
}
