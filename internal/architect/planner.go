// Package architect adapts an LLM into the planning phase: it renders the
// context bundle into a planning prompt, parses the DSL (or JSON fallback)
// response into a Plan, validates caller-proposed plan hints, and optionally
// reviews applied builder output.
package architect

import (
	"context"
	"fmt"
	"strings"

	"mcoda/internal/logging"
	"mcoda/internal/types"
)

// Planner implements types.ArchitectPlanner and types.BuilderOutputReviewer.
type Planner struct {
	llm   types.LLMClient
	lanes types.LaneManager
}

// New creates a planner over the given LLM client. lanes may be nil.
func New(llm types.LLMClient, lanes types.LaneManager) *Planner {
	return &Planner{llm: llm, lanes: lanes}
}

// Plan is the bare planning call with default options.
func (p *Planner) Plan(ctx context.Context, bundle *types.ContextBundle) (*types.Plan, error) {
	resp, err := p.PlanWithRequest(ctx, bundle, types.PlanOptions{})
	if err != nil {
		return nil, err
	}
	if resp.Plan == nil {
		return nil, fmt.Errorf("architect returned an agent request instead of a plan")
	}
	return resp.Plan, nil
}

// PlanWithRequest runs one architect pass. With ValidateOnly and a PlanHint,
// the hint is checked against the bundle without any agent call; a failing
// hint returns *types.PlanHintValidationError so the caller can fall back to
// full planning.
func (p *Planner) PlanWithRequest(ctx context.Context, bundle *types.ContextBundle, opts types.PlanOptions) (*types.PlanResponse, error) {
	timer := logging.StartTimer(logging.CategoryArchitect, "PlanWithRequest")
	defer timer.Stop()

	if opts.ValidateOnly && opts.PlanHint != nil {
		if err := validateHint(opts.PlanHint, bundle); err != nil {
			return nil, err
		}
		logging.Architect("Plan hint validated: %d steps, %d targets", len(opts.PlanHint.Steps), len(opts.PlanHint.TargetFiles))
		return &types.PlanResponse{Plan: opts.PlanHint, ResponseFormatType: "hint"}, nil
	}

	prompt := p.buildPrompt(bundle, opts)
	p.appendLane(ctx, opts.LaneID, "user", prompt)

	raw, err := p.llm.CompleteWithSystem(ctx, planningSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("architect agent call failed: %w", err)
	}
	p.appendLane(ctx, opts.LaneID, "assistant", raw)

	resp := parseResponse(raw)
	if resp.Request != nil {
		logging.Architect("Architect raised agent request %s (%d needs)", resp.Request.RequestID, len(resp.Request.Needs))
	} else if resp.Plan != nil {
		logging.Architect("Architect plan: %d steps, %d targets, %d warnings",
			len(resp.Plan.Steps), len(resp.Plan.TargetFiles), len(resp.Plan.Warnings))
	}
	return resp, nil
}

func validateHint(hint *types.Plan, bundle *types.ContextBundle) error {
	if len(hint.Steps) == 0 {
		return &types.PlanHintValidationError{Reason: "hint has no steps", Hint: hint}
	}
	if len(hint.TargetFiles) == 0 {
		return &types.PlanHintValidationError{Reason: "hint has no target files", Hint: hint}
	}
	for _, t := range hint.TargetFiles {
		if types.IsPlaceholderTarget(t) {
			return &types.PlanHintValidationError{Reason: "hint targets placeholder path " + t, Hint: hint}
		}
		if !bundle.HasFile(t) && !bundle.InRepoMap(t) {
			return &types.PlanHintValidationError{Reason: "hint target not in context: " + t, Hint: hint}
		}
	}
	return nil
}

const maxPromptFileBytes = 12000

func (p *Planner) buildPrompt(bundle *types.ContextBundle, opts types.PlanOptions) string {
	var b strings.Builder

	if opts.InstructionHint != "" {
		b.WriteString("INSTRUCTION: ")
		b.WriteString(opts.InstructionHint)
		b.WriteString("\n\n")
	}
	if opts.ResponseFormat != "" {
		b.WriteString("RESPONSE FORMAT: ")
		b.WriteString(opts.ResponseFormat)
		b.WriteString("\n\n")
	}

	b.WriteString("REQUEST:\n")
	b.WriteString(bundle.Request)
	b.WriteString("\n\n")

	if bundle.RequestDigest.Summary != "" {
		fmt.Fprintf(&b, "DIGEST (%s confidence): %s\n\n", bundle.RequestDigest.Confidence, bundle.RequestDigest.Summary)
	}

	if len(bundle.Selection.Focus) > 0 {
		b.WriteString("FOCUS FILES:\n")
		for _, f := range bundle.Selection.Focus {
			b.WriteString("- " + f + "\n")
		}
		b.WriteString("\n")
	}
	if len(bundle.Selection.Periphery) > 0 {
		b.WriteString("PERIPHERY FILES:\n")
		for _, f := range bundle.Selection.Periphery {
			b.WriteString("- " + f + "\n")
		}
		b.WriteString("\n")
	}

	for _, f := range bundle.Files {
		if f.Role != types.FileRoleFocus {
			continue
		}
		content := f.Content
		if len(content) > maxPromptFileBytes {
			content = content[:maxPromptFileBytes]
		}
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", f.Path, content)
	}

	for _, s := range bundle.Symbols {
		if len(s.Symbols) == 0 {
			continue
		}
		var names []string
		for _, sym := range s.Symbols {
			names = append(names, sym.Name)
		}
		fmt.Fprintf(&b, "SYMBOLS %s: %s\n", s.Path, strings.Join(names, ", "))
	}

	if len(bundle.Memory) > 0 {
		b.WriteString("\nMEMORY:\n")
		for _, m := range bundle.Memory {
			b.WriteString("- " + m.Fact + "\n")
		}
	}
	if bundle.RepoMap != "" {
		b.WriteString("\nREPO MAP:\n")
		repoMap := bundle.RepoMap
		if len(repoMap) > maxPromptFileBytes {
			repoMap = repoMap[:maxPromptFileBytes]
		}
		b.WriteString(repoMap)
		b.WriteString("\n")
	}

	return b.String()
}

func (p *Planner) appendLane(ctx context.Context, laneID, role, content string) {
	if p.lanes == nil || laneID == "" {
		return
	}
	if err := p.lanes.Append(ctx, laneID, types.Message{Role: role, Content: content}); err != nil {
		logging.ArchitectWarn("Lane append failed for %s: %v", laneID, err)
	}
}
