// Package critic adapts an LLM into the evaluation phase: it renders the
// plan and the builder's output into a judgement prompt and parses the
// PASS/FAIL verdict, its retryability, and any AGENT_REQUEST for more
// evidence.
package critic

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"mcoda/internal/logging"
	"mcoda/internal/types"
)

var reAgentRequest = regexp.MustCompile(`(?m)^\s*AGENT_REQUEST:\s*(\{.*\})\s*$`)

// Evaluator implements types.CriticEvaluator.
type Evaluator struct {
	llm   types.LLMClient
	lanes types.LaneManager
}

// New creates an evaluator. lanes may be nil.
func New(llm types.LLMClient, lanes types.LaneManager) *Evaluator {
	return &Evaluator{llm: llm, lanes: lanes}
}

// Evaluate judges one builder attempt.
func (e *Evaluator) Evaluate(ctx context.Context, in types.CriticInput) (*types.CriticResult, error) {
	timer := logging.StartTimer(logging.CategoryCritic, "Evaluate")
	defer timer.Stop()

	prompt := buildPrompt(in)
	e.appendLane(ctx, in.LaneID, "user", prompt)

	raw, err := e.llm.CompleteWithSystem(ctx, criticSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("critic agent call failed: %w", err)
	}
	e.appendLane(ctx, in.LaneID, "assistant", raw)

	result := parseVerdict(raw)
	logging.Critic("Verdict: %s retryable=%v (%d reasons)", result.Status, result.Retryable, len(result.Reasons))
	return result, nil
}

const maxCriticDiffBytes = 16000

func buildPrompt(in types.CriticInput) string {
	var b strings.Builder

	b.WriteString("PLAN STEPS:\n")
	for _, s := range in.Plan.Steps {
		b.WriteString("- " + s + "\n")
	}
	if len(in.Plan.Verification) > 0 {
		b.WriteString("\nVERIFICATION EXPECTED:\n")
		for _, v := range in.Plan.Verification {
			b.WriteString("- " + v + "\n")
		}
	}

	b.WriteString("\nTOUCHED FILES:\n")
	for _, f := range in.TouchedFiles {
		b.WriteString("- " + f + "\n")
	}

	if in.Builder != nil {
		if in.Builder.Diff != "" {
			diff := in.Builder.Diff
			if len(diff) > maxCriticDiffBytes {
				diff = diff[:maxCriticDiffBytes]
			}
			b.WriteString("\nAPPLIED DIFF:\n")
			b.WriteString(diff)
			b.WriteString("\n")
		} else if in.Builder.FinalMessage.Content != "" {
			b.WriteString("\nBUILDER MESSAGE:\n")
			b.WriteString(in.Builder.FinalMessage.Content)
			b.WriteString("\n")
		}
	}

	return b.String()
}

// parseVerdict reads the VERDICT/RETRYABLE/REASONS sections. Output that
// carries no recognizable verdict degrades to a retryable FAIL so a garbled
// critic response never masquerades as approval.
func parseVerdict(raw string) *types.CriticResult {
	if m := reAgentRequest.FindStringSubmatch(raw); m != nil {
		var req types.AgentRequest
		if err := json.Unmarshal([]byte(m[1]), &req); err == nil && len(req.Needs) > 0 {
			if req.Role == "" {
				req.Role = "critic"
			}
			return &types.CriticResult{Status: types.CriticFail, Retryable: true, Request: &req}
		}
	}

	result := &types.CriticResult{}
	section := ""

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		upper := strings.ToUpper(trimmed)
		switch {
		case strings.HasPrefix(upper, "VERDICT:"):
			val := strings.ToUpper(trimmed[len("VERDICT:"):])
			if strings.Contains(val, types.CriticPass) {
				result.Status = types.CriticPass
			} else if strings.Contains(val, types.CriticFail) {
				result.Status = types.CriticFail
			}
			section = ""
		case strings.HasPrefix(upper, "RETRYABLE:"):
			val := strings.ToLower(strings.TrimSpace(trimmed[len("RETRYABLE:"):]))
			result.Retryable = strings.HasPrefix(val, "true") || strings.HasPrefix(val, "yes")
			section = ""
		case strings.HasPrefix(upper, "REASONS:"):
			section = "reasons"
		default:
			if section == "reasons" {
				item := strings.TrimSpace(strings.TrimPrefix(trimmed, "-"))
				if item != "" {
					result.Reasons = append(result.Reasons, item)
				}
			}
		}
	}

	if result.Status == "" {
		result.Status = types.CriticFail
		result.Retryable = true
		result.Reasons = append(result.Reasons, "critic output had no recognizable verdict")
	}
	return result
}

func (e *Evaluator) appendLane(ctx context.Context, laneID, role, content string) {
	if e.lanes == nil || laneID == "" {
		return
	}
	if err := e.lanes.Append(ctx, laneID, types.Message{Role: role, Content: content}); err != nil {
		logging.CriticDebug("Lane append failed for %s: %v", laneID, err)
	}
}
