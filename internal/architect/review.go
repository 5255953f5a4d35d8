package architect

import (
	"context"
	"fmt"
	"strings"

	"mcoda/internal/logging"
	"mcoda/internal/types"
)

// ReviewBuilderOutput asks the architect to judge the builder's applied
// patches against the plan. This is the optional capability the pipeline
// feature-detects; callers that construct a Planner always get it.
func (p *Planner) ReviewBuilderOutput(ctx context.Context, in types.ReviewInput) (*types.ReviewResult, error) {
	timer := logging.StartTimer(logging.CategoryArchitect, "ReviewBuilderOutput")
	defer timer.Stop()

	prompt := buildReviewPrompt(in)
	p.appendLane(ctx, in.LaneID, "user", prompt)

	raw, err := p.llm.CompleteWithSystem(ctx, reviewSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("architect review call failed: %w", err)
	}
	p.appendLane(ctx, in.LaneID, "assistant", raw)

	result := parseReview(raw)
	logging.Architect("Builder output review: %s (%d reasons, %d feedback)",
		result.Status, len(result.Reasons), len(result.Feedback))
	return result, nil
}

func buildReviewPrompt(in types.ReviewInput) string {
	var b strings.Builder

	b.WriteString("PLAN STEPS:\n")
	for _, s := range in.Plan.Steps {
		b.WriteString("- " + s + "\n")
	}
	b.WriteString("\nPLAN TARGETS:\n")
	for _, t := range in.Plan.TargetFiles {
		b.WriteString("- " + t + "\n")
	}

	b.WriteString("\nTOUCHED FILES:\n")
	for _, f := range in.TouchedFiles {
		b.WriteString("- " + f + "\n")
	}

	if in.Builder != nil && in.Builder.Diff != "" {
		b.WriteString("\nAPPLIED DIFF:\n")
		diff := in.Builder.Diff
		if len(diff) > maxPromptFileBytes {
			diff = diff[:maxPromptFileBytes]
		}
		b.WriteString(diff)
		b.WriteString("\n")
	} else if in.Builder != nil && in.Builder.FinalMessage.Content != "" {
		b.WriteString("\nBUILDER MESSAGE:\n")
		b.WriteString(in.Builder.FinalMessage.Content)
		b.WriteString("\n")
	}

	return b.String()
}

// parseReview reads the STATUS/REASONS/FEEDBACK sections. Malformed output
// degrades to a non-actionable RETRY with the missing-section warnings the
// pipeline recognizes.
func parseReview(raw string) *types.ReviewResult {
	result := &types.ReviewResult{}
	section := ""

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		upper := strings.ToUpper(trimmed)
		switch {
		case strings.HasPrefix(upper, "STATUS:"):
			val := strings.ToUpper(strings.TrimSpace(trimmed[len("STATUS:"):]))
			if strings.Contains(val, types.ReviewPass) {
				result.Status = types.ReviewPass
			} else if strings.Contains(val, types.ReviewRetry) {
				result.Status = types.ReviewRetry
			}
			section = ""
		case strings.HasPrefix(upper, "REASONS:"):
			section = "reasons"
		case strings.HasPrefix(upper, "FEEDBACK:"):
			section = "feedback"
		case strings.HasPrefix(upper, "WARNINGS:"):
			section = "warnings"
		default:
			item := strings.TrimSpace(strings.TrimPrefix(trimmed, "-"))
			if item == "" {
				continue
			}
			switch section {
			case "reasons":
				result.Reasons = append(result.Reasons, item)
			case "feedback":
				result.Feedback = append(result.Feedback, item)
			case "warnings":
				result.Warnings = append(result.Warnings, item)
			}
		}
	}

	if result.Status == "" {
		result.Status = types.ReviewRetry
		result.Warnings = append(result.Warnings, "architect_review_missing_status")
	}
	if result.Status == types.ReviewRetry && !result.Actionable() {
		if len(result.Warnings) == 0 {
			result.Warnings = append(result.Warnings, "architect_review_missing_reasons")
		}
	}
	return result
}
