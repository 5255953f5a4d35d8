package architect

import (
	"encoding/json"
	"regexp"
	"strings"

	"mcoda/internal/types"
)

// Response format types carried on the plan response for the phase artifact.
const (
	FormatDSL       = "dsl"
	FormatJSON      = "json"
	FormatPlaintext = "plaintext"
)

var (
	reCodeFence    = regexp.MustCompile("(?s)```[a-zA-Z]*\n(.*?)```")
	reAgentRequest = regexp.MustCompile(`(?m)^\s*AGENT_REQUEST:\s*(\{.*\})\s*$`)
	reSectionHead  = regexp.MustCompile(`(?m)^(PLAN|TARGETS|RISK|VERIFY):`)
)

// jsonPlan is the fallback shape some models emit instead of the DSL.
type jsonPlan struct {
	Steps          []string `json:"steps"`
	TargetFiles    []string `json:"target_files"`
	RiskAssessment string   `json:"risk_assessment"`
	Verification   []string `json:"verification"`
}

// parseResponse turns raw architect output into a PlanResponse. The DSL form
// is tried first, then a JSON fallback, then the output is declared
// unstructured plaintext. Wrapper fences, leading prose and duplicate
// sections are repaired rather than rejected, with architect_output_repaired
// recording that the text needed surgery.
func parseResponse(raw string) *types.PlanResponse {
	resp := &types.PlanResponse{RawOutput: raw}

	if m := reAgentRequest.FindStringSubmatch(raw); m != nil {
		var req types.AgentRequest
		if err := json.Unmarshal([]byte(m[1]), &req); err == nil && len(req.Needs) > 0 {
			if req.Role == "" {
				req.Role = "architect"
			}
			resp.Request = &req
			resp.ResponseFormatType = FormatDSL
			return resp
		}
	}

	text, repaired := repairWrapper(raw)

	if plan, ok := parseDSL(text); ok {
		if repaired {
			plan.Warnings = append(plan.Warnings, "architect_output_repaired")
		}
		annotateQuality(plan)
		resp.Plan = plan
		resp.ResponseFormatType = FormatDSL
		return resp
	}

	if plan, ok := parseJSONFallback(text); ok {
		plan.Warnings = append(plan.Warnings, "architect_output_used_json_fallback")
		if repaired {
			plan.Warnings = append(plan.Warnings, "architect_output_repaired")
		}
		annotateQuality(plan)
		resp.Plan = plan
		resp.ResponseFormatType = FormatJSON
		return resp
	}

	resp.Plan = &types.Plan{Warnings: []string{"architect_output_unstructured_plaintext"}}
	resp.ResponseFormatType = FormatPlaintext
	return resp
}

// repairWrapper strips markdown fences and prose before the first section
// header. Returns the cleaned text and whether anything was removed.
func repairWrapper(raw string) (string, bool) {
	text := raw
	repaired := false

	if m := reCodeFence.FindStringSubmatch(text); m != nil && reSectionHead.MatchString(m[1]) {
		text = m[1]
		repaired = true
	}

	if loc := reSectionHead.FindStringIndex(text); loc != nil && loc[0] > 0 {
		if strings.TrimSpace(text[:loc[0]]) != "" {
			repaired = true
		}
		text = text[loc[0]:]
	}

	return text, repaired
}

// parseDSL parses the PLAN:/TARGETS:/RISK:/VERIFY: sections. Duplicate
// sections merge in order of appearance.
func parseDSL(text string) (*types.Plan, bool) {
	if !reSectionHead.MatchString(text) {
		return nil, false
	}

	plan := &types.Plan{}
	section := ""
	duplicates := false
	seenSections := make(map[string]bool)

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if m := reSectionHead.FindStringSubmatch(trimmed); m != nil {
			if seenSections[m[1]] {
				duplicates = true
			}
			seenSections[m[1]] = true
			section = m[1]
			// RISK is an inline section: the value follows the colon.
			if section == "RISK" {
				plan.RiskAssessment = strings.TrimSpace(strings.TrimPrefix(trimmed, "RISK:"))
			}
			continue
		}
		item := strings.TrimSpace(strings.TrimPrefix(trimmed, "-"))
		if item == "" {
			continue
		}
		switch section {
		case "PLAN":
			plan.Steps = append(plan.Steps, item)
		case "TARGETS":
			plan.TargetFiles = append(plan.TargetFiles, cleanTarget(item))
		case "RISK":
			if plan.RiskAssessment == "" {
				plan.RiskAssessment = item
			}
		case "VERIFY":
			plan.Verification = append(plan.Verification, item)
		}
	}

	if len(plan.Steps) == 0 && len(plan.TargetFiles) == 0 {
		return nil, false
	}
	if duplicates {
		plan.Warnings = append(plan.Warnings, "architect_output_repaired")
	}
	return plan, true
}

func parseJSONFallback(text string) (*types.Plan, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	var jp jsonPlan
	if err := json.Unmarshal([]byte(text[start:end+1]), &jp); err != nil {
		return nil, false
	}
	if len(jp.Steps) == 0 && len(jp.TargetFiles) == 0 {
		return nil, false
	}
	plan := &types.Plan{
		Steps:          jp.Steps,
		RiskAssessment: jp.RiskAssessment,
		Verification:   jp.Verification,
	}
	for _, t := range jp.TargetFiles {
		plan.TargetFiles = append(plan.TargetFiles, cleanTarget(t))
	}
	return plan, true
}

func cleanTarget(target string) string {
	return strings.Trim(strings.TrimSpace(target), "`'\"")
}

// annotateQuality adds architect_plan_quality_warning when the plan is
// structurally present but weak: no steps, no targets, placeholder targets,
// or generic verification.
func annotateQuality(plan *types.Plan) {
	weak := len(plan.Steps) == 0 || len(plan.TargetFiles) == 0 || isGenericVerification(plan.Verification)
	for _, t := range plan.TargetFiles {
		if types.IsPlaceholderTarget(t) {
			weak = true
		}
	}
	if weak && !plan.HasWarning("architect_plan_quality_warning") {
		plan.Warnings = append(plan.Warnings, "architect_plan_quality_warning")
	}
}
