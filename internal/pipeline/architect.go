package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"mcoda/internal/architect"
	"mcoda/internal/logging"
	"mcoda/internal/types"
)

// maxArchitectPasses bounds the planning loop per invocation. Recovery
// retries (agent request, strict format, invalid targets) each consume a
// pass; a loop that runs out of passes fails the quality gate.
const maxArchitectPasses = 3

var reEndpointRequest = regexp.MustCompile(`(?i)/api/|\bendpoints?\b|\broutes?\b`)

// runArchitect produces st.plan from the current bundle, or leaves it nil
// with the failure mode recorded for the quality gate. instructionHint
// carries repair or refresh context from the caller.
func (p *SmartPipeline) runArchitect(ctx context.Context, st *runState, instructionHint string) error {
	lane := p.lane(ctx, "architect", st.attempts)
	st.plan = nil
	st.unresolved = false
	st.invalidTargets = nil
	st.alignCritical = false

	if p.cfg.PlanHint != nil && !st.hintConsumed {
		st.hintConsumed = true
		done, err := p.tryPlanHint(ctx, st, lane)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}

	hint := instructionHint
	source := "llm"
	passes := 0

	for pass := 1; pass <= maxArchitectPasses; pass++ {
		started := p.phaseStart(PhaseArchitect, lane, map[string]interface{}{
			"pass":             pass,
			"instruction_hint": hint,
			"source":           source,
		})
		cctx, cancel := withTimeout(ctx, p.cfg.PhaseTimeouts.Architect)
		resp, err := p.planner.PlanWithRequest(cctx, st.bundle, types.PlanOptions{
			InstructionHint: hint,
			LaneID:          lane,
		})
		cancel()
		p.phaseEnd(PhaseArchitect, lane, started, resp, err)

		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			err = p.wrapPhaseTimeout("architect", err)
			if p.grantFallback(st, PhaseArchitect, err) {
				pass--
				continue
			}
			return err
		}
		passes = pass

		if resp.Request != nil {
			if st.requestRecovered {
				st.unresolved = true
				p.cfg.Metrics.ObserveArchitectPasses(passes)
				return nil
			}
			st.requestRecovered = true
			hint = p.recoverAgentRequest(ctx, st, lane, resp.Request)
			source = "revision_retry"
			continue
		}

		plan := resp.Plan
		grounding, drift := assessTargets(st, plan)
		p.writePassArtifact(pass, source, resp, grounding, drift)

		if plan.HasWarning("architect_output_unstructured_plaintext") && !st.formatRetried {
			st.formatRetried = true
			p.emit(types.EventArchitectRetryStrategy, PhaseArchitect, lane, map[string]interface{}{
				"strategy": "strict_format_retry",
				"pass":     pass,
			})
			hint = "Your previous response ignored the required PLAN/TARGETS/RISK/VERIFY format. " +
				"Respond again using exactly that format. Do not restart from scratch."
			source = "strict_format_retry"
			continue
		}

		invalid := invalidTargetPaths(st.bundle, plan)
		if len(invalid) > 0 {
			if !st.targetRetried {
				st.targetRetried = true
				hint = "These target paths do not exist in the workspace: " +
					strings.Join(invalid, ", ") +
					". Replace them with real paths from the provided context. Do not restart from scratch."
				source = "invalid_target_retry"
				continue
			}
			if p.cfg.Logger != nil {
				p.cfg.Logger.WritePhaseArtifact(PhaseArchitect, "quality_gate_degrade", map[string]interface{}{
					"pass":            pass,
					"source":          "quality_gate_degrade",
					"invalid_targets": invalid,
				})
			}
			st.invalidTargets = invalid
			st.plan = plan
			p.cfg.Metrics.ObserveArchitectPasses(passes)
			return nil
		}

		if endpointBackendMissing(st.request, plan.TargetFiles) {
			p.emit(types.EventArchitectDegraded, PhaseArchitect, lane, map[string]interface{}{
				"reason": "relevance_endpoint_missing_backend",
			})
			plan.Warnings = append(plan.Warnings, "architect_degraded:relevance_endpoint_missing_backend")
		}

		st.alignCritical = alignmentCritical(st, plan, drift)
		st.plan = finalizePlan(plan)
		p.cfg.Metrics.ObserveArchitectPasses(passes)
		return nil
	}

	// passes exhausted without a settled plan
	p.cfg.Metrics.ObserveArchitectPasses(passes)
	return nil
}

// tryPlanHint validates the caller's plan hint without an agent call. In deep
// mode hints are suppressed outright. A failing hint falls back to full
// planning; a valid hint becomes the plan with zero LLM calls.
func (p *SmartPipeline) tryPlanHint(ctx context.Context, st *runState, lane string) (bool, error) {
	if p.cfg.DeepMode {
		p.emit(types.EventPlanHintSuppressed, PhaseArchitect, lane, map[string]interface{}{
			"reason": "deep_mode",
		})
		return false, nil
	}

	resp, err := p.planner.PlanWithRequest(ctx, st.bundle, types.PlanOptions{
		PlanHint:     p.cfg.PlanHint,
		ValidateOnly: true,
		LaneID:       lane,
	})
	if err != nil {
		var hv *types.PlanHintValidationError
		reason := err.Error()
		if errors.As(err, &hv) {
			reason = hv.Reason
		}
		p.emit(types.EventArchitectPlanHintValidateFallback, PhaseArchitect, lane, map[string]interface{}{
			"reason": reason,
		})
		return false, nil
	}

	_, drift := assessTargets(st, resp.Plan)
	p.writePassArtifact(0, "plan_hint", resp, 1.0, drift)
	st.plan = finalizePlan(resp.Plan)
	return true, nil
}

// recoverAgentRequest fulfills the architect's evidence request and builds
// the revision hint for the next pass. The recovery fires at most once per
// run; a second request leaves the run unresolved for the quality gate.
func (p *SmartPipeline) recoverAgentRequest(ctx context.Context, st *runState, lane string, req *types.AgentRequest) string {
	p.emit(types.EventArchitectRevisionRequested, PhaseArchitect, lane, map[string]interface{}{
		"request_id": req.RequestID,
		"needs":      len(req.Needs),
	})

	payload := ""
	fulfillment, err := p.assembler.FulfillAgentRequest(ctx, req)
	if err != nil {
		logging.ArchitectWarn("Agent request %s fulfillment failed: %v", req.RequestID, err)
	} else if b, merr := json.Marshal(fulfillment); merr == nil {
		payload = string(b)
	}

	hint := "REVISION REQUIRED (architect_request_recovery): your previous pass asked for more evidence. " +
		"The fulfilled results are below. Revise the plan using them. Do not restart from scratch."
	if payload != "" {
		hint += "\n" + payload
	}
	return hint
}

// synthesizeFastPathPlan skips the architect for trivially-scoped requests.
// The synthetic plan targets the focus selection and records a pass-0
// artifact so the run's planning trail stays complete.
func (p *SmartPipeline) synthesizeFastPathPlan(st *runState) {
	targets := st.bundle.Selection.Focus
	if len(targets) == 0 {
		targets = st.bundle.Selection.All
	}
	plan := &types.Plan{
		Steps:        []string{"Apply the requested change directly: " + st.request},
		TargetFiles:  targets,
		Verification: architect.SynthesizeVerification(targets),
	}

	p.writePassArtifact(0, "fast_path", &types.PlanResponse{Plan: plan, RawOutput: ""}, 1.0, nil)
	st.plan = plan
	logging.Pipeline("Fast path: synthesized plan with %d targets", len(targets))
}

func (p *SmartPipeline) writePassArtifact(pass int, source string, resp *types.PlanResponse, grounding float64, drift []string) {
	if p.cfg.Logger == nil {
		return
	}
	p.cfg.Logger.WritePhaseArtifact(PhaseArchitect, fmt.Sprintf("pass-%d", pass), map[string]interface{}{
		"pass":                 pass,
		"source":               source,
		"raw_output":           resp.RawOutput,
		"normalized_output":    resp.Plan,
		"response_format_type": resp.ResponseFormatType,
		"structural_grounding": grounding,
		"target_drift":         drift,
	})
}

// checkQualityGate blocks the builder behind the architect's output. The
// gate emits its verdict either way and fails closed with a stable message.
func (p *SmartPipeline) checkQualityGate(st *runState) error {
	reason := ""
	switch {
	case st.unresolved:
		reason = ReasonUnresolvedRequest
	case st.plan == nil:
		reason = ReasonBlockingWarnings
	case hasBlockingArchitectWarning(st.plan):
		reason = ReasonBlockingWarnings
	case len(st.invalidTargets) > 0:
		reason = ReasonInvalidTargets
	case len(concreteTargets(st.plan)) == 0:
		reason = ReasonMissingTargets
	case st.alignCritical:
		reason = ReasonLowAlignment
	}

	data := map[string]interface{}{"ok": reason == ""}
	if reason != "" {
		data["reason"] = reason
	}
	p.emit(types.EventArchitectQualityGate, PhaseArchitect, "", data)

	if reason == "" {
		return nil
	}
	return &QualityGateError{Reason: reason}
}

// hasBlockingArchitectWarning reports a plan warning that must hold the
// builder: an explicit quality flag, or output that stayed unstructured
// plaintext after the strict-format retry. Degradation markers
// (architect_degraded:*) are advisory and never block.
func hasBlockingArchitectWarning(plan *types.Plan) bool {
	return plan.HasWarning("architect_plan_quality_warning") ||
		plan.HasWarning("architect_output_unstructured_plaintext")
}

// finalizePlan swaps generic verification steps for synthesized concrete
// checks derived from the target set.
func finalizePlan(plan *types.Plan) *types.Plan {
	if !hasConcreteVerification(plan.Verification) {
		plan.Verification = architect.SynthesizeVerification(plan.TargetFiles)
	}
	return plan
}

func hasConcreteVerification(verification []string) bool {
	for _, v := range verification {
		if architect.ConcreteCheckPattern.MatchString(v) {
			return true
		}
	}
	return false
}

func concreteTargets(plan *types.Plan) []string {
	var out []string
	for _, t := range plan.TargetFiles {
		if !types.IsPlaceholderTarget(t) {
			out = append(out, t)
		}
	}
	return out
}

// invalidTargetPaths returns concrete targets that exist neither in the
// bundle nor the cached workspace tree. New-file targets under a directory
// the tree knows are allowed.
func invalidTargetPaths(bundle *types.ContextBundle, plan *types.Plan) []string {
	var invalid []string
	for _, t := range concreteTargets(plan) {
		if bundle.HasFile(t) || bundle.InRepoMap(t) {
			continue
		}
		if dir := parentDir(t); dir != "" && bundle.InRepoMap(dir) {
			continue
		}
		invalid = append(invalid, t)
	}
	return invalid
}

func parentDir(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return ""
	}
	return path[:idx]
}

// assessTargets scores the plan's targets against the assembled evidence:
// grounding is the fraction present in the bundle or tree, drift lists the
// targets with no lexical tie to the request.
func assessTargets(st *runState, plan *types.Plan) (float64, []string) {
	if plan == nil || len(plan.TargetFiles) == 0 {
		return 0, nil
	}
	tokens := salientTokens(st.request)
	grounded := 0
	var drift []string

	for _, t := range plan.TargetFiles {
		if st.bundle.HasFile(t) || st.bundle.InRepoMap(t) {
			grounded++
		}
		if !pathMatchesAny(t, tokens) && !inSelection(st.bundle, t) {
			drift = append(drift, t)
		}
	}
	return float64(grounded) / float64(len(plan.TargetFiles)), drift
}

// alignmentCritical fires when every target drifted: nothing the plan
// touches appears in the selection or shares a term with the request.
func alignmentCritical(st *runState, plan *types.Plan, drift []string) bool {
	if len(plan.TargetFiles) == 0 {
		return false
	}
	tokens := salientTokens(st.request)
	if len(tokens) < 2 {
		return false
	}
	return len(drift) == len(plan.TargetFiles)
}

func inSelection(bundle *types.ContextBundle, path string) bool {
	for _, f := range bundle.Selection.All {
		if f == path {
			return true
		}
	}
	return false
}

// endpointBackendMissing reports a request about API endpoints whose plan
// touches no server-side file.
func endpointBackendMissing(request string, targets []string) bool {
	if !reEndpointRequest.MatchString(request) {
		return false
	}
	for _, t := range targets {
		lower := strings.ToLower(t)
		for _, marker := range []string{"server", "api", "backend", "handler", "route", "controller"} {
			if strings.Contains(lower, marker) {
				return false
			}
		}
	}
	return len(targets) > 0
}
