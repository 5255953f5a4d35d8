package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mcoda/internal/logging"
	"mcoda/internal/types"
)

// runBuilderPhase drives the builder until it yields a result for the critic.
// Context refreshes and deterministic repairs loop here without consuming
// attempts; provider failures consult the fallback hook once per run. A nil
// result with nil error means the outcome rides the run state instead: a
// fail-closed verdict or a generic failure the attempt loop must absorb.
func (p *SmartPipeline) runBuilderPhase(ctx context.Context, st *runState) (*types.BuilderResult, error) {
	for {
		lane := p.lane(ctx, "builder", st.attempts)
		plan := p.planForBuilder(st)

		started := p.phaseStart(PhaseBuilder, lane, map[string]interface{}{
			"plan":     plan,
			"attempt":  st.attempts,
			"feedback": st.feedback,
		})
		cctx, cancel := withTimeout(ctx, p.cfg.PhaseTimeouts.Builder)
		res, err := p.builder.Run(cctx, types.BuilderInput{
			Plan:   plan,
			Bundle: st.bundle,
			LaneID: lane,
		})
		cancel()
		p.phaseEnd(PhaseBuilder, lane, started, res, err)

		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			var pae *types.PatchApplyError
			if errors.As(err, &pae) {
				retry, ferr := p.handleApplyFailure(ctx, st, pae)
				if ferr != nil {
					return nil, ferr
				}
				if retry {
					continue
				}
				if st.failVerdict != nil {
					return nil, nil
				}
				return nil, pae
			}
			err = p.wrapPhaseTimeout("builder", err)
			if p.grantFallback(st, PhaseBuilder, err) {
				continue
			}
			var pe *types.ProviderError
			if errors.As(err, &pe) || types.IsProviderFailureText(err.Error()) {
				return nil, err
			}
			// generic agent failure; the attempt loop consumes one attempt
			st.genericFailure = err.Error()
			return nil, nil
		}

		if res.ContextRequest != nil {
			refreshed, rerr := p.refreshForBuilder(ctx, st, res.ContextRequest)
			if rerr != nil {
				return nil, rerr
			}
			if refreshed {
				continue
			}
			// refresh budget exhausted; the critic judges what we have
			logging.BuilderWarn("Context refresh budget exhausted; forwarding builder output to critic")
			return res, nil
		}

		return res, nil
	}
}

// planForBuilder returns the plan for this builder attempt. Accumulated
// review and critic feedback rides along as extra steps so a retry knows
// what the previous attempt got wrong.
func (p *SmartPipeline) planForBuilder(st *runState) *types.Plan {
	if len(st.feedback) == 0 {
		return st.plan
	}
	augmented := *st.plan
	augmented.Steps = append(append([]string{}, st.plan.Steps...),
		"Address the review feedback from the previous attempt: "+strings.Join(st.feedback, "; "))
	return &augmented
}

// handleApplyFailure resolves a structured patch apply failure. Each
// deterministic kind earns one architect repair per run; a repeat of the
// same kind either switches providers (per policy) or closes the run with a
// FAIL verdict on st.failVerdict. Non-deterministic apply failures are
// environment problems and terminate with the error.
func (p *SmartPipeline) handleApplyFailure(ctx context.Context, st *runState, pae *types.PatchApplyError) (bool, error) {
	kind := pae.DeterministicKind()
	p.cfg.Metrics.ObserveApplyFailure(kind)
	if kind == "" {
		return false, nil
	}

	if !st.repairedKinds[kind] {
		st.repairedKinds[kind] = true
		p.emit(types.EventBuilderApplyFailedDeterministic, PhaseBuilder, "", map[string]interface{}{
			"kind":   kind,
			"source": pae.Source,
			"action": "architect_repair",
		})

		hint := fmt.Sprintf(
			"A previous patch failed deterministically (%s): %s. "+
				"Re-plan with corrected targets and steps that avoid this failure. Do not restart from scratch.",
			kind, pae.Message)
		if err := p.runArchitect(ctx, st, hint); err != nil {
			return false, err
		}
		if err := p.checkQualityGate(st); err != nil {
			return false, err
		}
		return true, nil
	}

	// same kind twice in one run
	if !st.fallbackUsed[PhaseBuilder] && p.cfg.OnPhaseProviderFailure != nil {
		decision := p.cfg.OnPhaseProviderFailure(types.PhaseFailure{Phase: PhaseBuilder, Err: pae})
		if decision.Switched {
			st.fallbackUsed[PhaseBuilder] = true
			p.cfg.Metrics.ObserveFallback(PhaseBuilder)
			p.emit(types.EventPhaseProviderFallback, PhaseBuilder, "", map[string]interface{}{
				"reason": "deterministic_" + kind,
				"note":   decision.Note,
			})
			return true, nil
		}
	}

	p.emit(types.EventBuilderApplyFailedDeterministicNoRepair, PhaseBuilder, "", map[string]interface{}{
		"kind":   kind,
		"action": "fail_closed",
	})
	st.failVerdict = &types.CriticResult{
		Status: types.CriticFail,
		Reasons: []string{fmt.Sprintf(
			"builder apply failed twice with deterministic kind %s: %s", kind, pae.Message)},
	}
	return false, nil
}

// refreshForBuilder services a needs_context signal: reassemble with the
// requested queries and files forced into focus, then re-plan against the
// fresh bundle. Bounded by the refresh budget; never consumes an attempt.
func (p *SmartPipeline) refreshForBuilder(ctx context.Context, st *runState, req *types.ContextRequest) (bool, error) {
	if st.refreshes >= p.cfg.MaxContextRefreshes {
		return false, nil
	}
	st.refreshes++
	p.cfg.Metrics.ObserveRefresh()

	st.extraQueries = append(st.extraQueries, req.Queries...)
	st.preferredFiles = append(st.preferredFiles, req.Files...)
	st.forceFocus = req.Files

	if err := p.assembleContext(ctx, st); err != nil {
		return false, err
	}

	wanted := append(append([]string{}, req.Queries...), req.Files...)
	hint := "builder_needs_context: the builder requested additional context (" +
		strings.Join(wanted, ", ") +
		"). Refine the plan against the refreshed context. Do not restart from scratch."
	if err := p.runArchitect(ctx, st, hint); err != nil {
		return false, err
	}
	if err := p.checkQualityGate(st); err != nil {
		return false, err
	}
	return true, nil
}
