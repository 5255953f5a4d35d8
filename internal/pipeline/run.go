package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"mcoda/internal/logging"
	"mcoda/internal/types"
)

// runState is the per-run mutable record. It lives on the stack of one Run
// call; the pipeline itself stays stateless across runs.
type runState struct {
	request string
	bundle  *types.ContextBundle
	merged  *types.ResearchOutput

	plan           *types.Plan
	unresolved     bool
	invalidTargets []string
	alignCritical  bool

	attempts  int
	refreshes int

	// single-shot recoveries; each may fire at most once per run
	hintConsumed    bool
	requestRecovered bool
	formatRetried   bool
	targetRetried   bool

	repairedKinds map[string]bool
	fallbackUsed  map[string]bool

	// failVerdict is set by the builder phase when an unreparable
	// deterministic apply failure closes the run with a FAIL verdict.
	failVerdict *types.CriticResult

	// genericFailure carries a non-provider, non-apply builder error; the
	// attempt loop consumes one attempt for it and retries.
	genericFailure string

	// context refresh accumulators fed back into reassembly
	extraQueries   []string
	preferredFiles []string
	forceFocus     []string

	// critic/review feedback carried into the next builder attempt
	feedback      []string
	criticReasons []string
}

// Run executes one request through the full phase sequence and returns the
// terminal result. A returned error means the run could not reach a terminal
// verdict (gate failure, provider exhaustion, investigation failure,
// cancellation); a FAIL verdict is a result, not an error. That includes the
// fail-closed verdict after an unreparable deterministic apply failure.
func (p *SmartPipeline) Run(ctx context.Context, request string) (*types.RunResult, error) {
	st := &runState{
		request:       request,
		repairedKinds: map[string]bool{},
		fallbackUsed:  map[string]bool{},
	}

	if err := p.assembleContext(ctx, st); err != nil {
		p.cfg.Metrics.ObserveRun("error")
		return nil, err
	}

	if p.cfg.DeepMode {
		if err := p.runResearch(ctx, st); err != nil {
			p.cfg.Metrics.ObserveRun("error")
			return nil, err
		}
	}

	fastPath := p.cfg.FastPath != nil && p.cfg.FastPath(request)
	if fastPath && p.cfg.DeepMode {
		p.emit(types.EventFastPathOverridden, PhaseArchitect, "", map[string]interface{}{
			"reason": "deep_mode",
		})
		fastPath = false
	}
	if fastPath {
		p.synthesizeFastPathPlan(st)
	}

	var lastVerdict *types.CriticResult
	for st.attempts < p.cfg.MaxRetries {
		st.attempts++
		if st.attempts > 1 {
			p.cfg.Metrics.ObserveRetry()
		}

		if st.plan == nil {
			if err := p.runArchitect(ctx, st, ""); err != nil {
				p.cfg.Metrics.ObserveRun("error")
				return nil, err
			}
		}
		if err := p.checkQualityGate(st); err != nil {
			p.cfg.Metrics.ObserveRun("error")
			return nil, err
		}

		builderRes, err := p.runBuilderPhase(ctx, st)
		if err != nil {
			p.cfg.Metrics.ObserveRun("error")
			return nil, err
		}
		if st.failVerdict != nil {
			verdict := st.failVerdict
			p.writeback(ctx, st, 0, strings.Join(verdict.Reasons, "; "))
			p.cfg.Metrics.ObserveRun("fail")
			return p.result(st, verdict), nil
		}
		if st.genericFailure != "" {
			st.criticReasons = append(st.criticReasons, st.genericFailure)
			logging.PipelineWarn("Attempt %d/%d failed with a generic builder error: %s",
				st.attempts, p.cfg.MaxRetries, st.genericFailure)
			st.genericFailure = ""
			continue
		}

		retry, err := p.reviewBuilderOutput(ctx, st, builderRes)
		if err != nil {
			p.cfg.Metrics.ObserveRun("error")
			return nil, err
		}
		if retry {
			continue
		}

		verdict, err := p.runCriticPhase(ctx, st, builderRes)
		if err != nil {
			p.cfg.Metrics.ObserveRun("error")
			return nil, err
		}
		lastVerdict = verdict

		if verdict.Status == types.CriticPass {
			p.writeback(ctx, st, 0, "")
			p.cfg.Metrics.ObserveRun("pass")
			return p.result(st, verdict), nil
		}
		if !verdict.Retryable {
			p.writeback(ctx, st, 0, strings.Join(verdict.Reasons, "; "))
			p.cfg.Metrics.ObserveRun("fail")
			return p.result(st, verdict), nil
		}

		st.criticReasons = append(st.criticReasons, verdict.Reasons...)
		st.feedback = append(st.feedback, verdict.Reasons...)
		logging.Pipeline("Attempt %d/%d failed retryably: %s",
			st.attempts, p.cfg.MaxRetries, strings.Join(verdict.Reasons, "; "))
	}

	lesson := strings.Join(st.criticReasons, "; ")
	if lesson == "" {
		lesson = strings.Join(st.feedback, "; ")
	}
	if lastVerdict == nil {
		// attempts burned without a critic verdict (generic builder
		// failures, review retries); the run still ends as a FAIL result
		reasons := st.criticReasons
		if len(reasons) == 0 {
			reasons = st.feedback
		}
		lastVerdict = &types.CriticResult{Status: types.CriticFail, Reasons: reasons}
	}
	p.writeback(ctx, st, st.attempts, lesson)
	p.cfg.Metrics.ObserveRun("fail")
	return p.result(st, lastVerdict), nil
}

func (p *SmartPipeline) result(st *runState, verdict *types.CriticResult) *types.RunResult {
	return &types.RunResult{
		Plan:         st.plan,
		CriticResult: verdict,
		Attempts:     st.attempts,
		Context:      st.bundle,
		Research:     st.merged,
	}
}

// assembleContext runs the librarian phase. Refresh accumulators on the run
// state flow into the assemble options, so a reassembly after a builder
// needs_context carries the requested queries and forced focus files.
func (p *SmartPipeline) assembleContext(ctx context.Context, st *runState) error {
	lane := p.lane(ctx, "librarian", 0)
	opts := types.AssembleOptions{
		AdditionalQueries: st.extraQueries,
		PreferredFiles:    st.preferredFiles,
		ForceFocusFiles:   st.forceFocus,
		DeepMode:          p.cfg.DeepMode,
		LaneID:            lane,
	}

	started := p.phaseStart(PhaseLibrarian, lane, map[string]interface{}{
		"request": st.request,
		"options": opts,
	})
	cctx, cancel := withTimeout(ctx, p.cfg.PhaseTimeouts.Librarian)
	bundle, err := p.assembler.Assemble(cctx, st.request, opts)
	cancel()
	p.phaseEnd(PhaseLibrarian, lane, started, bundle, err)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return p.wrapPhaseTimeout("librarian", err)
	}

	st.bundle = bundle
	if len(bundle.Warnings) > 0 {
		logging.Pipeline("Context assembled with %d warnings", len(bundle.Warnings))
	}
	return nil
}

// writeback persists the post-run record. A clean pass with no detected
// preferences has nothing worth remembering.
func (p *SmartPipeline) writeback(ctx context.Context, st *runState, failures int, lesson string) {
	if p.memory == nil {
		return
	}
	var prefs []string
	if st.bundle != nil {
		prefs = st.bundle.PreferencesDetected
	}
	if failures == 0 && lesson == "" && len(prefs) == 0 {
		return
	}

	rec := types.WritebackRecord{
		RunID:       p.cfg.LaneScope.RunID,
		JobID:       p.cfg.LaneScope.JobID,
		TaskID:      p.cfg.LaneScope.TaskID,
		Failures:    failures,
		MaxRetries:  p.cfg.MaxRetries,
		Lesson:      lesson,
		Preferences: prefs,
		CreatedAtMS: time.Now().UnixMilli(),
	}
	if err := p.memory.Persist(ctx, rec); err != nil {
		logging.PipelineWarn("Memory writeback failed: %v", err)
	}
}

// lane materializes the role lane (when a lane manager is wired) and returns
// its composite id. First attempts use the bare "<job>:<task>:<role>" id;
// only retries carry the attempt suffix.
func (p *SmartPipeline) lane(ctx context.Context, role string, attempt int) string {
	if attempt == 1 {
		attempt = 0
	}
	key := types.LaneKey{
		JobID:   p.cfg.LaneScope.JobID,
		TaskID:  p.cfg.LaneScope.TaskID,
		RunID:   p.cfg.LaneScope.RunID,
		Role:    role,
		Attempt: attempt,
	}
	if p.cfg.ContextManager != nil {
		if _, err := p.cfg.ContextManager.GetLane(ctx, key); err != nil {
			logging.PipelineWarn("Lane materialization failed for %s: %v", key.LaneID(), err)
		}
	}
	return key.LaneID()
}

// grantFallback consults the provider-failure hook for err. It returns true
// when the host switched providers, which grants exactly one retry of the
// failed call; at most one switch is honored per phase per run.
func (p *SmartPipeline) grantFallback(st *runState, phase string, err error) bool {
	var pe *types.ProviderError
	tagged := errors.As(err, &pe)
	if !tagged && !types.IsProviderFailureText(err.Error()) {
		return false
	}
	if st.fallbackUsed[phase] || p.cfg.OnPhaseProviderFailure == nil {
		return false
	}

	decision := p.cfg.OnPhaseProviderFailure(types.PhaseFailure{Phase: phase, Err: err})
	if !decision.Switched {
		return false
	}
	st.fallbackUsed[phase] = true
	p.cfg.Metrics.ObserveFallback(phase)

	reason := "provider_failure_text"
	if tagged {
		reason = pe.Class
	}
	p.emit(types.EventPhaseProviderFallback, phase, "", map[string]interface{}{
		"reason": reason,
		"note":   decision.Note,
	})
	return true
}

// wrapPhaseTimeout converts a phase-deadline expiry into a provider-class
// error so the fallback policy can see it. Run-level cancellation is never
// rewrapped; callers check ctx.Err() first.
func (p *SmartPipeline) wrapPhaseTimeout(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &types.ProviderError{Provider: provider, Class: types.ProviderClassTimeout, Err: err}
	}
	return err
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
