package pipeline

import (
	"context"
	"encoding/json"

	"mcoda/internal/logging"
	"mcoda/internal/types"
)

// runCriticPhase obtains a verdict on one builder attempt. An AGENT_REQUEST
// from the critic is fulfilled and re-evaluated within the run's refresh
// budget; an exhausted budget degrades to a retryable FAIL.
func (p *SmartPipeline) runCriticPhase(ctx context.Context, st *runState, builderRes *types.BuilderResult) (*types.CriticResult, error) {
	lane := p.lane(ctx, "critic", st.attempts)

	for {
		started := p.phaseStart(PhaseCritic, lane, map[string]interface{}{
			"attempt":       st.attempts,
			"touched_files": builderRes.TouchedFiles,
		})
		cctx, cancel := withTimeout(ctx, p.cfg.PhaseTimeouts.Critic)
		verdict, err := p.critic.Evaluate(cctx, types.CriticInput{
			Plan:         st.plan,
			Builder:      builderRes,
			TouchedFiles: builderRes.TouchedFiles,
			LaneID:       lane,
		})
		cancel()
		p.phaseEnd(PhaseCritic, lane, started, verdict, err)

		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			err = p.wrapPhaseTimeout("critic", err)
			if p.grantFallback(st, PhaseCritic, err) {
				continue
			}
			return nil, err
		}

		if verdict.Request == nil {
			return verdict, nil
		}

		if st.refreshes >= p.cfg.MaxContextRefreshes {
			return &types.CriticResult{
				Status:    types.CriticFail,
				Retryable: true,
				Reasons:   []string{"critic requested more context after the refresh budget was exhausted"},
			}, nil
		}
		st.refreshes++
		p.cfg.Metrics.ObserveRefresh()

		fulfillment, ferr := p.assembler.FulfillAgentRequest(ctx, verdict.Request)
		if ferr != nil {
			logging.CriticDebug("Agent request %s fulfillment failed: %v", verdict.Request.RequestID, ferr)
			return &types.CriticResult{
				Status:    types.CriticFail,
				Retryable: true,
				Reasons:   []string{"critic evidence request could not be fulfilled: " + ferr.Error()},
			}, nil
		}

		// the fulfillment rides the critic lane so the re-evaluation sees it
		if p.cfg.ContextManager != nil {
			if b, merr := json.Marshal(fulfillment); merr == nil {
				if aerr := p.cfg.ContextManager.Append(ctx, lane, types.Message{
					Role:    "user",
					Content: "AGENT_REQUEST fulfillment:\n" + string(b),
				}); aerr != nil {
					logging.CriticDebug("Lane append failed for %s: %v", lane, aerr)
				}
			}
		}
	}
}
