package librarian

import (
	"context"
	"fmt"
	"time"

	"mcoda/internal/docdex"
	"mcoda/internal/logging"
	"mcoda/internal/types"
)

// FulfillAgentRequest services an AGENT_REQUEST raised by the architect or
// critic. Each need is dispatched against the index in order; unsupported
// tools produce a failed result entry rather than an error, so a partially
// serviceable request still returns everything it can.
func (a *Assembler) FulfillAgentRequest(ctx context.Context, req *types.AgentRequest) (*types.AgentRequestResult, error) {
	if req == nil {
		return nil, fmt.Errorf("nil agent request")
	}

	timer := logging.StartTimer(logging.CategoryLibrarian, "FulfillAgentRequest")
	defer timer.Stop()

	result := &types.AgentRequestResult{
		Version:   "v1",
		RequestID: req.RequestID,
		Meta: map[string]interface{}{
			"role":         req.Role,
			"fulfilled_at": time.Now().UTC().Format(time.RFC3339),
			"need_count":   len(req.Needs),
		},
	}

	for _, need := range req.Needs {
		result.Results = append(result.Results, a.fulfillNeed(ctx, need))
	}

	a.mu.Lock()
	a.lastRequestID = req.RequestID
	a.mu.Unlock()

	logging.Librarian("Fulfilled agent request %s (%d needs)", req.RequestID, len(req.Needs))
	return result, nil
}

// LastRequestID returns the id of the most recently fulfilled agent request.
func (a *Assembler) LastRequestID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastRequestID
}

func (a *Assembler) fulfillNeed(ctx context.Context, need types.AgentNeed) types.AgentNeedResult {
	fail := func(err error) types.AgentNeedResult {
		return types.AgentNeedResult{Tool: need.Tool, OK: false, Error: err.Error()}
	}
	ok := func(payload interface{}) types.AgentNeedResult {
		return types.AgentNeedResult{Tool: need.Tool, OK: true, Payload: payload}
	}

	switch need.Tool {
	case "docdex.search":
		hits, err := a.dex.Search(ctx, need.Query, docdex.SearchOptions{Limit: searchHitLimit})
		if err != nil {
			return fail(err)
		}
		return ok(hits)

	case "docdex.open", "docdex.snippet":
		snip, err := a.dex.OpenSnippet(ctx, need.Path, docdex.SnippetOptions{Query: need.Query})
		if err != nil {
			return fail(err)
		}
		return ok(snip)

	case "docdex.symbols":
		rec, err := a.dex.Symbols(ctx, need.Path)
		if err != nil {
			return fail(err)
		}
		return ok(rec)

	case "docdex.ast":
		rec, err := a.dex.AST(ctx, need.Path)
		if err != nil {
			return fail(err)
		}
		return ok(rec)

	case "docdex.impact":
		res, err := a.dex.ImpactGraph(ctx, need.Path)
		if err != nil {
			return fail(err)
		}
		return ok(res)

	case "docdex.tree":
		tree, err := a.dex.Tree(ctx, docdex.TreeOptions{Path: ".", MaxDepth: 64, IncludeHidden: true})
		if err != nil {
			return fail(err)
		}
		return ok(tree)

	case "docdex.memory":
		facts, err := a.dex.MemoryRecall(ctx, need.Query, maxMemoryRecall)
		if err != nil {
			return fail(err)
		}
		return ok(facts)

	default:
		return fail(fmt.Errorf("unsupported tool %q", need.Tool))
	}
}
