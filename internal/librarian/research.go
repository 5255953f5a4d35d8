package librarian

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"mcoda/internal/docdex"
	"mcoda/internal/logging"
	"mcoda/internal/types"
)

// RunResearchTools executes one deep-mode investigation cycle against the
// index, recording every invocation as a ToolRun. Tools whose output is
// already cached on the bundle (tree, dag_export) are recorded as skipped
// rather than re-run.
func (a *Assembler) RunResearchTools(ctx context.Context, request string, bundle *types.ContextBundle) (*types.ResearchOutput, error) {
	timer := logging.StartTimer(logging.CategoryResearch, "RunResearchTools")
	defer timer.Stop()

	out := &types.ResearchOutput{}
	var mu sync.Mutex

	record := func(run types.ToolRun) {
		mu.Lock()
		out.ToolRuns = append(out.ToolRuns, run)
		mu.Unlock()
	}
	addWarning := func(tag string) {
		mu.Lock()
		out.Warnings = append(out.Warnings, tag)
		mu.Unlock()
	}

	queries := topQueries(bundle.Queries, 3)
	if len(queries) == 0 {
		queries = []string{request}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupParallelism)

	for _, q := range queries {
		q := q
		g.Go(func() error {
			hits, err := a.dex.Search(gctx, q, docdex.SearchOptions{Limit: searchHitLimit})
			if err != nil {
				record(types.ToolRun{Tool: types.ToolSearch, OK: false, Error: err.Error()})
				addWarning("research_docdex_search_failed")
				return nil
			}
			record(types.ToolRun{Tool: types.ToolSearch, OK: true})
			mu.Lock()
			out.Outputs.SearchResults = append(out.Outputs.SearchResults, types.QueryResult{Query: q, Hits: hits})
			mu.Unlock()
			return nil
		})
	}

	for _, path := range bundle.Selection.Focus {
		path := path

		g.Go(func() error {
			snip, err := a.dex.OpenSnippet(gctx, path, docdex.SnippetOptions{Query: request})
			if err != nil {
				record(types.ToolRun{Tool: types.ToolSnippet, OK: false, Error: err.Error()})
				addWarning("research_docdex_open_failed")
				return nil
			}
			record(types.ToolRun{Tool: types.ToolSnippet, OK: true})
			if snip != nil {
				mu.Lock()
				out.Outputs.Snippets = append(out.Outputs.Snippets, *snip)
				mu.Unlock()
			}
			return nil
		})

		if structuralApplicable(path) {
			g.Go(func() error {
				rec, err := a.dex.Symbols(gctx, path)
				if err != nil {
					record(types.ToolRun{Tool: types.ToolSymbols, OK: false, Error: err.Error()})
					addWarning("research_docdex_symbols_failed")
					return nil
				}
				record(types.ToolRun{Tool: types.ToolSymbols, OK: true})
				if rec != nil {
					mu.Lock()
					out.Outputs.Symbols = append(out.Outputs.Symbols, *rec)
					mu.Unlock()
				}
				return nil
			})
			g.Go(func() error {
				rec, err := a.dex.AST(gctx, path)
				if err != nil {
					record(types.ToolRun{Tool: types.ToolAST, OK: false, Error: err.Error()})
					addWarning("research_docdex_ast_failed")
					return nil
				}
				record(types.ToolRun{Tool: types.ToolAST, OK: true})
				if rec != nil {
					mu.Lock()
					out.Outputs.AST = append(out.Outputs.AST, *rec)
					mu.Unlock()
				}
				return nil
			})
		} else {
			record(types.ToolRun{Tool: types.ToolSymbols, OK: false, Skipped: true, Notes: "not_applicable"})
			record(types.ToolRun{Tool: types.ToolAST, OK: false, Skipped: true, Notes: "not_applicable"})
		}

		if impactApplicable(path) {
			g.Go(func() error {
				res, err := a.dex.ImpactGraph(gctx, path)
				if err != nil {
					record(types.ToolRun{Tool: types.ToolImpact, OK: false, Error: err.Error()})
					addWarning("research_docdex_impact_failed")
					return nil
				}
				record(types.ToolRun{Tool: types.ToolImpact, OK: true})
				if res != nil {
					mu.Lock()
					out.Outputs.Impact = append(out.Outputs.Impact, res.Record)
					if len(res.Diagnostics.Notes) > 0 {
						out.Outputs.ImpactDiagnostics = append(out.Outputs.ImpactDiagnostics, res.Diagnostics)
					}
					mu.Unlock()
				}
				return nil
			})
		}
	}

	_ = g.Wait()

	// Tree: skipped when the assembly already cached the repo map.
	if bundle.RepoMap != "" {
		record(types.ToolRun{Tool: types.ToolTree, OK: true, Skipped: true, Notes: "repo_map_cached"})
		out.Outputs.RepoMap = bundle.RepoMap
	} else {
		tree, err := a.dex.Tree(ctx, docdex.TreeOptions{Path: ".", MaxDepth: 64, IncludeHidden: true})
		if err != nil {
			record(types.ToolRun{Tool: types.ToolTree, OK: false, Error: err.Error()})
			addWarning("research_docdex_tree_failed")
		} else {
			record(types.ToolRun{Tool: types.ToolTree, OK: true})
			out.Outputs.RepoMap = tree.Rendered
		}
	}

	// DAG export: cached across cycles on the assembler.
	a.mu.Lock()
	cachedDAG := a.dagSummary
	a.mu.Unlock()
	if cachedDAG != "" {
		record(types.ToolRun{Tool: types.ToolDAGExport, OK: true, Skipped: true, Notes: "dag_summary_cached"})
		out.Outputs.DAGSummary = cachedDAG
	} else {
		dag, err := a.dex.DAGExport(ctx)
		if err != nil {
			record(types.ToolRun{Tool: types.ToolDAGExport, OK: false, Error: err.Error()})
			addWarning("research_docdex_dag_failed")
		} else {
			record(types.ToolRun{Tool: types.ToolDAGExport, OK: true})
			out.Outputs.DAGSummary = dag.Summary
			a.mu.Lock()
			a.dagSummary = dag.Summary
			a.mu.Unlock()
		}
	}

	logging.Research("Research cycle: %d tool runs, %d warnings", len(out.ToolRuns), len(out.Warnings))
	return out, nil
}
