// Package librarian assembles the evidence bundle a run plans against. It is
// the only package that talks to the docdex index: search, snippets, symbols,
// AST, impact, memory recall, profile, stats and the workspace tree all flow
// through here before the architect ever sees them.
package librarian

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"mcoda/internal/config"
	"mcoda/internal/docdex"
	"mcoda/internal/logging"
	"mcoda/internal/types"
)

const (
	lookupParallelism = 4
	searchHitLimit    = 8
	maxMemoryRecall   = 16
)

// Assembler implements types.ContextAssembler against a docdex client.
type Assembler struct {
	dex       docdex.Client
	cfg       config.LibrarianConfig
	memCfg    config.MemoryConfig
	workspace string

	// OnEvent, when set, receives assembler-level events (option clamps).
	OnEvent func(event string, data map[string]interface{})

	// Lanes, when set, hosts the ephemeral query-expansion lane.
	Lanes types.LaneManager

	mu            sync.Mutex
	lastRequestID string
	dagSummary    string
}

// New creates an assembler over the given index client and workspace root.
func New(dex docdex.Client, cfg *config.Config, workspace string) *Assembler {
	return &Assembler{
		dex:       dex,
		cfg:       cfg.Librarian,
		memCfg:    cfg.Memory,
		workspace: workspace,
	}
}

func (a *Assembler) emit(event string, data map[string]interface{}) {
	if a.OnEvent != nil {
		a.OnEvent(event, data)
	}
}

// Assemble produces a context bundle for the request. Index trouble degrades
// to warnings rather than failures; only the deep-mode health gate can make
// assembly itself fail.
func (a *Assembler) Assemble(ctx context.Context, request string, opts types.AssembleOptions) (*types.ContextBundle, error) {
	timer := logging.StartTimer(logging.CategoryLibrarian, "Assemble")
	defer timer.Stop()

	o := a.clampOptions(opts)

	bundle := &types.ContextBundle{Request: request}
	warn := func(tag string) {
		if !bundle.HasWarning(tag) {
			bundle.Warnings = append(bundle.Warnings, tag)
		}
	}

	if opts.DeepMode {
		if err := a.dex.HealthCheck(ctx); err != nil {
			return nil, fmt.Errorf("Deep investigation requires docdex health: %w", err)
		}
	}

	signals := extractQuerySignals(request)
	bundle.QuerySignals = signals
	intents := detectIntents(request)
	bundle.ProjectInfo = a.projectInfo()

	// Index freshness. A stats error yields only docdex_stats_failed; empty
	// stats yield the stale warning now and the empty warning later, once we
	// know whether snippet evidence suppresses it.
	statsEmpty := false
	if stats, err := a.dex.Stats(ctx); err != nil {
		warn("docdex_stats_failed")
	} else {
		bundle.Index = types.IndexInfo{LastUpdatedEpochMS: stats.LastUpdatedEpochMS, NumDocs: stats.NumDocs}
		if stats.NumDocs == 0 {
			statsEmpty = true
			warn("docdex_index_stale")
		}
	}
	if opts.DeepMode && statsEmpty {
		return nil, fmt.Errorf("deep investigation blocked: docdex_index_empty")
	}

	// Workspace tree, once per assembly. No partial-symbol fallback: a failed
	// tree call leaves the repo map empty.
	if a.cfg.IncludeRepoMap {
		tree, err := a.dex.Tree(ctx, docdex.TreeOptions{
			Path:          ".",
			MaxDepth:      64,
			IncludeHidden: true,
			ExtraExcludes: []string{"node_modules", ".git", "dist", "build", "vendor"},
		})
		if err != nil {
			warn("docdex_tree_failed")
			logging.DocdexWarn("Tree call failed: %v", err)
		} else {
			bundle.RepoMap = tree.Rendered
			bundle.RepoMapRaw = tree.Raw
		}
	}

	bundle.Queries = expandQueries(request, signals, o.AdditionalQueries, o.MaxQueries)
	a.recordQueryExpansion(ctx, opts.LaneID, bundle.Queries)

	preferred := o.PreferredFiles
	if o.SkipSearchWhenPreferred && len(preferred) > 0 {
		warn("docdex_search_skipped")
	} else {
		bundle.SearchResults = a.runSearches(ctx, bundle.Queries, false)
		if countHits(bundle.SearchResults) == 0 {
			retry := adaptiveRetryQueries(signals, intents, o.MaxQueries)
			retried := a.runSearches(ctx, retry, false)
			bundle.SearchResults = append(bundle.SearchResults, retried...)
			if countHits(bundle.SearchResults) == 0 {
				warn("docdex_no_hits")
			}
		}
		// Doc-dominant hits on a UI request get one source-biased retry; the
		// warning is only recorded when the retry actually finds source.
		if intents.UI && docDominant(bundle.SearchResults) {
			biased := a.runSearches(ctx, topQueries(bundle.Queries, 3), true)
			if countSourceHits(biased) > 0 {
				bundle.SearchResults = append(bundle.SearchResults, biased...)
				warn("docdex_ui_source_bias_retry")
			}
		}
	}

	intentCandidates := a.injectIntentCandidates(intents, warn)

	bundle.Selection = a.selectFiles(request, o, bundle.SearchResults, intentCandidates, intents, bundle, warn)

	a.loadFiles(bundle, o)
	a.gatherStructural(ctx, bundle, warn)

	if statsEmpty && len(bundle.Snippets) == 0 {
		warn("docdex_index_empty")
	}

	a.recallMemory(ctx, request, signals, bundle, warn)
	a.gatherProfile(ctx, bundle)

	bundle.RequestDigest = buildDigest(request, signals, bundle.Selection)

	a.enforceBudget(bundle, o, warn)

	if len(bundle.Selection.Focus) == 0 {
		bundle.Missing = append(bundle.Missing, "no_focus_files_selected")
		if len(bundle.Files) == 0 {
			bundle.Missing = append(bundle.Missing, "no_context_files_loaded")
		}
		bundle.Missing = append(bundle.Missing, "low_confidence_selection")
	} else if bundle.Selection.LowConfidence {
		bundle.Missing = append(bundle.Missing, "low_confidence_selection")
	}

	logging.Librarian("Assembled bundle: %d queries, %d files, %d warnings",
		len(bundle.Queries), len(bundle.Files), len(bundle.Warnings))
	return bundle, nil
}

// recordQueryExpansion writes the expanded queries into an ephemeral lane and
// immediately drops it. The lane exists so operators can inspect expansion
// while a run is live; it never persists.
func (a *Assembler) recordQueryExpansion(ctx context.Context, laneID string, queries []string) {
	if a.Lanes == nil || laneID == "" {
		return
	}
	_ = a.Lanes.Append(ctx, laneID, types.Message{
		Role:    "system",
		Content: "expanded queries: " + strings.Join(queries, " | "),
	})
	a.Lanes.DropEphemeral(laneID)
}

func (a *Assembler) runSearches(ctx context.Context, queries []string, sourceOnly bool) []types.QueryResult {
	var (
		mu      sync.Mutex
		results = make([]types.QueryResult, len(queries))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupParallelism)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			hits, err := a.dex.Search(gctx, q, docdex.SearchOptions{Limit: searchHitLimit, SourceOnly: sourceOnly})
			if err != nil {
				logging.DocdexWarn("Search %q failed: %v", q, err)
				return nil
			}
			mu.Lock()
			results[i] = types.QueryResult{Query: q, Hits: hits}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var out []types.QueryResult
	for _, r := range results {
		if r.Query != "" {
			out = append(out, r)
		}
	}
	return out
}

func countHits(results []types.QueryResult) int {
	n := 0
	for _, r := range results {
		n += len(r.Hits)
	}
	return n
}

func countSourceHits(results []types.QueryResult) int {
	n := 0
	for _, r := range results {
		for _, h := range r.Hits {
			if !isDocPath(h.Path) && !isMarkupPath(h.Path) {
				n++
			}
		}
	}
	return n
}

func docDominant(results []types.QueryResult) bool {
	total, docs := 0, 0
	for _, r := range results {
		for _, h := range r.Hits {
			total++
			if isDocPath(h.Path) {
				docs++
			}
		}
	}
	return total > 0 && docs*2 > total
}

func topQueries(queries []string, n int) []string {
	if len(queries) < n {
		return queries
	}
	return queries[:n]
}

// loadFiles reads the selected files from the workspace, honoring the
// per-role byte caps. Files missing on disk stay in the selection when the
// repo map can still resolve them; they just contribute no content.
func (a *Assembler) loadFiles(bundle *types.ContextBundle, o resolvedOptions) {
	load := func(path string, role types.FileRole, byteCap int) {
		abs := filepath.Join(a.workspace, path)
		data, err := os.ReadFile(abs)
		if err != nil {
			return
		}
		content := string(data)
		truncated := false
		strategy := ""
		if byteCap > 0 && len(content) > byteCap {
			content = content[:byteCap]
			truncated = true
			strategy = "head"
		}
		bundle.Files = append(bundle.Files, types.BundleFile{
			Path:          path,
			Role:          role,
			Content:       content,
			Size:          len(content),
			Truncated:     truncated,
			SliceStrategy: strategy,
			Origin:        "workspace",
		})
	}

	for _, p := range bundle.Selection.Focus {
		load(p, types.FileRoleFocus, a.cfg.FocusFileByteCap)
	}
	for _, p := range bundle.Selection.Periphery {
		load(p, types.FileRolePeriphery, a.cfg.PeripheryFileByteCap)
	}
}

// gatherStructural runs the per-path index lookups (snippet, symbols, ast,
// impact) for the focus files in parallel. Non-applicable paths are scoped
// out with not_applicable warnings instead of failure warnings; the impact
// graph is skipped entirely for docs and markup.
func (a *Assembler) gatherStructural(ctx context.Context, bundle *types.ContextBundle, warn func(string)) {
	var mu sync.Mutex
	addWarning := func(tag string) {
		mu.Lock()
		defer mu.Unlock()
		warn(tag)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupParallelism)

	for _, path := range bundle.Selection.Focus {
		path := path

		g.Go(func() error {
			snip, err := a.dex.OpenSnippet(gctx, path, docdex.SnippetOptions{Query: bundle.Request})
			if err != nil || snip == nil {
				return nil
			}
			mu.Lock()
			bundle.Snippets = append(bundle.Snippets, *snip)
			mu.Unlock()
			return nil
		})

		if structuralApplicable(path) {
			g.Go(func() error {
				rec, err := a.dex.Symbols(gctx, path)
				if err != nil {
					addWarning("docdex_symbols_failed:" + path)
					return nil
				}
				if rec != nil {
					mu.Lock()
					bundle.Symbols = append(bundle.Symbols, *rec)
					mu.Unlock()
				}
				return nil
			})
			g.Go(func() error {
				rec, err := a.dex.AST(gctx, path)
				if err != nil {
					addWarning("docdex_ast_failed:" + path)
					return nil
				}
				if rec != nil {
					mu.Lock()
					bundle.AST = append(bundle.AST, *rec)
					mu.Unlock()
				}
				return nil
			})
		} else {
			addWarning("docdex_symbols_not_applicable:" + path)
			addWarning("docdex_ast_not_applicable:" + path)
		}

		if impactApplicable(path) {
			g.Go(func() error {
				res, err := a.dex.ImpactGraph(gctx, path)
				if err != nil || res == nil {
					return nil
				}
				mu.Lock()
				bundle.Impact = append(bundle.Impact, res.Record)
				if len(res.Diagnostics.Notes) > 0 {
					bundle.ImpactDiagnostics = append(bundle.ImpactDiagnostics, res.Diagnostics)
				}
				mu.Unlock()
				if len(res.Diagnostics.Notes) > 0 {
					addWarning("impact_graph_sparse:" + path)
				}
				return nil
			})
		}
	}

	_ = g.Wait()
}

func (a *Assembler) recallMemory(ctx context.Context, request string, signals types.QuerySignals, bundle *types.ContextBundle, warn func(string)) {
	limit := a.memCfg.MaxRecall
	if limit <= 0 {
		limit = maxMemoryRecall
	}
	facts, err := a.dex.MemoryRecall(ctx, request, limit)
	if err != nil {
		logging.DocdexWarn("Memory recall failed: %v", err)
		return
	}
	var scored []types.MemoryFact
	for _, f := range facts {
		if f.Score >= a.memCfg.MinScore {
			scored = append(scored, f)
		}
	}
	bundle.Memory = pruneMemory(scored, signals, bundle.Selection.Focus, warn)
}

func (a *Assembler) gatherProfile(ctx context.Context, bundle *types.ContextBundle) {
	profile, err := a.dex.GetProfile(ctx)
	if err != nil || profile == nil {
		return
	}
	bundle.Profile = profile.Facts
	bundle.PreferencesDetected = profile.Preferences
}
