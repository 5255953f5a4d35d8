package librarian

import (
	"context"

	"mcoda/internal/docdex"
	"mcoda/internal/types"
)

// fakeDex is a docdex.Client with overridable call fields. Unset fields
// return empty successes.
type fakeDex struct {
	SearchFunc       func(ctx context.Context, query string, opts docdex.SearchOptions) ([]types.SearchHit, error)
	TreeFunc         func(ctx context.Context, opts docdex.TreeOptions) (*docdex.TreeResult, error)
	OpenSnippetFunc  func(ctx context.Context, path string, opts docdex.SnippetOptions) (*types.Snippet, error)
	SymbolsFunc      func(ctx context.Context, path string) (*types.SymbolRecord, error)
	ASTFunc          func(ctx context.Context, path string) (*types.ASTRecord, error)
	ImpactGraphFunc  func(ctx context.Context, path string) (*docdex.ImpactResult, error)
	MemoryRecallFunc func(ctx context.Context, query string, limit int) ([]types.MemoryFact, error)
	GetProfileFunc   func(ctx context.Context) (*docdex.Profile, error)
	StatsFunc        func(ctx context.Context) (*docdex.Stats, error)
	DAGExportFunc    func(ctx context.Context) (*docdex.DAGResult, error)
	HealthCheckFunc  func(ctx context.Context) error

	searchCalls int
	dagCalls    int
	treeCalls   int
}

func (f *fakeDex) Search(ctx context.Context, query string, opts docdex.SearchOptions) ([]types.SearchHit, error) {
	f.searchCalls++
	if f.SearchFunc != nil {
		return f.SearchFunc(ctx, query, opts)
	}
	return nil, nil
}

func (f *fakeDex) Tree(ctx context.Context, opts docdex.TreeOptions) (*docdex.TreeResult, error) {
	f.treeCalls++
	if f.TreeFunc != nil {
		return f.TreeFunc(ctx, opts)
	}
	return &docdex.TreeResult{Rendered: ".", Raw: "."}, nil
}

func (f *fakeDex) OpenSnippet(ctx context.Context, path string, opts docdex.SnippetOptions) (*types.Snippet, error) {
	if f.OpenSnippetFunc != nil {
		return f.OpenSnippetFunc(ctx, path, opts)
	}
	return nil, nil
}

func (f *fakeDex) Symbols(ctx context.Context, path string) (*types.SymbolRecord, error) {
	if f.SymbolsFunc != nil {
		return f.SymbolsFunc(ctx, path)
	}
	return nil, nil
}

func (f *fakeDex) AST(ctx context.Context, path string) (*types.ASTRecord, error) {
	if f.ASTFunc != nil {
		return f.ASTFunc(ctx, path)
	}
	return nil, nil
}

func (f *fakeDex) ImpactGraph(ctx context.Context, path string) (*docdex.ImpactResult, error) {
	if f.ImpactGraphFunc != nil {
		return f.ImpactGraphFunc(ctx, path)
	}
	return &docdex.ImpactResult{Record: types.ImpactRecord{Path: path}}, nil
}

func (f *fakeDex) MemoryRecall(ctx context.Context, query string, limit int) ([]types.MemoryFact, error) {
	if f.MemoryRecallFunc != nil {
		return f.MemoryRecallFunc(ctx, query, limit)
	}
	return nil, nil
}

func (f *fakeDex) GetProfile(ctx context.Context) (*docdex.Profile, error) {
	if f.GetProfileFunc != nil {
		return f.GetProfileFunc(ctx)
	}
	return &docdex.Profile{}, nil
}

func (f *fakeDex) Stats(ctx context.Context) (*docdex.Stats, error) {
	if f.StatsFunc != nil {
		return f.StatsFunc(ctx)
	}
	return &docdex.Stats{LastUpdatedEpochMS: 1700000000000, NumDocs: 100}, nil
}

func (f *fakeDex) DAGExport(ctx context.Context) (*docdex.DAGResult, error) {
	f.dagCalls++
	if f.DAGExportFunc != nil {
		return f.DAGExportFunc(ctx)
	}
	return &docdex.DAGResult{Summary: "dag"}, nil
}

func (f *fakeDex) HealthCheck(ctx context.Context) error {
	if f.HealthCheckFunc != nil {
		return f.HealthCheckFunc(ctx)
	}
	return nil
}
