// Package docdex is the client for the external workspace index service.
// The index owns search, snippets, symbols, AST, impact graphs, memory
// recall, profiles, and stats; mcoda only ever queries it over HTTP.
package docdex

import (
	"context"

	"mcoda/internal/types"
)

// Client is the index surface the librarian depends on. Implementations must
// be safe for concurrent use.
type Client interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]types.SearchHit, error)
	Tree(ctx context.Context, opts TreeOptions) (*TreeResult, error)
	OpenSnippet(ctx context.Context, path string, opts SnippetOptions) (*types.Snippet, error)
	Symbols(ctx context.Context, path string) (*types.SymbolRecord, error)
	AST(ctx context.Context, path string) (*types.ASTRecord, error)
	ImpactGraph(ctx context.Context, path string) (*ImpactResult, error)
	MemoryRecall(ctx context.Context, query string, limit int) ([]types.MemoryFact, error)
	GetProfile(ctx context.Context) (*Profile, error)
	Stats(ctx context.Context) (*Stats, error)
	DAGExport(ctx context.Context) (*DAGResult, error)
	HealthCheck(ctx context.Context) error
}
