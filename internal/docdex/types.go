package docdex

import "mcoda/internal/types"

// SearchOptions tune one index search call.
type SearchOptions struct {
	Limit int `json:"limit,omitempty"`
	// SourceOnly biases results away from docs toward source files.
	SourceOnly bool `json:"source_only,omitempty"`
}

// TreeOptions tune the workspace tree call.
type TreeOptions struct {
	Path          string   `json:"path"`
	MaxDepth      int      `json:"max_depth"`
	IncludeHidden bool     `json:"include_hidden"`
	ExtraExcludes []string `json:"extra_excludes,omitempty"`
}

// TreeResult is the workspace tree in both rendered and raw forms.
type TreeResult struct {
	Rendered string   `json:"rendered"`
	Raw      string   `json:"raw"`
	Paths    []string `json:"paths,omitempty"`
}

// SnippetOptions tune snippet extraction for a path.
type SnippetOptions struct {
	Query    string `json:"query,omitempty"`
	MaxBytes int    `json:"max_bytes,omitempty"`
}

// ImpactResult pairs the impact record with its diagnostics.
type ImpactResult struct {
	Record      types.ImpactRecord      `json:"record"`
	Diagnostics types.ImpactDiagnostic `json:"diagnostics"`
}

// Stats reports index freshness and size.
type Stats struct {
	LastUpdatedEpochMS int64 `json:"last_updated_epoch_ms"`
	NumDocs            int   `json:"num_docs"`
}

// Profile is the advisory workspace profile the index maintains.
type Profile struct {
	Preferences []string `json:"preferences,omitempty"`
	Facts       []string `json:"facts,omitempty"`
}

// DAGResult is the exported dependency DAG summary.
type DAGResult struct {
	Summary string `json:"summary"`
	Nodes   int    `json:"nodes,omitempty"`
	Edges   int    `json:"edges,omitempty"`
}
