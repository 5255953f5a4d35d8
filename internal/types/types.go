// Package types provides shared type definitions used across mcoda packages.
// This package exists to break import cycles between the pipeline, the phase
// adapters, and the context assembler. Types in this package should be
// foundational data structures with no dependencies outside the standard
// library.
package types

import (
	"strconv"
	"strings"
)

// =============================================================================
// CONTEXT BUNDLE
// =============================================================================

// FileRole marks how a file participates in the assembled context.
type FileRole string

const (
	FileRoleFocus     FileRole = "focus"
	FileRolePeriphery FileRole = "periphery"
)

// SearchHit is a single index hit for one query.
type SearchHit struct {
	DocID string  `json:"doc_id"`
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

// QueryResult groups the hits returned for one expanded query,
// ordered by descending score.
type QueryResult struct {
	Query string      `json:"query"`
	Hits  []SearchHit `json:"hits"`
}

// Snippet is an extracted source region for a path.
type Snippet struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Symbol is one declared symbol reported by the index.
type Symbol struct {
	Name string `json:"name"`
	Kind string `json:"kind,omitempty"`
	Line int    `json:"line,omitempty"`
}

// SymbolRecord holds the symbols the index reported for one path.
type SymbolRecord struct {
	Path    string   `json:"path"`
	Symbols []Symbol `json:"symbols"`
}

// ASTRecord holds the structural outline the index reported for one path.
type ASTRecord struct {
	Path    string `json:"path"`
	Outline string `json:"outline"`
}

// ImpactRecord holds the dependency fan-in/fan-out for one path.
type ImpactRecord struct {
	Path         string   `json:"path"`
	Dependents   []string `json:"dependents,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// ImpactDiagnostic carries per-path notes emitted by the impact graph.
type ImpactDiagnostic struct {
	Path  string   `json:"path"`
	Notes []string `json:"notes,omitempty"`
}

// BundleFile is one file loaded into the context bundle.
type BundleFile struct {
	Path          string   `json:"path"`
	Role          FileRole `json:"role"`
	Content       string   `json:"content"`
	Size          int      `json:"size"`
	Truncated     bool     `json:"truncated,omitempty"`
	SliceStrategy string   `json:"slice_strategy,omitempty"`
	Origin        string   `json:"origin,omitempty"`
}

// Selection is the confidence-scored split of bundle files.
// Focus and Periphery are disjoint subsets of All.
type Selection struct {
	Focus         []string `json:"focus"`
	Periphery     []string `json:"periphery"`
	All           []string `json:"all"`
	LowConfidence bool     `json:"low_confidence"`
}

// MemoryFact is one recalled memory entry. Entity names the path or concept
// the fact is about; it drives contradiction detection during pruning.
type MemoryFact struct {
	ID          string  `json:"id"`
	Fact        string  `json:"fact"`
	Entity      string  `json:"entity,omitempty"`
	Score       float64 `json:"score"`
	Source      string  `json:"source,omitempty"`
	CreatedAtMS int64   `json:"created_at_ms,omitempty"`
}

// GoldenExample points at exemplary code the index recommends imitating.
type GoldenExample struct {
	Path string `json:"path"`
	Note string `json:"note,omitempty"`
}

// IndexInfo reports index freshness.
type IndexInfo struct {
	LastUpdatedEpochMS int64 `json:"last_updated_epoch_ms"`
	NumDocs            int   `json:"num_docs"`
}

// QuerySignals carries the keywords extracted from the request.
type QuerySignals struct {
	Keywords       []string `json:"keywords"`
	KeywordPhrases []string `json:"keyword_phrases,omitempty"`
}

// Digest confidence levels.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// RequestDigest is the assembler's one-paragraph reading of the request.
type RequestDigest struct {
	Summary        string   `json:"summary"`
	RefinedQuery   string   `json:"refined_query"`
	CandidateFiles []string `json:"candidate_files,omitempty"`
	Confidence     string   `json:"confidence"`
}

// ProjectInfo identifies the workspace the bundle was assembled in.
type ProjectInfo struct {
	WorkspaceRoot string `json:"workspace_root"`
	ReadmePath    string `json:"readme_path,omitempty"`
	ReadmeSummary string `json:"readme_summary,omitempty"`
}

// EvidenceGateReport records how a research cycle scored against the gate.
type EvidenceGateReport struct {
	Met           bool `json:"met"`
	SearchHits    int  `json:"search_hits"`
	OpenOrSnippet int  `json:"open_or_snippet"`
	SymbolsOrAST  int  `json:"symbols_or_ast"`
	Impact        int  `json:"impact"`
	Warnings      int  `json:"warnings"`
}

// BudgetReport records research cycle/time consumption.
type BudgetReport struct {
	Cycles    int   `json:"cycles"`
	ElapsedMS int64 `json:"elapsed_ms"`
	MinCycles int   `json:"min_cycles"`
	MaxCycles int   `json:"max_cycles"`
}

// ResearchSummary is the condensed deep-mode record attached to a bundle.
type ResearchSummary struct {
	Status       string             `json:"status"`
	Cycles       int                `json:"cycles"`
	ToolUsage    map[string]int     `json:"tool_usage"`
	EvidenceGate EvidenceGateReport `json:"evidence_gate"`
	Budget       BudgetReport       `json:"budget"`
}

// ContextBundle is the evidence package handed to the architect and builder.
// A bundle is immutable once a run starts; context refreshes produce a new
// bundle rather than mutating the old one.
type ContextBundle struct {
	Request           string             `json:"request"`
	Queries           []string           `json:"queries"`
	SearchResults     []QueryResult      `json:"search_results"`
	Snippets          []Snippet          `json:"snippets,omitempty"`
	Symbols           []SymbolRecord     `json:"symbols,omitempty"`
	AST               []ASTRecord        `json:"ast,omitempty"`
	Impact            []ImpactRecord     `json:"impact,omitempty"`
	ImpactDiagnostics []ImpactDiagnostic `json:"impact_diagnostics,omitempty"`
	Files             []BundleFile       `json:"files"`
	Selection         Selection          `json:"selection"`
	Memory            []MemoryFact       `json:"memory,omitempty"`

	PreferencesDetected []string        `json:"preferences_detected,omitempty"`
	Profile             []string        `json:"profile,omitempty"`
	GoldenExamples      []GoldenExample `json:"golden_examples,omitempty"`

	Index      IndexInfo `json:"index"`
	RepoMap    string    `json:"repo_map,omitempty"`
	RepoMapRaw string    `json:"repo_map_raw,omitempty"`

	QuerySignals  QuerySignals  `json:"query_signals"`
	RequestDigest RequestDigest `json:"request_digest"`
	ProjectInfo   ProjectInfo   `json:"project_info"`

	Warnings []string `json:"warnings,omitempty"`
	Missing  []string `json:"missing,omitempty"`

	Research *ResearchSummary `json:"research,omitempty"`
}

// HasFile reports whether the bundle loaded path.
func (b *ContextBundle) HasFile(path string) bool {
	for _, f := range b.Files {
		if f.Path == path {
			return true
		}
	}
	return false
}

// HasWarning reports whether the bundle carries the exact warning tag.
func (b *ContextBundle) HasWarning(tag string) bool {
	for _, w := range b.Warnings {
		if w == tag {
			return true
		}
	}
	return false
}

// InRepoMap reports whether path appears in the cached workspace tree.
// Matching is line-based on the raw tree output.
func (b *ContextBundle) InRepoMap(path string) bool {
	raw := b.RepoMapRaw
	if raw == "" {
		raw = b.RepoMap
	}
	if raw == "" {
		return false
	}
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == path || strings.HasSuffix(trimmed, "/"+path) || strings.Contains(trimmed, path) {
			return true
		}
	}
	return false
}

// =============================================================================
// PLAN
// =============================================================================

// PlaceholderTargets are path stand-ins LLMs emit when they have no concrete
// target. Plans carrying one never pass the quality gate.
var PlaceholderTargets = []string{
	"path/to/file.ts",
	"path/to/file.js",
	"path/to/file.go",
	"path/to/file",
	"file/path/here",
	"<path>",
	"TBD",
}

// IsPlaceholderTarget reports whether path is a known placeholder.
func IsPlaceholderTarget(path string) bool {
	trimmed := strings.TrimSpace(path)
	for _, p := range PlaceholderTargets {
		if strings.EqualFold(trimmed, p) {
			return true
		}
	}
	return false
}

// Plan is the architect's implementation plan for one attempt.
type Plan struct {
	Steps          []string `json:"steps"`
	TargetFiles    []string `json:"target_files"`
	RiskAssessment string   `json:"risk_assessment,omitempty"`
	Verification   []string `json:"verification"`
	Warnings       []string `json:"warnings,omitempty"`
}

// HasWarning reports whether the plan carries the exact warning tag.
func (p *Plan) HasWarning(tag string) bool {
	for _, w := range p.Warnings {
		if w == tag {
			return true
		}
	}
	return false
}

// HasWarningPrefix reports whether any plan warning starts with prefix.
func (p *Plan) HasWarningPrefix(prefix string) bool {
	for _, w := range p.Warnings {
		if strings.HasPrefix(w, prefix) {
			return true
		}
	}
	return false
}

// PlanResponse is one architect pass: either a plan or an agent request,
// plus the raw output for the phase artifact.
type PlanResponse struct {
	Plan               *Plan         `json:"plan,omitempty"`
	Request            *AgentRequest `json:"request,omitempty"`
	RawOutput          string        `json:"raw_output"`
	ResponseFormatType string        `json:"response_format_type,omitempty"`
}

// =============================================================================
// BUILDER
// =============================================================================

// PatchAction enumerates the patch operations the builder may emit.
type PatchAction string

const (
	PatchCreate  PatchAction = "create"
	PatchReplace PatchAction = "replace"
	PatchDelete  PatchAction = "delete"
)

// Patch is one file mutation. Replace patches locate SearchBlock verbatim
// and swap it for ReplaceBlock; an empty SearchBlock replaces the whole file.
type Patch struct {
	Action       PatchAction `json:"action"`
	File         string      `json:"file"`
	SearchBlock  string      `json:"search_block,omitempty"`
	ReplaceBlock string      `json:"replace_block,omitempty"`
}

// Message is a single conversation entry in a lane or a final agent message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ContextRequest is the builder's needs-more-context signal.
type ContextRequest struct {
	Queries []string `json:"queries,omitempty"`
	Files   []string `json:"files,omitempty"`
}

// BuilderResult is the outcome of one builder run. Exactly one of the three
// shapes is populated: a finalize message, a context request, or patches
// (patches also set TouchedFiles and Diff after a successful apply).
type BuilderResult struct {
	FinalMessage      Message         `json:"final_message"`
	ToolCallsExecuted int             `json:"tool_calls_executed"`
	ContextRequest    *ContextRequest `json:"context_request,omitempty"`
	Patches           []Patch         `json:"patches,omitempty"`
	TouchedFiles      []string        `json:"touched_files,omitempty"`
	Diff              string          `json:"diff,omitempty"`
}

// =============================================================================
// CRITIC / REVIEW
// =============================================================================

// Critic verdict statuses.
const (
	CriticPass = "PASS"
	CriticFail = "FAIL"
)

// AgentNeed is one typed sub-query inside an AGENT_REQUEST.
type AgentNeed struct {
	Tool  string `json:"tool"`
	Query string `json:"query,omitempty"`
	Path  string `json:"path,omitempty"`
}

// AgentRequest asks the orchestrator for additional tool results.
type AgentRequest struct {
	Role      string      `json:"role"`
	RequestID string      `json:"request_id"`
	Needs     []AgentNeed `json:"needs"`
}

// Queries returns the search queries embedded in the request's needs.
func (r *AgentRequest) Queries() []string {
	var out []string
	for _, n := range r.Needs {
		if n.Query != "" {
			out = append(out, n.Query)
		}
	}
	return out
}

// Files returns the paths embedded in the request's needs.
func (r *AgentRequest) Files() []string {
	var out []string
	for _, n := range r.Needs {
		if n.Path != "" {
			out = append(out, n.Path)
		}
	}
	return out
}

// AgentNeedResult is the fulfillment of one need, in request order.
type AgentNeedResult struct {
	Tool    string      `json:"tool"`
	OK      bool        `json:"ok"`
	Error   string      `json:"error,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// AgentRequestResult is the versioned fulfillment envelope.
type AgentRequestResult struct {
	Version   string                 `json:"version"`
	RequestID string                 `json:"request_id"`
	Results   []AgentNeedResult      `json:"results"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

// CriticResult is the critic's verdict on a builder attempt.
type CriticResult struct {
	Status    string        `json:"status"`
	Reasons   []string      `json:"reasons,omitempty"`
	Retryable bool          `json:"retryable"`
	Request   *AgentRequest `json:"request,omitempty"`
}

// Review statuses returned by the architect's builder-output review.
const (
	ReviewPass  = "PASS"
	ReviewRetry = "RETRY"
)

// ReviewResult is the architect's judgement of applied builder output.
type ReviewResult struct {
	Status   string   `json:"status"`
	Reasons  []string `json:"reasons,omitempty"`
	Feedback []string `json:"feedback,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Actionable reports whether the review carries anything a retry could act on.
func (r *ReviewResult) Actionable() bool {
	return len(r.Reasons) > 0 || len(r.Feedback) > 0
}

// =============================================================================
// LANES
// =============================================================================

// LaneScope identifies the job/task a lane belongs to.
type LaneScope struct {
	JobID   string `json:"job_id"`
	TaskID  string `json:"task_id"`
	RunID   string `json:"run_id,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
}

// LaneKey addresses a lane in the lane manager.
type LaneKey struct {
	JobID     string
	TaskID    string
	Role      string
	RunID     string
	Attempt   int
	Ephemeral bool
}

// LaneID builds the composite lane id: "<jobId>:<taskId>:<role>[:attempt-N]".
func (k LaneKey) LaneID() string {
	id := k.JobID + ":" + k.TaskID + ":" + k.Role
	if k.Attempt > 0 {
		id += ":attempt-" + strconv.Itoa(k.Attempt)
	}
	return id
}

// Lane is a per-role conversation buffer.
type Lane struct {
	LaneID    string    `json:"lane_id"`
	Role      string    `json:"role"`
	Scope     LaneScope `json:"scope"`
	Messages  []Message `json:"messages"`
	Bytes     int       `json:"bytes"`
	Ephemeral bool      `json:"ephemeral"`
}

// =============================================================================
// RESEARCH
// =============================================================================

// Research tool names recorded in ToolRun entries and quota buckets.
const (
	ToolSearch    = "search"
	ToolOpen      = "open"
	ToolSnippet   = "snippet"
	ToolSymbols   = "symbols"
	ToolAST       = "ast"
	ToolImpact    = "impact"
	ToolTree      = "tree"
	ToolDAGExport = "dag_export"
)

// ToolRun records a single research tool invocation.
type ToolRun struct {
	Tool    string `json:"tool"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

// ResearchOutputs aggregates the raw evidence a research cycle produced.
type ResearchOutputs struct {
	SearchResults     []QueryResult      `json:"search_results,omitempty"`
	Snippets          []Snippet          `json:"snippets,omitempty"`
	Symbols           []SymbolRecord     `json:"symbols,omitempty"`
	AST               []ASTRecord        `json:"ast,omitempty"`
	Impact            []ImpactRecord     `json:"impact,omitempty"`
	ImpactDiagnostics []ImpactDiagnostic `json:"impact_diagnostics,omitempty"`
	RepoMap           string             `json:"repo_map,omitempty"`
	DAGSummary        string             `json:"dag_summary,omitempty"`
}

// ResearchOutput is one investigation cycle's structured record.
type ResearchOutput struct {
	ToolRuns []ToolRun       `json:"tool_runs"`
	Warnings []string        `json:"warnings,omitempty"`
	Outputs  ResearchOutputs `json:"outputs"`
}

// =============================================================================
// RUN RESULT / WRITEBACK
// =============================================================================

// RunResult is what SmartPipeline.Run returns on a terminal PASS or FAIL.
type RunResult struct {
	Plan         *Plan           `json:"plan,omitempty"`
	CriticResult *CriticResult   `json:"critic_result,omitempty"`
	Attempts     int             `json:"attempts"`
	Context      *ContextBundle  `json:"context,omitempty"`
	Research     *ResearchOutput `json:"research,omitempty"`
}

// WritebackRecord is the post-run memory persistence payload.
type WritebackRecord struct {
	RunID       string   `json:"run_id"`
	JobID       string   `json:"job_id,omitempty"`
	TaskID      string   `json:"task_id,omitempty"`
	Failures    int      `json:"failures"`
	MaxRetries  int      `json:"max_retries"`
	Lesson      string   `json:"lesson"`
	Preferences []string `json:"preferences,omitempty"`
	CreatedAtMS int64    `json:"created_at_ms,omitempty"`
}
