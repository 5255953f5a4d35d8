// Package pipeline is the orchestrator: the phased state machine
// Librarian -> Research -> Architect -> Builder -> Critic with evidence
// gates, bounded retries, context refreshes, deterministic apply-failure
// repair, provider fallback and memory writeback. Collaborators are injected
// as the small interfaces in internal/types; nothing here talks to an index
// or an LLM directly.
package pipeline

import (
	"time"

	"mcoda/internal/metrics"
	"mcoda/internal/types"
)

// Phase names used in events, artifacts and failure records.
const (
	PhaseLibrarian = "librarian"
	PhaseResearch  = "research"
	PhaseArchitect = "architect"
	PhaseBuilder   = "builder"
	PhaseCritic    = "critic"
)

// ToolQuota is the per-bucket minimum of successful tool runs deep mode
// demands before the architect may plan.
type ToolQuota struct {
	Search        int
	OpenOrSnippet int
	SymbolsOrAST  int
	Impact        int
	Tree          int
	DAGExport     int
}

// InvestigationBudget bounds research cycles and time.
type InvestigationBudget struct {
	MinCycles  int
	MinSeconds int
	MaxCycles  int
}

// EvidenceGate is the minimum evidence deep mode demands.
type EvidenceGate struct {
	MinSearchHits    int
	MinOpenOrSnippet int
	MinSymbolsOrAST  int
	MinImpact        int
	MaxWarnings      int
}

// DeepInvestigation groups the deep-mode gates.
type DeepInvestigation struct {
	ToolQuota           ToolQuota
	InvestigationBudget InvestigationBudget
	EvidenceGate        EvidenceGate
}

// PhaseTimeouts bounds each phase agent call. Zero means no timeout.
type PhaseTimeouts struct {
	Librarian     time.Duration
	Architect     time.Duration
	Builder       time.Duration
	Critic        time.Duration
	ResearchCycle time.Duration
}

// Config is the recognized pipeline option set.
type Config struct {
	// MaxRetries bounds builder->critic iterations. Minimum 1; default 1.
	MaxRetries int

	// MaxContextRefreshes bounds builder- and critic-triggered refreshes per
	// attempt. Zero disables refreshes.
	MaxContextRefreshes int

	// FastPath, when it returns true for a request, skips the architect and
	// emits a synthetic plan. Ignored under DeepMode (fast_path_overridden).
	FastPath func(request string) bool

	// DeepMode enables the research executor and blocks fast path.
	DeepMode          bool
	DeepInvestigation DeepInvestigation

	// ContextManager, when present, materializes per-phase lanes; lane ids
	// flow into each phase call.
	ContextManager types.LaneManager
	LaneScope      types.LaneScope

	// PlanHint, when set, is validated before full planning. Suppressed in
	// deep mode with a plan_hint_suppressed event.
	PlanHint *types.Plan

	// Logger is the structured event/artifact sink for the run.
	Logger types.RunLogger

	// OnEvent mirrors every event to a UI/CLI stream.
	OnEvent func(types.Event)

	// OnPhaseProviderFailure is consulted on provider-class failures and,
	// per policy, repeated deterministic patch-parse failures. One switch is
	// honored per phase per run.
	OnPhaseProviderFailure types.OnPhaseProviderFailure

	// Metrics is optional; a nil value records nothing.
	Metrics *metrics.PipelineMetrics

	PhaseTimeouts PhaseTimeouts
}

// SmartPipeline sequences the phases for one or more runs. Safe for
// concurrent Run calls: per-run state lives on the stack.
type SmartPipeline struct {
	cfg       Config
	assembler types.ContextAssembler
	planner   types.ArchitectPlanner
	builder   types.BuilderRunner
	critic    types.CriticEvaluator
	memory    types.MemoryWriteback

	// reviewer is the architect's optional review capability,
	// feature-detected once at construction.
	reviewer types.BuilderOutputReviewer
}

// New constructs a pipeline over the injected collaborators. The planner's
// review capability is feature-detected here and never re-probed.
func New(cfg Config, assembler types.ContextAssembler, planner types.ArchitectPlanner, builder types.BuilderRunner, critic types.CriticEvaluator, memory types.MemoryWriteback) *SmartPipeline {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.MaxContextRefreshes < 0 {
		cfg.MaxContextRefreshes = 0
	}

	p := &SmartPipeline{
		cfg:       cfg,
		assembler: assembler,
		planner:   planner,
		builder:   builder,
		critic:    critic,
		memory:    memory,
	}
	if r, ok := planner.(types.BuilderOutputReviewer); ok {
		p.reviewer = r
	}
	return p
}
