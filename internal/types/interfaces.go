package types

import (
	"context"
)

// LLMClient defines the interface for LLM interactions. Each phase adapter
// drives one of these; concrete providers live in internal/llm.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// AssembleOptions tune a single context assembly. Zero values mean "use the
// assembler's configured defaults". Depth overrides outside the documented
// ranges are clamped, with a context_option_clamped event per clamp.
type AssembleOptions struct {
	AdditionalQueries       []string
	PreferredFiles          []string
	RecentFiles             []string
	ForceFocusFiles         []string
	SkipSearchWhenPreferred bool

	// DeepMode arms the assembler's health/index gate and suppresses the
	// fast-path shortcuts.
	DeepMode bool

	// Depth overrides (0 = configured default).
	MaxQueries    int
	MaxFiles      int
	MaxTotalBytes int
	TokenBudget   int

	// LaneID names the ephemeral query-expansion lane, when lanes are wired.
	LaneID string
}

// ContextAssembler produces context bundles and services research cycles and
// agent requests. Implemented by internal/librarian.
type ContextAssembler interface {
	Assemble(ctx context.Context, request string, opts AssembleOptions) (*ContextBundle, error)
	RunResearchTools(ctx context.Context, request string, bundle *ContextBundle) (*ResearchOutput, error)
	FulfillAgentRequest(ctx context.Context, req *AgentRequest) (*AgentRequestResult, error)
	// LastRequestID returns the id of the most recent fulfilled agent request.
	LastRequestID() string
}

// PlanOptions tune a single architect pass.
type PlanOptions struct {
	InstructionHint string
	ResponseFormat  string
	PlanHint        *Plan
	ValidateOnly    bool
	LaneID          string
}

// ArchitectPlanner turns a context bundle into a plan. PlanWithRequest may
// return an agent request instead of a plan; Plan is the bare form.
type ArchitectPlanner interface {
	Plan(ctx context.Context, bundle *ContextBundle) (*Plan, error)
	PlanWithRequest(ctx context.Context, bundle *ContextBundle, opts PlanOptions) (*PlanResponse, error)
}

// ReviewInput is the payload for the architect's builder-output review.
type ReviewInput struct {
	Plan         *Plan
	Builder      *BuilderResult
	TouchedFiles []string
	LaneID       string
}

// BuilderOutputReviewer is the optional architect capability of judging
// applied builder output. The pipeline feature-detects it once at
// construction.
type BuilderOutputReviewer interface {
	ReviewBuilderOutput(ctx context.Context, in ReviewInput) (*ReviewResult, error)
}

// BuilderInput is the payload for one builder run.
type BuilderInput struct {
	Plan   *Plan
	Bundle *ContextBundle
	LaneID string
}

// BuilderRunner drives the code-writing agent and applies its patches.
type BuilderRunner interface {
	Run(ctx context.Context, in BuilderInput) (*BuilderResult, error)
}

// CriticInput is the payload for one critic evaluation.
type CriticInput struct {
	Plan         *Plan
	Builder      *BuilderResult
	TouchedFiles []string
	LaneID       string
}

// CriticEvaluator judges a builder attempt.
type CriticEvaluator interface {
	Evaluate(ctx context.Context, in CriticInput) (*CriticResult, error)
}

// MemoryWriteback persists post-run lessons and detected preferences.
type MemoryWriteback interface {
	Persist(ctx context.Context, rec WritebackRecord) error
}

// RunLogger is the structured event sink for a run. Log appends one event;
// WritePhaseArtifact stores a JSON artifact and returns its path. Both are
// internally serialized.
type RunLogger interface {
	Log(eventType string, data map[string]interface{})
	WritePhaseArtifact(phase, kind string, payload interface{}) (string, error)
}

// LaneManager stores per-role conversation lanes. Implementations are
// internally synchronized; writes to one lane are serialized.
type LaneManager interface {
	GetLane(ctx context.Context, key LaneKey) (*Lane, error)
	Append(ctx context.Context, laneID string, msg Message) error
	DropEphemeral(laneID string)
}

// PhaseFailure describes a provider-class failure inside a phase.
type PhaseFailure struct {
	Phase string
	Err   error
}

// FallbackDecision is the host's answer to a provider failure.
type FallbackDecision struct {
	Switched bool
	Note     string
}

// OnPhaseProviderFailure lets the host switch providers when a phase agent
// fails with an auth/rate-limit class error (or a deterministic patch-parse
// failure, per policy). Returning Switched=true grants one retry of the
// failed call.
type OnPhaseProviderFailure func(failure PhaseFailure) FallbackDecision
