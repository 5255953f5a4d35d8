package pipeline

import (
	"context"
	"sync"

	"mcoda/internal/types"
)

const testRequest = "fix login validation in src/auth.ts"

func testBundle() *types.ContextBundle {
	return &types.ContextBundle{
		Request: testRequest,
		Selection: types.Selection{
			Focus:     []string{"src/auth.ts"},
			Periphery: []string{"src/login.ts"},
			All:       []string{"src/auth.ts", "src/login.ts"},
		},
		Files: []types.BundleFile{
			{Path: "src/auth.ts", Role: types.FileRoleFocus, Content: "export function login() {}"},
			{Path: "src/login.ts", Role: types.FileRolePeriphery, Content: "export const form = 1;"},
		},
		RepoMap:    "src/auth.ts\nsrc/login.ts\nserver/api.ts",
		RepoMapRaw: "src/auth.ts\nsrc/login.ts\nserver/api.ts",
	}
}

func goodPlan() *types.Plan {
	return &types.Plan{
		Steps:        []string{"Update the login validation logic in src/auth.ts"},
		TargetFiles:  []string{"src/auth.ts"},
		Verification: []string{"Run unit tests for src/auth.ts"},
	}
}

func patchesResult() *types.BuilderResult {
	return &types.BuilderResult{
		FinalMessage: types.Message{Role: "assistant", Content: "Applied 1 patch."},
		Patches: []types.Patch{
			{Action: types.PatchReplace, File: "src/auth.ts", SearchBlock: "login()", ReplaceBlock: "login(user)"},
		},
		TouchedFiles: []string{"src/auth.ts"},
		Diff:         "-login()\n+login(user)",
	}
}

// ---------------------------------------------------------------------------

type mockAssembler struct {
	mu sync.Mutex

	assembleFunc func(ctx context.Context, request string, opts types.AssembleOptions) (*types.ContextBundle, error)
	researchFunc func(ctx context.Context, request string, bundle *types.ContextBundle) (*types.ResearchOutput, error)
	fulfillFunc  func(ctx context.Context, req *types.AgentRequest) (*types.AgentRequestResult, error)

	assembleCalls int
	assembleOpts  []types.AssembleOptions
	researchCalls int
	fulfilled     []*types.AgentRequest
	lastRequestID string
}

func (m *mockAssembler) Assemble(ctx context.Context, request string, opts types.AssembleOptions) (*types.ContextBundle, error) {
	m.mu.Lock()
	m.assembleCalls++
	m.assembleOpts = append(m.assembleOpts, opts)
	m.mu.Unlock()
	if m.assembleFunc != nil {
		return m.assembleFunc(ctx, request, opts)
	}
	return testBundle(), nil
}

func (m *mockAssembler) RunResearchTools(ctx context.Context, request string, bundle *types.ContextBundle) (*types.ResearchOutput, error) {
	m.mu.Lock()
	m.researchCalls++
	m.mu.Unlock()
	if m.researchFunc != nil {
		return m.researchFunc(ctx, request, bundle)
	}
	return &types.ResearchOutput{
		ToolRuns: []types.ToolRun{{Tool: types.ToolSearch, OK: true}},
		Outputs: types.ResearchOutputs{
			SearchResults: []types.QueryResult{{Query: request, Hits: []types.SearchHit{{Path: "src/auth.ts", Score: 2.0}}}},
		},
	}, nil
}

func (m *mockAssembler) FulfillAgentRequest(ctx context.Context, req *types.AgentRequest) (*types.AgentRequestResult, error) {
	m.mu.Lock()
	m.fulfilled = append(m.fulfilled, req)
	m.lastRequestID = req.RequestID
	m.mu.Unlock()
	if m.fulfillFunc != nil {
		return m.fulfillFunc(ctx, req)
	}
	return &types.AgentRequestResult{
		Version:   "v1",
		RequestID: req.RequestID,
		Results:   []types.AgentNeedResult{{Tool: "docdex.search", OK: true}},
	}, nil
}

func (m *mockAssembler) LastRequestID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequestID
}

// ---------------------------------------------------------------------------

type mockPlanner struct {
	mu sync.Mutex

	planFunc func(ctx context.Context, bundle *types.ContextBundle, opts types.PlanOptions) (*types.PlanResponse, error)

	calls int
	opts  []types.PlanOptions
}

func (m *mockPlanner) Plan(ctx context.Context, bundle *types.ContextBundle) (*types.Plan, error) {
	resp, err := m.PlanWithRequest(ctx, bundle, types.PlanOptions{})
	if err != nil {
		return nil, err
	}
	return resp.Plan, nil
}

func (m *mockPlanner) PlanWithRequest(ctx context.Context, bundle *types.ContextBundle, opts types.PlanOptions) (*types.PlanResponse, error) {
	m.mu.Lock()
	m.calls++
	m.opts = append(m.opts, opts)
	m.mu.Unlock()
	if m.planFunc != nil {
		return m.planFunc(ctx, bundle, opts)
	}
	if opts.ValidateOnly && opts.PlanHint != nil {
		return &types.PlanResponse{Plan: opts.PlanHint, ResponseFormatType: "hint"}, nil
	}
	return &types.PlanResponse{Plan: goodPlan(), RawOutput: "PLAN:\n- step", ResponseFormatType: "dsl"}, nil
}

// reviewingPlanner adds the review capability for guard tests.
type reviewingPlanner struct {
	mockPlanner

	reviewFunc  func(ctx context.Context, in types.ReviewInput) (*types.ReviewResult, error)
	reviewCalls int
}

func (m *reviewingPlanner) ReviewBuilderOutput(ctx context.Context, in types.ReviewInput) (*types.ReviewResult, error) {
	m.mu.Lock()
	m.reviewCalls++
	m.mu.Unlock()
	if m.reviewFunc != nil {
		return m.reviewFunc(ctx, in)
	}
	return &types.ReviewResult{Status: types.ReviewPass}, nil
}

// ---------------------------------------------------------------------------

type mockBuilder struct {
	mu sync.Mutex

	runFunc func(ctx context.Context, in types.BuilderInput) (*types.BuilderResult, error)

	calls  int
	inputs []types.BuilderInput
}

func (m *mockBuilder) Run(ctx context.Context, in types.BuilderInput) (*types.BuilderResult, error) {
	m.mu.Lock()
	m.calls++
	m.inputs = append(m.inputs, in)
	m.mu.Unlock()
	if m.runFunc != nil {
		return m.runFunc(ctx, in)
	}
	return patchesResult(), nil
}

// ---------------------------------------------------------------------------

type mockCritic struct {
	mu sync.Mutex

	evalFunc func(ctx context.Context, in types.CriticInput) (*types.CriticResult, error)

	calls  int
	inputs []types.CriticInput
}

func (m *mockCritic) Evaluate(ctx context.Context, in types.CriticInput) (*types.CriticResult, error) {
	m.mu.Lock()
	m.calls++
	m.inputs = append(m.inputs, in)
	m.mu.Unlock()
	if m.evalFunc != nil {
		return m.evalFunc(ctx, in)
	}
	return &types.CriticResult{Status: types.CriticPass}, nil
}

// ---------------------------------------------------------------------------

type mockMemory struct {
	mu      sync.Mutex
	records []types.WritebackRecord
	err     error
}

func (m *mockMemory) Persist(ctx context.Context, rec types.WritebackRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return m.err
}

// ---------------------------------------------------------------------------

type mockLogger struct {
	mu        sync.Mutex
	logged    []string
	artifacts map[string]interface{}
}

func newMockLogger() *mockLogger {
	return &mockLogger{artifacts: map[string]interface{}{}}
}

func (l *mockLogger) Log(eventType string, data map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logged = append(l.logged, eventType)
}

func (l *mockLogger) WritePhaseArtifact(phase, kind string, payload interface{}) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := phase + "/" + kind
	l.artifacts[key] = payload
	return ".mcoda/jobs/test/artifacts/" + key + ".json", nil
}

func (l *mockLogger) artifact(phase, kind string) interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.artifacts[phase+"/"+kind]
}

// ---------------------------------------------------------------------------

type eventRecorder struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *eventRecorder) record(e types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) find(t types.EventType) *types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.events {
		if r.events[i].Type == t {
			return &r.events[i]
		}
	}
	return nil
}

func (r *eventRecorder) count(t types.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------

type harness struct {
	asm     *mockAssembler
	planner *mockPlanner
	builder *mockBuilder
	critic  *mockCritic
	memory  *mockMemory
	logger  *mockLogger
	events  *eventRecorder
	p       *SmartPipeline
}

func newHarness(cfg Config) *harness {
	h := &harness{
		asm:     &mockAssembler{},
		planner: &mockPlanner{},
		builder: &mockBuilder{},
		critic:  &mockCritic{},
		memory:  &mockMemory{},
		logger:  newMockLogger(),
		events:  &eventRecorder{},
	}
	cfg.Logger = h.logger
	cfg.OnEvent = h.events.record
	h.p = New(cfg, h.asm, h.planner, h.builder, h.critic, h.memory)
	return h
}

// reviewHarness swaps in the reviewing planner so the pipeline
// feature-detects the review capability.
type reviewHarness struct {
	asm     *mockAssembler
	planner *reviewingPlanner
	builder *mockBuilder
	critic  *mockCritic
	memory  *mockMemory
	logger  *mockLogger
	events  *eventRecorder
	p       *SmartPipeline
}

func newReviewHarness(cfg Config) *reviewHarness {
	h := &reviewHarness{
		asm:     &mockAssembler{},
		planner: &reviewingPlanner{},
		builder: &mockBuilder{},
		critic:  &mockCritic{},
		memory:  &mockMemory{},
		logger:  newMockLogger(),
		events:  &eventRecorder{},
	}
	cfg.Logger = h.logger
	cfg.OnEvent = h.events.record
	h.p = New(cfg, h.asm, h.planner, h.builder, h.critic, h.memory)
	return h
}
