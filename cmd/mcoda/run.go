package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mcoda/internal/architect"
	"mcoda/internal/builder"
	"mcoda/internal/config"
	"mcoda/internal/critic"
	"mcoda/internal/docdex"
	"mcoda/internal/lanes"
	"mcoda/internal/librarian"
	"mcoda/internal/llm"
	"mcoda/internal/logging"
	"mcoda/internal/memory"
	"mcoda/internal/metrics"
	"mcoda/internal/pipeline"
	"mcoda/internal/runlog"
	"mcoda/internal/types"
	"mcoda/internal/vcs"
)

var (
	deepMode    bool
	fastPath    bool
	maxRetries  int
	jobID       string
	taskID      string
	planFile    string
	jsonEvents  bool
	metricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run [request]",
	Short: "Run one code change request through the pipeline",
	Long: `Assembles context for the request, plans the change, applies patches in
a transactional worktree and verifies the result. Exits non-zero when the
critic rejects the change or a gate fails closed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRequest(strings.Join(args, " "))
	},
}

func init() {
	runCmd.Flags().BoolVar(&deepMode, "deep", false, "run the deep investigation loop before planning")
	runCmd.Flags().BoolVar(&fastPath, "fast-path", false, "allow skipping the architect for trivially scoped requests")
	runCmd.Flags().IntVar(&maxRetries, "max-retries", 0, "override builder/critic retry budget (0 keeps config)")
	runCmd.Flags().StringVar(&jobID, "job", "", "job id grouping related runs (default: generated)")
	runCmd.Flags().StringVar(&taskID, "task", "", "task id within the job (default: task-1)")
	runCmd.Flags().StringVar(&planFile, "plan-file", "", "JSON plan hint validated before full planning")
	runCmd.Flags().BoolVar(&jsonEvents, "json", false, "stream run events to stdout as JSON lines")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	rootCmd.AddCommand(runCmd)
}

func runRequest(request string) error {
	ws, err := filepath.Abs(workspace)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace: %w", err)
	}

	cfg, err := config.Load(config.Path(ws))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if maxRetries > 0 {
		cfg.Pipeline.MaxRetries = maxRetries
	}
	if deepMode {
		cfg.Pipeline.DeepMode = true
	}
	if fastPath {
		cfg.Pipeline.FastPathEnabled = true
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}

	if err := logging.Initialize(ws); err != nil {
		logger.Warn("file logging unavailable", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Pick up logging toggles edited mid-run without restarting.
	go func() {
		err := config.Watch(ctx, config.Path(ws), func(updated *config.Config) {
			logging.SetDebugMode(updated.Logging.Debug)
		})
		if err != nil && ctx.Err() == nil {
			logger.Debug("config watcher stopped", zap.Error(err))
		}
	}()

	if jobID == "" {
		jobID = "job-" + uuid.NewString()[:8]
	}
	if taskID == "" {
		taskID = "task-1"
	}
	runID := uuid.NewString()

	runLogger, err := runlog.New(ws, jobID, runID)
	if err != nil {
		return fmt.Errorf("failed to open run log: %w", err)
	}
	defer runLogger.Close()

	reg := prometheus.NewRegistry()
	pm := metrics.New(reg)
	if metricsAddr != "" {
		go serveMetrics(metricsAddr, reg)
	}

	dex := docdex.NewHTTPClient(docdex.HTTPConfig{
		BaseURL:                    cfg.Docdex.BaseURL,
		Timeout:                    cfg.GetDocdexTimeout(),
		BreakerMaxRequests:         cfg.Docdex.Breaker.MaxRequests,
		BreakerInterval:            durationOr(cfg.Docdex.Breaker.Interval, 60*time.Second),
		BreakerTimeout:             durationOr(cfg.Docdex.Breaker.Timeout, 20*time.Second),
		BreakerConsecutiveFailures: cfg.Docdex.Breaker.ConsecutiveFailures,
	})

	laneStore, err := lanes.OpenStore(filepath.Join(ws, cfg.Lanes.DatabasePath))
	if err != nil {
		return fmt.Errorf("failed to open lane store: %w", err)
	}
	summarizer, err := llm.NewRoleClient(cfg, "summarizer")
	if err != nil {
		return err
	}
	laneMgr := lanes.NewManager(lanes.Config{
		MaxMessages:      cfg.Lanes.MaxMessages,
		MaxBytesPerLane:  cfg.Lanes.MaxBytesPerLane,
		ModelTokenLimits: cfg.Lanes.ModelTokenLimits,
		Summarize: lanes.SummarizeConfig{
			Enabled:      cfg.Lanes.Summarize.Enabled,
			ThresholdPct: cfg.Lanes.Summarize.ThresholdPct,
			TargetTokens: cfg.Lanes.Summarize.TargetTokens,
		},
		Model: cfg.LLM.Model,
	}, laneStore, summarizer)
	defer laneMgr.Close()

	memStore, err := memory.Open(filepath.Join(ws, cfg.Memory.DatabasePath))
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer memStore.Close()

	worktree := vcs.NewWorktree(ws)

	assembler := librarian.New(dex, cfg, ws)
	assembler.Lanes = laneMgr
	assembler.OnEvent = func(event string, data map[string]interface{}) {
		runLogger.Log(event, data)
	}

	roles, hook, err := buildRoleClients(cfg)
	if err != nil {
		return err
	}

	planner := architect.New(roles["architect"], laneMgr)
	runner := builder.New(roles["builder"], worktree, laneMgr)
	evaluator := critic.New(roles["critic"], laneMgr)

	hint, err := loadPlanHint(planFile)
	if err != nil {
		return err
	}

	sink := newEventSink(jsonEvents)
	pcfg := pipeline.Config{
		MaxRetries:             cfg.Pipeline.MaxRetries,
		MaxContextRefreshes:    cfg.Pipeline.MaxContextRefreshes,
		DeepMode:               cfg.Pipeline.DeepMode,
		DeepInvestigation:      deepInvestigationFromConfig(cfg.Pipeline.DeepInvestigation),
		ContextManager:         laneMgr,
		LaneScope:              types.LaneScope{JobID: jobID, TaskID: taskID, RunID: runID},
		PlanHint:               hint,
		Logger:                 runLogger,
		OnEvent:                sink.emit,
		OnPhaseProviderFailure: hook,
		Metrics:                pm,
		PhaseTimeouts: pipeline.PhaseTimeouts{
			Librarian:     cfg.PhaseTimeout("librarian"),
			Architect:     cfg.PhaseTimeout("architect"),
			Builder:       cfg.PhaseTimeout("builder"),
			Critic:        cfg.PhaseTimeout("critic"),
			ResearchCycle: cfg.PhaseTimeout("research"),
		},
	}
	if cfg.Pipeline.FastPathEnabled {
		pcfg.FastPath = fastPathEligible
	}

	p := pipeline.New(pcfg, assembler, planner, runner, evaluator, memStore)

	logger.Info("starting run",
		zap.String("job", jobID),
		zap.String("task", taskID),
		zap.String("run", runID),
		zap.Bool("deep", cfg.Pipeline.DeepMode))

	result, err := p.Run(ctx, request)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	return printResult(result)
}

// fastPathEligible approves short single-clause requests that already name a
// concrete file, where planning adds little over applying directly.
func fastPathEligible(request string) bool {
	if len(request) > 200 {
		return false
	}
	if strings.ContainsAny(request, ";\n") {
		return false
	}
	for _, word := range strings.Fields(request) {
		if strings.Contains(word, "/") && strings.Contains(word, ".") {
			return true
		}
	}
	return false
}

func deepInvestigationFromConfig(di config.DeepInvestigationConfig) pipeline.DeepInvestigation {
	return pipeline.DeepInvestigation{
		ToolQuota: pipeline.ToolQuota{
			Search:        di.ToolQuota.Search,
			OpenOrSnippet: di.ToolQuota.OpenOrSnippet,
			SymbolsOrAST:  di.ToolQuota.SymbolsOrAST,
			Impact:        di.ToolQuota.Impact,
			Tree:          di.ToolQuota.Tree,
			DAGExport:     di.ToolQuota.DAGExport,
		},
		InvestigationBudget: pipeline.InvestigationBudget{
			MinCycles:  di.InvestigationBudget.MinCycles,
			MinSeconds: di.InvestigationBudget.MinSeconds,
			MaxCycles:  di.InvestigationBudget.MaxCycles,
		},
		EvidenceGate: pipeline.EvidenceGate{
			MinSearchHits:    di.EvidenceGate.MinSearchHits,
			MinOpenOrSnippet: di.EvidenceGate.MinOpenOrSnippet,
			MinSymbolsOrAST:  di.EvidenceGate.MinSymbolsOrAST,
			MinImpact:        di.EvidenceGate.MinImpact,
			MaxWarnings:      di.EvidenceGate.MaxWarnings,
		},
	}
}

func loadPlanHint(path string) (*types.Plan, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan hint: %w", err)
	}
	var plan types.Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan hint: %w", err)
	}
	return &plan, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// eventSink mirrors pipeline events to the terminal.
type eventSink struct {
	mu   sync.Mutex
	json bool
	enc  *json.Encoder
}

func newEventSink(asJSON bool) *eventSink {
	return &eventSink{json: asJSON, enc: json.NewEncoder(os.Stdout)}
}

func (s *eventSink) emit(ev types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.json {
		_ = s.enc.Encode(ev)
		return
	}
	logger.Info("event",
		zap.String("type", string(ev.Type)),
		zap.String("phase", ev.Phase),
		zap.String("lane", ev.LaneID))
}

func printResult(result *types.RunResult) error {
	if jsonEvents {
		return json.NewEncoder(os.Stdout).Encode(result)
	}
	status := "unknown"
	if result.CriticResult != nil {
		status = result.CriticResult.Status
	}
	fmt.Printf("Result: %s after %d attempt(s)\n", status, result.Attempts)
	if result.Plan != nil {
		fmt.Println("Targets:")
		for _, t := range result.Plan.TargetFiles {
			fmt.Printf("  %s\n", t)
		}
	}
	if result.CriticResult != nil {
		for _, reason := range result.CriticResult.Reasons {
			fmt.Printf("  - %s\n", reason)
		}
	}
	if result.CriticResult == nil || result.CriticResult.Status != types.CriticPass {
		return fmt.Errorf("change was not accepted")
	}
	return nil
}
