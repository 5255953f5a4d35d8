package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mcoda/internal/logging"
	"mcoda/internal/types"
)

// defaultMaxCycleHeadroom pads the cycle ceiling when the caller set only a
// minimum.
const defaultMaxCycleHeadroom = 2

// derivedMaxSecondsFactor caps investigation wall time relative to the
// configured minimum.
const derivedMaxSecondsFactor = 6

// runResearch executes investigation cycles until the tool quota, the
// evidence gate and the budget are all satisfied, or the cycle ceiling is
// hit. Warning-only shortfalls are tolerated with an explicit event; hard
// shortfalls return a DeepInvestigationError.
func (p *SmartPipeline) runResearch(ctx context.Context, st *runState) error {
	di := p.cfg.DeepInvestigation
	minCycles := di.InvestigationBudget.MinCycles
	if minCycles < 1 {
		minCycles = 1
	}
	maxCycles := di.InvestigationBudget.MaxCycles
	if maxCycles < minCycles {
		maxCycles = minCycles + defaultMaxCycleHeadroom
	}
	var maxElapsed time.Duration
	if di.InvestigationBudget.MinSeconds > 0 {
		maxElapsed = time.Duration(di.InvestigationBudget.MinSeconds*derivedMaxSecondsFactor) * time.Second
	}

	lane := p.lane(ctx, "research", 0)
	started := time.Now()
	merged := &types.ResearchOutput{}
	totals := map[string]int{}
	var gate types.EvidenceGateReport
	quotaMet, evidenceMet := false, false
	cycles := 0

	for cycles < maxCycles {
		cycles++
		cycleStart := p.phaseStart(PhaseResearch, lane, map[string]interface{}{"cycle": cycles})
		cctx, cancel := withTimeout(ctx, p.cfg.PhaseTimeouts.ResearchCycle)
		out, err := p.assembler.RunResearchTools(cctx, st.request, st.bundle)
		cancel()
		p.phaseEnd(PhaseResearch, lane, cycleStart, out, err)

		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			err = p.wrapPhaseTimeout("research", err)
			if p.grantFallback(st, PhaseResearch, err) {
				cycles--
				continue
			}
			return err
		}

		cycleUsage := tallyToolUsage(out.ToolRuns)
		for bucket, n := range cycleUsage {
			totals[bucket] += n
		}
		mergeResearch(merged, out)
		mergeResearchIntoBundle(st.bundle, out)

		gate = scoreEvidence(merged, di.EvidenceGate)
		quotaMet = quotaSatisfied(totals, di.ToolQuota)
		evidenceMet = gate.Met
		budgetMet := cycles >= minCycles && elapsedSecondsMet(started, di.InvestigationBudget)

		timeUp := maxElapsed > 0 && time.Since(started) >= maxElapsed
		status := "continue"
		done := budgetMet && quotaMet && evidenceMet
		if done {
			status = "complete"
		} else if cycles >= maxCycles || timeUp {
			status = "exhausted"
		}

		p.emit(types.EventInvestigationTelemetry, PhaseResearch, lane, map[string]interface{}{
			"status":       status,
			"duration_ms":  time.Since(started).Milliseconds(),
			"evidence_gate": gate,
			"quota":        di.ToolQuota,
			"budget": types.BudgetReport{
				Cycles:    cycles,
				ElapsedMS: time.Since(started).Milliseconds(),
				MinCycles: minCycles,
				MaxCycles: maxCycles,
			},
			"tool_usage":        cycleUsage,
			"tool_usage_totals": totals,
			"summary": fmt.Sprintf("cycle %d/%d: %d search hits, %d snippets, %d structural, quota_met=%v evidence_met=%v",
				cycles, maxCycles, gate.SearchHits, gate.OpenOrSnippet, gate.SymbolsOrAST, quotaMet, evidenceMet),
		})

		if done || timeUp {
			break
		}
	}

	status := "complete"

	if !quotaMet {
		if researchFailuresWarningOnly(merged) {
			p.emit(types.EventInvestigationQuotaWarningTolerated, PhaseResearch, lane, map[string]interface{}{
				"warnings":          merged.Warnings,
				"tool_usage_totals": totals,
			})
			quotaMet = true
			status = "complete_with_warnings"
		} else {
			p.emit(types.EventInvestigationQuotaFailed, PhaseResearch, lane, map[string]interface{}{
				"quota":             di.ToolQuota,
				"tool_usage_totals": totals,
			})
			return &DeepInvestigationError{
				Code: CodeQuotaUnmet,
				Remediation: []string{
					"Verify the docdex service is reachable and healthy",
					"Rebuild the docdex index for this workspace",
					"Raise the investigation cycle ceiling",
				},
			}
		}
	}

	if !evidenceMet {
		if evidenceWarningsOnlyMiss(gate, di.EvidenceGate) {
			p.emit(types.EventInvestigationEvidenceWarningTolerated, PhaseResearch, lane, map[string]interface{}{
				"evidence_gate": gate,
			})
			evidenceMet = true
			status = "complete_with_warnings"
		} else {
			p.emit(types.EventInvestigationEvidenceFailed, PhaseResearch, lane, map[string]interface{}{
				"evidence_gate": gate,
			})
			return &DeepInvestigationError{
				Code: CodeEvidenceUnmet,
				Remediation: []string{
					"Broaden the request so index searches return hits",
					"Reindex the workspace so snippets and symbols resolve",
				},
			}
		}
	}

	if !elapsedSecondsMet(started, di.InvestigationBudget) || cycles < minCycles {
		p.emit(types.EventInvestigationBudgetFailed, PhaseResearch, lane, map[string]interface{}{
			"cycles":      cycles,
			"min_cycles":  minCycles,
			"max_cycles":  maxCycles,
			"elapsed_ms":  time.Since(started).Milliseconds(),
			"min_seconds": di.InvestigationBudget.MinSeconds,
		})
		return &DeepInvestigationError{
			Code: CodeBudgetUnmet,
			Remediation: []string{
				"Raise MaxCycles above MinCycles in the investigation budget",
				"Lower the minimum investigation time",
			},
		}
	}

	st.merged = merged
	st.bundle.Research = &types.ResearchSummary{
		Status:       status,
		Cycles:       cycles,
		ToolUsage:    totals,
		EvidenceGate: gate,
		Budget: types.BudgetReport{
			Cycles:    cycles,
			ElapsedMS: time.Since(started).Milliseconds(),
			MinCycles: minCycles,
			MaxCycles: maxCycles,
		},
	}
	p.cfg.Metrics.ObserveResearch(cycles)
	logging.Research("Investigation %s after %d cycles (%d warnings)", status, cycles, len(merged.Warnings))
	return nil
}

// Quota bucket names used in telemetry and tallies.
const (
	bucketSearch        = "search"
	bucketOpenOrSnippet = "open_or_snippet"
	bucketSymbolsOrAST  = "symbols_or_ast"
	bucketImpact        = "impact"
	bucketTree          = "tree"
	bucketDAGExport     = "dag_export"
)

// tallyToolUsage buckets the successful runs of one cycle. Skipped runs,
// cached or otherwise, never count toward the quota.
func tallyToolUsage(runs []types.ToolRun) map[string]int {
	usage := map[string]int{}
	for _, r := range runs {
		if !r.OK || r.Skipped {
			continue
		}
		switch r.Tool {
		case types.ToolSearch:
			usage[bucketSearch]++
		case types.ToolOpen, types.ToolSnippet:
			usage[bucketOpenOrSnippet]++
		case types.ToolSymbols, types.ToolAST:
			usage[bucketSymbolsOrAST]++
		case types.ToolImpact:
			usage[bucketImpact]++
		case types.ToolTree:
			usage[bucketTree]++
		case types.ToolDAGExport:
			usage[bucketDAGExport]++
		}
	}
	return usage
}

func quotaSatisfied(totals map[string]int, q ToolQuota) bool {
	return totals[bucketSearch] >= q.Search &&
		totals[bucketOpenOrSnippet] >= q.OpenOrSnippet &&
		totals[bucketSymbolsOrAST] >= q.SymbolsOrAST &&
		totals[bucketImpact] >= q.Impact &&
		totals[bucketTree] >= q.Tree &&
		totals[bucketDAGExport] >= q.DAGExport
}

// scoreEvidence scores the accumulated evidence against the gate.
// MaxWarnings is a hard cap; zero means no warning is allowed.
func scoreEvidence(merged *types.ResearchOutput, g EvidenceGate) types.EvidenceGateReport {
	hits := 0
	for _, qr := range merged.Outputs.SearchResults {
		hits += len(qr.Hits)
	}
	report := types.EvidenceGateReport{
		SearchHits:    hits,
		OpenOrSnippet: len(merged.Outputs.Snippets),
		SymbolsOrAST:  len(merged.Outputs.Symbols) + len(merged.Outputs.AST),
		Impact:        len(merged.Outputs.Impact),
		Warnings:      len(merged.Warnings),
	}
	report.Met = report.SearchHits >= g.MinSearchHits &&
		report.OpenOrSnippet >= g.MinOpenOrSnippet &&
		report.SymbolsOrAST >= g.MinSymbolsOrAST &&
		report.Impact >= g.MinImpact &&
		report.Warnings <= g.MaxWarnings
	return report
}

// researchFailuresWarningOnly reports whether every tool failure surfaced as
// a research_docdex_* warning, with at least one actual failure. A quota
// shortfall with no failed runs means the tools were never exercised and is
// not tolerable.
func researchFailuresWarningOnly(merged *types.ResearchOutput) bool {
	failed := 0
	for _, r := range merged.ToolRuns {
		if !r.OK && !r.Skipped {
			failed++
		}
	}
	if failed == 0 {
		return false
	}
	for _, w := range merged.Warnings {
		if !strings.HasPrefix(w, "research_docdex_") {
			return false
		}
	}
	return true
}

// evidenceWarningsOnlyMiss reports whether the gate failed solely on the
// warning cap while every evidence minimum was met.
func evidenceWarningsOnlyMiss(r types.EvidenceGateReport, g EvidenceGate) bool {
	return r.SearchHits >= g.MinSearchHits &&
		r.OpenOrSnippet >= g.MinOpenOrSnippet &&
		r.SymbolsOrAST >= g.MinSymbolsOrAST &&
		r.Impact >= g.MinImpact &&
		r.Warnings > g.MaxWarnings
}

func elapsedSecondsMet(started time.Time, b InvestigationBudget) bool {
	if b.MinSeconds <= 0 {
		return true
	}
	return time.Since(started) >= time.Duration(b.MinSeconds)*time.Second
}

func mergeResearch(dst, src *types.ResearchOutput) {
	dst.ToolRuns = append(dst.ToolRuns, src.ToolRuns...)
	dst.Warnings = append(dst.Warnings, src.Warnings...)
	dst.Outputs.SearchResults = append(dst.Outputs.SearchResults, src.Outputs.SearchResults...)
	dst.Outputs.Snippets = append(dst.Outputs.Snippets, src.Outputs.Snippets...)
	dst.Outputs.Symbols = append(dst.Outputs.Symbols, src.Outputs.Symbols...)
	dst.Outputs.AST = append(dst.Outputs.AST, src.Outputs.AST...)
	dst.Outputs.Impact = append(dst.Outputs.Impact, src.Outputs.Impact...)
	dst.Outputs.ImpactDiagnostics = append(dst.Outputs.ImpactDiagnostics, src.Outputs.ImpactDiagnostics...)
	if dst.Outputs.RepoMap == "" {
		dst.Outputs.RepoMap = src.Outputs.RepoMap
	}
	if dst.Outputs.DAGSummary == "" {
		dst.Outputs.DAGSummary = src.Outputs.DAGSummary
	}
}

// mergeResearchIntoBundle folds cycle evidence into the bundle so the
// architect plans against everything the investigation found.
func mergeResearchIntoBundle(b *types.ContextBundle, out *types.ResearchOutput) {
	b.SearchResults = append(b.SearchResults, out.Outputs.SearchResults...)
	b.Snippets = append(b.Snippets, out.Outputs.Snippets...)
	b.Symbols = append(b.Symbols, out.Outputs.Symbols...)
	b.AST = append(b.AST, out.Outputs.AST...)
	b.Impact = append(b.Impact, out.Outputs.Impact...)
	b.ImpactDiagnostics = append(b.ImpactDiagnostics, out.Outputs.ImpactDiagnostics...)
	b.Warnings = append(b.Warnings, out.Warnings...)
	if b.RepoMap == "" {
		b.RepoMap = out.Outputs.RepoMap
	}
}
