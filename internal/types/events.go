package types

import (
	"time"
)

// EventType names a pipeline event. The set below is stable; UIs and tests
// key off these strings.
type EventType string

const (
	EventPhaseStart            EventType = "phase_start"
	EventPhaseInput            EventType = "phase_input"
	EventPhaseOutput           EventType = "phase_output"
	EventPhaseEnd              EventType = "phase_end"
	EventPhaseProviderFallback EventType = "phase_provider_fallback"

	EventPlanHintSuppressed EventType = "plan_hint_suppressed"
	EventFastPathOverridden EventType = "fast_path_overridden"

	EventInvestigationTelemetry                 EventType = "investigation_telemetry"
	EventInvestigationQuotaFailed               EventType = "investigation_quota_failed"
	EventInvestigationQuotaWarningTolerated     EventType = "investigation_quota_warning_tolerated"
	EventInvestigationEvidenceFailed            EventType = "investigation_evidence_failed"
	EventInvestigationEvidenceWarningTolerated  EventType = "investigation_evidence_warning_tolerated"
	EventInvestigationBudgetFailed              EventType = "investigation_budget_failed"

	EventArchitectRevisionRequested        EventType = "architect_revision_requested"
	EventArchitectQualityGate              EventType = "architect_quality_gate"
	EventArchitectRetryStrategy            EventType = "architect_retry_strategy"
	EventArchitectDegraded                 EventType = "architect_degraded"
	EventArchitectPlanHintValidateFallback EventType = "architect_plan_hint_validate_fallback"
	EventArchitectReviewRetryNonActionable EventType = "architect_review_retry_non_actionable"
	EventArchitectReviewSemanticGuard      EventType = "architect_review_semantic_guard"

	EventBuilderApplyFailedDeterministic         EventType = "builder_apply_failed_deterministic"
	EventBuilderApplyFailedDeterministicNoRepair EventType = "builder_apply_failed_deterministic_no_repair"

	EventContextOptionClamped   EventType = "context_option_clamped"
	EventContextDeepScanPreset  EventType = "context_deep_scan_preset"
)

// Event is one entry in a run's event stream.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Phase     string                 `json:"phase,omitempty"`
	LaneID    string                 `json:"lane_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
