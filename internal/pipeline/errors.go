package pipeline

import "fmt"

// Deep investigation failure codes.
const (
	CodeQuotaUnmet    = "deep_investigation_quota_unmet"
	CodeEvidenceUnmet = "deep_investigation_evidence_unmet"
	CodeBudgetUnmet   = "deep_investigation_budget_unmet"
)

// DeepInvestigationError is raised when deep-mode research cannot satisfy its
// quota, evidence gate, or cycle budget. Remediation carries short actionable
// suggestions for the operator.
type DeepInvestigationError struct {
	Code        string
	Remediation []string
}

func (e *DeepInvestigationError) Error() string {
	return fmt.Sprintf("deep investigation failed: %s", e.Code)
}

// Quality gate failure reasons.
const (
	ReasonBlockingWarnings  = "blocking_architect_warnings"
	ReasonUnresolvedRequest = "unresolved_architect_request"
	ReasonInvalidTargets    = "invalid_target_paths"
	ReasonMissingTargets    = "missing_concrete_targets"
	ReasonLowAlignment      = "low_request_target_alignment_critical"
)

// QualityGateError is raised when the pre-builder quality gate fails closed.
// Its message format is stable; tests and callers match on it.
type QualityGateError struct {
	Reason string
}

func (e *QualityGateError) Error() string {
	return "Architect quality gate failed before builder: " + e.Reason
}
