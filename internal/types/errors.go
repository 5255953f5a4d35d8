package types

import (
	"fmt"
	"regexp"
)

// =============================================================================
// PATCH APPLY FAILURES
// =============================================================================

// Apply-failure sources.
const (
	ApplySourceInterpreterPrimary    = "interpreter_primary"
	ApplySourceInterpreterRetry      = "interpreter_retry"
	ApplySourceBuilderPatchProcessing = "builder_patch_processing"
)

// Deterministic patch-failure kinds. A deterministic failure is repairable by
// a single architect re-plan naming the kind; repeating the same kind twice
// in one run fails closed (or falls back to another provider, per policy).
const (
	DeterministicENOENT             = "enoent"
	DeterministicSearchBlockMissing = "search_block_missing"
	DeterministicPatchParse         = "patch_parse"
	DeterministicDisallowedFiles    = "disallowed_files"
)

// RollbackInfo records whether the worktree rollback ran and succeeded.
type RollbackInfo struct {
	Attempted bool `json:"attempted"`
	OK        bool `json:"ok"`
}

// PatchApplyError is the structured apply failure raised by the builder
// adapter. Message carries the original failure text verbatim; the
// deterministic classifier keys off it when Kind was not tagged at the
// boundary.
type PatchApplyError struct {
	Source    string       `json:"source"`
	Message   string       `json:"error"`
	Patches   []Patch      `json:"patches,omitempty"`
	Rollback  RollbackInfo `json:"rollback"`
	RawOutput string       `json:"raw_output,omitempty"`
	Kind      string       `json:"kind,omitempty"`
}

func (e *PatchApplyError) Error() string {
	return e.Message
}

// DeterministicKind returns the kind tagged at the adapter boundary, falling
// back to text classification for untagged errors.
func (e *PatchApplyError) DeterministicKind() string {
	if e.Kind != "" {
		return e.Kind
	}
	return ClassifyDeterministicKind(e.Message)
}

var (
	reENOENT      = regexp.MustCompile(`ENOENT`)
	reSearchBlock = regexp.MustCompile(`(?i)search block not found`)
	reDisallowed  = regexp.MustCompile(`(?i)disallowed file|not in plan targets|outside plan targets|not listed in the plan`)
	rePatchParse  = regexp.MustCompile(`(?i)patch pars|not valid JSON|invalid JSON|empty patches array|unexpected token|malformed patch`)
)

// ClassifyDeterministicKind maps an apply-failure message to a repairable
// kind, or "" when the failure is not deterministic. A message mixing parse
// and disallowed-file signals classifies as disallowed_files.
func ClassifyDeterministicKind(text string) string {
	switch {
	case reDisallowed.MatchString(text):
		return DeterministicDisallowedFiles
	case reENOENT.MatchString(text):
		return DeterministicENOENT
	case reSearchBlock.MatchString(text):
		return DeterministicSearchBlockMissing
	case rePatchParse.MatchString(text):
		return DeterministicPatchParse
	}
	return ""
}

// =============================================================================
// PROVIDER FAILURES
// =============================================================================

// Provider failure classes. The class string doubles as the text marker the
// fallback regex recognizes.
const (
	ProviderClassAuth       = "AUTH_ERROR"
	ProviderClassRateLimit  = "429"
	ProviderClassUsageLimit = "usage_limit_reached"
	ProviderClassTimeout    = "provider_timeout"
)

// ProviderError tags an agent call failure with its provider class at the
// adapter boundary so the orchestrator can dispatch without regexes.
type ProviderError struct {
	Provider   string
	Class      string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Class, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Class)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

var reProviderFailure = regexp.MustCompile(`AUTH_ERROR|\b429\b|usage_limit_reached|\b401\b|\b403\b|rate.?limit`)

// IsProviderFailureText is the fallback classifier for errors no adapter
// tagged: it pattern-matches the failure text the way the provider policy
// documents (AUTH_ERROR, 429, usage_limit_reached).
func IsProviderFailureText(text string) bool {
	return reProviderFailure.MatchString(text)
}

// =============================================================================
// PLAN HINTS
// =============================================================================

// PlanHintValidationError reports that a caller-proposed plan hint failed
// validation. Recoverable: the orchestrator falls back to a full planning
// call without the hint.
type PlanHintValidationError struct {
	Reason string
	Hint   *Plan
}

func (e *PlanHintValidationError) Error() string {
	return fmt.Sprintf("plan hint validation failed: %s", e.Reason)
}
