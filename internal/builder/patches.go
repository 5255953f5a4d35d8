package builder

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"mcoda/internal/types"
)

var (
	reNeedsContext = regexp.MustCompile(`(?m)^\s*NEEDS_CONTEXT:\s*(\{.*\})\s*$`)
	reFencedJSON   = regexp.MustCompile("(?s)```(?:json)?\n(.*?)```")
)

// patchPayload is the structured apply shape.
type patchPayload struct {
	Patches []types.Patch `json:"patches"`
}

// parsedOutput is the classified builder response.
type parsedOutput struct {
	ContextRequest *types.ContextRequest
	Patches        []types.Patch
	// Finalize is true when the output is a plain assistant message.
	Finalize bool
}

// parseOutput classifies raw builder output into one of the three accepted
// shapes. A payload that declares patches but cannot be decoded is a
// deterministic parse failure, not a finalize; the error text preserves both
// the primary and the retry parse so the classifier can key off it.
func parseOutput(raw string) (*parsedOutput, *types.PatchApplyError) {
	if m := reNeedsContext.FindStringSubmatch(raw); m != nil {
		var req types.ContextRequest
		if err := json.Unmarshal([]byte(m[1]), &req); err == nil {
			return &parsedOutput{ContextRequest: &req}, nil
		}
	}

	if !strings.Contains(raw, `"patches"`) {
		return &parsedOutput{Finalize: true}, nil
	}

	patches, primaryErr := decodePatches(raw)
	if primaryErr == nil {
		return &parsedOutput{Patches: patches}, nil
	}

	// Retry once on the fenced body: models wrap JSON despite instructions.
	retryErr := fmt.Errorf("no fenced JSON body")
	if m := reFencedJSON.FindStringSubmatch(raw); m != nil {
		patches, retryErr = decodePatches(m[1])
		if retryErr == nil {
			return &parsedOutput{Patches: patches}, nil
		}
	}

	return nil, &types.PatchApplyError{
		Source:    types.ApplySourceBuilderPatchProcessing,
		Message:   fmt.Sprintf("Patch parsing failed. initial=%v; retry=%v", primaryErr, retryErr),
		RawOutput: raw,
		Kind:      types.DeterministicPatchParse,
	}
}

func decodePatches(text string) ([]types.Patch, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("Patch output is not valid JSON")
	}
	var payload patchPayload
	if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err != nil {
		return nil, fmt.Errorf("Patch output is not valid JSON")
	}
	if len(payload.Patches) == 0 {
		return nil, fmt.Errorf("Patch payload includes empty patches array")
	}
	for _, p := range payload.Patches {
		switch p.Action {
		case types.PatchCreate, types.PatchReplace, types.PatchDelete:
		default:
			return nil, fmt.Errorf("Patch parsing failed. unknown action %q", p.Action)
		}
		if strings.TrimSpace(p.File) == "" {
			return nil, fmt.Errorf("Patch parsing failed. patch missing file path")
		}
	}
	return payload.Patches, nil
}
