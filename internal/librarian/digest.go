package librarian

import (
	"strings"

	"mcoda/internal/types"
)

// buildDigest condenses the request and the selection into the bundle's
// request digest. Confidence follows the selection: concrete focus files on
// a well-evidenced request read high, an empty selection reads low, and a
// markup-only focus on a code-writing request caps at medium because the
// behavioral change almost always lands in an adjacent script.
func buildDigest(request string, signals types.QuerySignals, sel types.Selection) types.RequestDigest {
	summary := firstSentence(request)
	confidence := types.ConfidenceHigh

	switch {
	case len(sel.Focus) == 0:
		confidence = types.ConfidenceLow
	case sel.LowConfidence:
		confidence = types.ConfidenceLow
	case markupDominant(sel.Focus) && isCodeWritingRequest(request):
		confidence = types.ConfidenceMedium
		summary = summary + " (markup-only focus; behavior may live in sibling scripts)"
	}

	refined := request
	if len(signals.Keywords) > 0 {
		n := len(signals.Keywords)
		if n > 6 {
			n = 6
		}
		refined = strings.Join(signals.Keywords[:n], " ")
	}

	return types.RequestDigest{
		Summary:        summary,
		RefinedQuery:   refined,
		CandidateFiles: sel.Focus,
		Confidence:     confidence,
	}
}

func firstSentence(text string) string {
	trimmed := strings.TrimSpace(text)
	for _, sep := range []string{". ", "\n", "; "} {
		if idx := strings.Index(trimmed, sep); idx > 0 {
			return trimmed[:idx+1]
		}
	}
	if len(trimmed) > 200 {
		return trimmed[:200]
	}
	return trimmed
}
