package pipeline

import (
	"context"
	"regexp"
	"strings"

	"mcoda/internal/logging"
	"mcoda/internal/types"
)

var reGuardWord = regexp.MustCompile(`[A-Za-z][A-Za-z0-9_]{2,}`)

var guardStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "into": true, "should": true, "would": true,
	"could": true, "when": true, "then": true, "add": true, "fix": true,
	"make": true, "change": true, "update": true, "implement": true,
	"file": true, "files": true, "code": true, "new": true, "use": true,
	"using": true, "please": true, "need": true, "needs": true,
}

// reviewBuilderOutput runs the architect's post-apply review and the
// semantic guard. It returns retry=true when the attempt should be redone
// with feedback; the caller's loop consumes the attempt.
func (p *SmartPipeline) reviewBuilderOutput(ctx context.Context, st *runState, res *types.BuilderResult) (bool, error) {
	if p.reviewer == nil || len(res.Patches) == 0 {
		return false, nil
	}
	lane := p.lane(ctx, "architect", st.attempts)

	review, err := p.reviewer.ReviewBuilderOutput(ctx, types.ReviewInput{
		Plan:         st.plan,
		Builder:      res,
		TouchedFiles: res.TouchedFiles,
		LaneID:       lane,
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, err
		}
		// review is advisory; a failed review call never blocks the critic
		logging.ArchitectWarn("Builder output review failed: %v", err)
		return false, nil
	}

	if review.Status == types.ReviewRetry {
		if !review.Actionable() {
			p.emit(types.EventArchitectReviewRetryNonActionable, PhaseArchitect, lane, map[string]interface{}{
				"warnings": review.Warnings,
			})
			return false, nil
		}
		st.feedback = append(st.feedback, review.Reasons...)
		st.feedback = append(st.feedback, review.Feedback...)
		return true, nil
	}

	// review passed; the semantic guard still checks that what was touched
	// reflects what was asked for
	if ok, missing := semanticGuard(st.request, st.plan, res.TouchedFiles); !ok {
		p.emit(types.EventArchitectReviewSemanticGuard, PhaseArchitect, lane, map[string]interface{}{
			"ok":            false,
			"missing_terms": missing,
			"touched_files": res.TouchedFiles,
		})
		st.feedback = append(st.feedback,
			"touched files do not reflect the request terms: "+strings.Join(missing, ", "))
		return true, nil
	}

	return false, nil
}

// semanticGuard checks keyword coverage between the request plus plan steps
// and the touched file paths. Zero coverage fails; any overlap passes.
func semanticGuard(request string, plan *types.Plan, touched []string) (bool, []string) {
	tokens := salientTokens(append([]string{request}, plan.Steps...)...)
	if len(tokens) == 0 || len(touched) == 0 {
		return true, nil
	}

	joined := strings.ToLower(strings.Join(touched, " "))
	covered := 0
	var missing []string
	for _, tok := range tokens {
		if strings.Contains(joined, tok) {
			covered++
		} else {
			missing = append(missing, tok)
		}
	}
	if covered > 0 {
		return true, nil
	}
	return false, missing
}

// salientTokens extracts lowercased identifier-ish words from the texts,
// stopword-filtered and deduplicated in first-seen order.
func salientTokens(texts ...string) []string {
	seen := map[string]bool{}
	var out []string
	for _, text := range texts {
		for _, w := range reGuardWord.FindAllString(text, -1) {
			lower := strings.ToLower(w)
			if guardStopwords[lower] || seen[lower] {
				continue
			}
			seen[lower] = true
			out = append(out, lower)
		}
	}
	return out
}

// pathMatchesAny reports whether the path contains any of the tokens.
func pathMatchesAny(path string, tokens []string) bool {
	lower := strings.ToLower(path)
	for _, tok := range tokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}
