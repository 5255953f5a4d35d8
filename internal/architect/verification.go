package architect

import (
	"regexp"
	"strings"
)

// ConcreteCheckPattern recognizes verification entries the quality gate
// accepts. Synthesized verification must match it.
var ConcreteCheckPattern = regexp.MustCompile(`(?i)unit tests|unit/integration tests|manual browser check|manual api check`)

// isGenericVerification reports whether the verification list is empty or
// never names a concrete check type. "Verify changes" and its cousins fail
// this; anything matching ConcreteCheckPattern passes.
func isGenericVerification(checks []string) bool {
	for _, c := range checks {
		if ConcreteCheckPattern.MatchString(c) {
			return false
		}
	}
	return true
}

// SynthesizeVerification derives concrete checks from the target paths when
// the architect failed to provide any. The output always matches
// ConcreteCheckPattern.
func SynthesizeVerification(targets []string) []string {
	var checks []string
	seen := make(map[string]bool)
	add := func(c string) {
		if !seen[c] {
			seen[c] = true
			checks = append(checks, c)
		}
	}

	for _, t := range targets {
		lower := strings.ToLower(t)
		switch {
		case strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm") ||
			strings.HasSuffix(lower, ".css") || strings.HasSuffix(lower, ".scss"):
			add("Manual browser check: open http://localhost:3000 and verify the change in " + t)
		case strings.Contains(lower, "server") || strings.Contains(lower, "api/") ||
			strings.Contains(lower, "handler") || strings.Contains(lower, "route"):
			add("Run unit/integration tests for " + t)
			add("Manual api check: exercise the affected endpoint behind " + t)
		default:
			add("Run unit tests for " + t)
		}
	}

	if len(checks) == 0 {
		checks = []string{"Run unit tests for the touched modules"}
	}
	return checks
}
