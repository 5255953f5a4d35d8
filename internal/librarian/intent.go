package librarian

import (
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"mcoda/internal/logging"
)

// intentSet records which request intents the heuristics detected.
type intentSet struct {
	UI            bool
	Backend       bool
	Testing       bool
	Infra         bool
	Security      bool
	Observability bool
}

func (s intentSet) names() []string {
	var out []string
	if s.UI {
		out = append(out, "ui")
	}
	if s.Backend {
		out = append(out, "backend")
	}
	if s.Testing {
		out = append(out, "testing")
	}
	if s.Infra {
		out = append(out, "infra")
	}
	if s.Security {
		out = append(out, "security")
	}
	if s.Observability {
		out = append(out, "observability")
	}
	return out
}

var intentMarkers = map[string][]string{
	"ui": {"button", "page", "css", "style", "layout", "component", "render",
		"frontend", "html", "ui ", " ui", "modal", "form", "click", "display"},
	"backend": {"endpoint", "api", "route", "handler", "server", "database",
		"query", "request body", "response", "middleware", "controller"},
	"testing": {"test", "spec", "coverage", "assert", "mock", "fixture",
		"regression", "flaky"},
	"infra": {"deploy", "docker", "ci ", "pipeline yaml", "kubernetes",
		"terraform", "github action", "workflow", "build script"},
	"security": {"auth", "login", "password", "token", "permission", "csrf",
		"xss", "session", "oauth", "credential"},
	"observability": {"log", "metric", "trace", "telemetry", "monitor",
		"alert", "dashboard", "instrument"},
}

// intentRetryTerms seed the adaptive zero-hit retry per intent.
var intentRetryTerms = map[string][]string{
	"ui":            {"component", "render", "styles"},
	"backend":       {"handler", "route", "endpoint"},
	"testing":       {"test", "spec"},
	"infra":         {"deploy", "workflow"},
	"security":      {"auth", "session"},
	"observability": {"logger", "metrics"},
}

// detectIntents classifies the request with keyword heuristics. Multiple
// intents may fire at once; none firing is normal for generic requests.
func detectIntents(request string) intentSet {
	lower := " " + strings.ToLower(request) + " "
	var s intentSet
	hits := func(intent string) bool {
		for _, marker := range intentMarkers[intent] {
			if strings.Contains(lower, marker) {
				return true
			}
		}
		return false
	}
	s.UI = hits("ui")
	s.Backend = hits("backend")
	s.Testing = hits("testing")
	s.Infra = hits("infra")
	s.Security = hits("security")
	s.Observability = hits("observability")
	return s
}

// isCodeWritingRequest reports whether the request asks for a code change
// rather than a question or investigation.
func isCodeWritingRequest(request string) bool {
	lower := strings.ToLower(request)
	for _, verb := range []string{"add ", "fix ", "implement", "refactor", "update ",
		"change ", "create ", "remove ", "rename ", "write ", "build ", "wire "} {
		if strings.Contains(lower, verb) {
			return true
		}
	}
	return false
}

const maxIntentCandidates = 20

// injectIntentCandidates enumerates workspace files under the configured
// roots for each detected non-UI intent and returns them as selection
// candidates. Each intent that yields candidates adds a
// librarian_<intent>_candidates warning.
func (a *Assembler) injectIntentCandidates(intents intentSet, warn func(string)) []string {
	fsys := os.DirFS(a.workspace)
	var candidates []string
	seen := make(map[string]bool)

	for _, intent := range intents.names() {
		if intent == "ui" {
			continue
		}
		roots, ok := a.cfg.IntentRoots[intent]
		if !ok {
			continue
		}
		var found []string
		for _, root := range roots {
			pattern := strings.TrimSuffix(root, "/") + "/**/*"
			matches, err := doublestar.Glob(fsys, pattern)
			if err != nil {
				continue
			}
			for _, m := range matches {
				if info, err := fs.Stat(fsys, m); err != nil || info.IsDir() {
					continue
				}
				if !seen[m] {
					seen[m] = true
					found = append(found, m)
				}
				if len(found) >= maxIntentCandidates {
					break
				}
			}
			if len(found) >= maxIntentCandidates {
				break
			}
		}
		if len(found) > 0 {
			sort.Strings(found)
			candidates = append(candidates, found...)
			warn("librarian_" + intent + "_candidates")
			logging.LibrarianDebug("Intent %s injected %d candidates", intent, len(found))
		}
	}
	return candidates
}
