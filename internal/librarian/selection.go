package librarian

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mcoda/internal/logging"
	"mcoda/internal/types"
)

// Score contributions per candidate origin. Search score is added on top.
const (
	weightForceFocus = 100.0
	weightPreferred  = 10.0
	weightMentioned  = 8.0
	weightRecent     = 2.0
	weightIntent     = 1.0

	focusScoreFloor     = 3.0
	lowConfidenceCeiling = 2.0
)

type candidate struct {
	path   string
	score  float64
	origin string
	forced bool
}

// lowRelevanceConfigHit reports whether a search hit is a config/spec file
// unlikely to be a change target for the request's intent. Such hits stay in
// SearchResults but are excluded from selection.
func lowRelevanceConfigHit(path string, intents intentSet) bool {
	lower := strings.ToLower(path)
	isConfig := strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") ||
		strings.HasSuffix(lower, ".toml") || strings.HasSuffix(lower, ".ini") ||
		strings.HasSuffix(lower, "config.json") || strings.Contains(lower, "openapi/")
	if !isConfig {
		return false
	}
	// Config files stay relevant for infra-flavored requests.
	return !intents.Infra && !intents.Observability
}

func isDocPath(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".rst") ||
		strings.HasSuffix(lower, ".txt") || strings.HasPrefix(lower, "docs/") ||
		strings.Contains(lower, "/docs/")
}

func isMarkupPath(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm") ||
		strings.HasSuffix(lower, ".css") || strings.HasSuffix(lower, ".scss")
}

func isTestPath(path string) bool {
	lower := strings.ToLower(path)
	return strings.Contains(lower, "_test.") || strings.Contains(lower, ".test.") ||
		strings.Contains(lower, ".spec.") || strings.HasPrefix(lower, "tests/") ||
		strings.Contains(lower, "/tests/") || strings.Contains(lower, "__tests__")
}

// structuralApplicable reports whether symbols/ast lookups make sense for a
// path. Markup, styles, docs and tests are skipped with a not_applicable
// warning rather than a failure.
func structuralApplicable(path string) bool {
	return !isMarkupPath(path) && !isDocPath(path) && !isTestPath(path)
}

// impactApplicable reports whether the impact graph covers a path.
func impactApplicable(path string) bool {
	return !isMarkupPath(path) && !isDocPath(path)
}

// selectFiles scores every candidate and splits the survivors into focus and
// periphery. Force-focused files always land in focus; search evidence and
// request mentions drive the rest.
func (a *Assembler) selectFiles(request string, o resolvedOptions, results []types.QueryResult, intentCandidates []string, intents intentSet, bundle *types.ContextBundle, warn func(string)) types.Selection {
	scores := make(map[string]*candidate)
	bump := func(path string, delta float64, origin string, forced bool) {
		path = filepath.ToSlash(strings.TrimSpace(path))
		if path == "" || types.IsPlaceholderTarget(path) {
			return
		}
		c, ok := scores[path]
		if !ok {
			c = &candidate{path: path, origin: origin}
			scores[path] = c
		}
		c.score += delta
		if forced {
			c.forced = true
		}
	}

	for _, f := range o.ForceFocusFiles {
		bump(f, weightForceFocus, "force_focus", true)
	}
	for _, f := range o.PreferredFiles {
		bump(f, weightPreferred, "preferred", false)
	}
	for _, f := range mentionedPaths(request) {
		bump(f, weightMentioned, "request_mention", false)
	}
	for _, f := range o.RecentFiles {
		if types.IsPlaceholderTarget(f) {
			continue
		}
		bump(f, weightRecent, "recent", false)
	}
	for _, f := range intentCandidates {
		bump(f, weightIntent, "intent_candidate", false)
	}

	configExcluded := 0
	for _, qr := range results {
		for rank, hit := range qr.Hits {
			if lowRelevanceConfigHit(hit.Path, intents) {
				configExcluded++
				continue
			}
			// Rank decay keeps a long tail of weak hits out of focus.
			bump(hit.Path, hit.Score/float64(rank+1)+1.0, "search", false)
		}
	}
	if configExcluded > 0 {
		warn("librarian_config_hits_excluded")
	}

	ordered := make([]*candidate, 0, len(scores))
	for _, c := range scores {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].forced != ordered[j].forced {
			return ordered[i].forced
		}
		if ordered[i].score != ordered[j].score {
			return ordered[i].score > ordered[j].score
		}
		return ordered[i].path < ordered[j].path
	})

	var sel types.Selection
	bestScore := 0.0
	for _, c := range ordered {
		if len(sel.All) >= o.MaxFiles {
			break
		}
		// Candidates must exist in the workspace or the repo map; search hits
		// are trusted as index-backed.
		if c.origin != "search" && !c.forced && !a.existsInWorkspace(c.path) && !bundle.InRepoMap(c.path) {
			continue
		}
		sel.All = append(sel.All, c.path)
		if c.forced || c.score >= focusScoreFloor {
			sel.Focus = append(sel.Focus, c.path)
		} else {
			sel.Periphery = append(sel.Periphery, c.path)
		}
		if c.score > bestScore {
			bestScore = c.score
		}
	}

	// Script companions: UI-dominant focus on a code-writing request pulls in
	// sibling scripts that the markup almost certainly wires to.
	if isCodeWritingRequest(request) && markupDominant(sel.Focus) {
		for _, comp := range a.scriptCompanions(sel.Focus) {
			if !contains(sel.All, comp) && len(sel.All) < o.MaxFiles {
				sel.All = append(sel.All, comp)
				sel.Periphery = append(sel.Periphery, comp)
				warn("librarian_script_companions")
			}
		}
	}

	sel.LowConfidence = len(sel.Focus) == 0 || bestScore <= lowConfidenceCeiling
	logging.LibrarianDebug("Selection: %d focus, %d periphery, low_confidence=%v",
		len(sel.Focus), len(sel.Periphery), sel.LowConfidence)
	return sel
}

func markupDominant(paths []string) bool {
	if len(paths) == 0 {
		return false
	}
	markup := 0
	for _, p := range paths {
		if isMarkupPath(p) {
			markup++
		}
	}
	return markup*2 > len(paths)
}

// scriptCompanions finds sibling .js/.ts files for markup paths.
func (a *Assembler) scriptCompanions(paths []string) []string {
	var out []string
	for _, p := range paths {
		if !isMarkupPath(p) {
			continue
		}
		base := strings.TrimSuffix(p, filepath.Ext(p))
		for _, ext := range []string{".js", ".ts"} {
			comp := base + ext
			if a.existsInWorkspace(comp) {
				out = append(out, comp)
			}
		}
	}
	return out
}

func (a *Assembler) existsInWorkspace(path string) bool {
	info, err := os.Stat(filepath.Join(a.workspace, path))
	return err == nil && !info.IsDir()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
