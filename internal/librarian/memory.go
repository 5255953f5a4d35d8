package librarian

import (
	"strings"

	"mcoda/internal/logging"
	"mcoda/internal/types"
)

// Negative existential markers. A fact carrying one of these claims its
// entity is absent; a positive fact about the same entity contradicts it.
var negativeMarkers = []string{
	"does not exist", "doesn't exist", "no longer exists", "was removed",
	"was deleted", "has been removed", "has been deleted", "is gone",
	"not present", "never existed",
}

var positiveMarkers = []string{
	"exists", "was added", "is present", "was created", "uses", "lives in",
	"is defined", "contains",
}

func existentialPolarity(fact string) int {
	lower := strings.ToLower(fact)
	for _, m := range negativeMarkers {
		if strings.Contains(lower, m) {
			return -1
		}
	}
	for _, m := range positiveMarkers {
		if strings.Contains(lower, m) {
			return 1
		}
	}
	return 0
}

// pruneMemory deduplicates recalled facts, resolves pairwise contradictions
// (same entity, opposite existential claims, higher score wins) and drops
// facts relevant to neither the request nor the focus files.
func pruneMemory(facts []types.MemoryFact, signals types.QuerySignals, focus []string, warn func(string)) []types.MemoryFact {
	if len(facts) == 0 {
		return nil
	}

	// Dedup on fact text.
	seen := make(map[string]bool)
	var deduped []types.MemoryFact
	for _, f := range facts {
		key := strings.ToLower(strings.TrimSpace(f.Fact))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, f)
	}

	// Contradiction pruning.
	dropped := make(map[int]bool)
	conflicts := 0
	for i := 0; i < len(deduped); i++ {
		for j := i + 1; j < len(deduped); j++ {
			if dropped[i] || dropped[j] {
				continue
			}
			a, b := deduped[i], deduped[j]
			if a.Entity == "" || a.Entity != b.Entity {
				continue
			}
			pa, pb := existentialPolarity(a.Fact), existentialPolarity(b.Fact)
			if pa == 0 || pb == 0 || pa == pb {
				continue
			}
			conflicts++
			if a.Score >= b.Score {
				dropped[j] = true
			} else {
				dropped[i] = true
			}
		}
	}
	if conflicts > 0 {
		warn("memory_conflicts_pruned")
		logging.LibrarianDebug("Pruned %d contradicting memory pairs", conflicts)
	}

	// Relevance filter: keep facts whose words overlap the request keywords
	// or name a focus file.
	keywords := make(map[string]bool)
	for _, k := range signals.Keywords {
		keywords[strings.ToLower(k)] = true
	}

	irrelevant := 0
	var out []types.MemoryFact
	for i, f := range deduped {
		if dropped[i] {
			continue
		}
		if memoryRelevant(f, keywords, focus) {
			out = append(out, f)
		} else {
			irrelevant++
		}
	}
	if irrelevant > 0 {
		warn("memory_irrelevant_filtered")
	}
	return out
}

func memoryRelevant(f types.MemoryFact, keywords map[string]bool, focus []string) bool {
	lower := strings.ToLower(f.Fact + " " + f.Entity)
	for _, path := range focus {
		if strings.Contains(lower, strings.ToLower(path)) {
			return true
		}
	}
	for _, word := range strings.Fields(lower) {
		trimmed := strings.Trim(word, ".,;:'\"`()")
		if keywords[trimmed] {
			return true
		}
	}
	return false
}
