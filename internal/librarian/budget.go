package librarian

import (
	"mcoda/internal/lanes"
	"mcoda/internal/logging"
	"mcoda/internal/types"
)

// enforceBudget trims the loaded files to the MaxFiles / MaxTotalBytes /
// TokenBudget limits. Periphery files are dropped before focus files; when
// anything is dropped a context_budget_pruned warning is added and the
// selection is rewritten to match the surviving files.
func (a *Assembler) enforceBudget(bundle *types.ContextBundle, o resolvedOptions, warn func(string)) {
	pruned := false

	overBudget := func() bool {
		if len(bundle.Files) > o.MaxFiles {
			return true
		}
		total := 0
		for _, f := range bundle.Files {
			total += f.Size
		}
		if total > o.MaxTotalBytes {
			return true
		}
		tokens := 0
		for _, f := range bundle.Files {
			tokens += lanes.EstimateTokens(f.Content)
		}
		return tokens > o.TokenBudget
	}

	dropLast := func(role types.FileRole) bool {
		for i := len(bundle.Files) - 1; i >= 0; i-- {
			if bundle.Files[i].Role == role {
				bundle.Files = append(bundle.Files[:i], bundle.Files[i+1:]...)
				return true
			}
		}
		return false
	}

	for overBudget() {
		if !dropLast(types.FileRolePeriphery) && !dropLast(types.FileRoleFocus) {
			break
		}
		pruned = true
	}

	if pruned {
		warn("context_budget_pruned")
		rebuildSelection(bundle)
		logging.LibrarianDebug("Budget pruning left %d files", len(bundle.Files))
	}
}

// rebuildSelection restores the selection invariants after pruning: focus and
// periphery only reference files still present in the bundle.
func rebuildSelection(bundle *types.ContextBundle) {
	kept := make(map[string]types.FileRole, len(bundle.Files))
	for _, f := range bundle.Files {
		kept[f.Path] = f.Role
	}

	filter := func(paths []string, role types.FileRole) []string {
		var out []string
		for _, p := range paths {
			if kept[p] == role {
				out = append(out, p)
			}
		}
		return out
	}

	bundle.Selection.Focus = filter(bundle.Selection.Focus, types.FileRoleFocus)
	bundle.Selection.Periphery = filter(bundle.Selection.Periphery, types.FileRolePeriphery)

	var all []string
	for _, p := range bundle.Selection.All {
		if _, ok := kept[p]; ok {
			all = append(all, p)
		}
	}
	bundle.Selection.All = all
}
