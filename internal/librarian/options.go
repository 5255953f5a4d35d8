package librarian

import (
	"mcoda/internal/logging"
	"mcoda/internal/types"
)

// Documented bounds for the depth overrides. Values outside the range are
// clamped with a context_option_clamped event per clamp; zero means "use the
// configured default" and is never a clamp.
const (
	minQueries    = 1
	maxQueries    = 12
	minFiles      = 1
	maxFiles      = 40
	minTotalBytes = 16 * 1024
	maxTotalBytes = 4 * 1024 * 1024
	minTokens     = 1000
	maxTokens     = 200000
)

// resolvedOptions are AssembleOptions after defaulting and clamping.
type resolvedOptions struct {
	types.AssembleOptions
}

func (a *Assembler) clampOptions(opts types.AssembleOptions) resolvedOptions {
	o := resolvedOptions{AssembleOptions: opts}

	clamp := func(name string, val, def, lo, hi int) int {
		if val == 0 {
			return def
		}
		clamped := val
		if clamped < lo {
			clamped = lo
		}
		if clamped > hi {
			clamped = hi
		}
		if clamped != val {
			logging.LibrarianDebug("Clamped option %s: %d -> %d", name, val, clamped)
			a.emit("context_option_clamped", map[string]interface{}{
				"option":    name,
				"requested": val,
				"clamped":   clamped,
			})
		}
		return clamped
	}

	o.MaxQueries = clamp("max_queries", opts.MaxQueries, a.cfg.MaxQueries, minQueries, maxQueries)
	o.MaxFiles = clamp("max_files", opts.MaxFiles, a.cfg.MaxFiles, minFiles, maxFiles)
	o.MaxTotalBytes = clamp("max_total_bytes", opts.MaxTotalBytes, a.cfg.MaxTotalBytes, minTotalBytes, maxTotalBytes)
	o.TokenBudget = clamp("token_budget", opts.TokenBudget, a.cfg.TokenBudget, minTokens, maxTokens)

	return o
}
