package librarian

import (
	"os"
	"path/filepath"
	"strings"

	"mcoda/internal/types"
)

const readmeSummaryLimit = 400

// projectInfo locates the workspace readme and condenses its opening
// paragraph. Missing readmes are normal; the bundle just carries the root.
func (a *Assembler) projectInfo() types.ProjectInfo {
	info := types.ProjectInfo{WorkspaceRoot: a.workspace}

	for _, name := range []string{"README.md", "readme.md", "README", "README.rst"} {
		path := filepath.Join(a.workspace, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		info.ReadmePath = name
		info.ReadmeSummary = readmeSummary(string(data))
		break
	}
	return info
}

func readmeSummary(content string) string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if len(lines) > 0 {
				break
			}
			continue
		}
		if strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "![") ||
			strings.HasPrefix(trimmed, "[!") {
			continue
		}
		lines = append(lines, trimmed)
	}
	summary := strings.Join(lines, " ")
	if len(summary) > readmeSummaryLimit {
		summary = summary[:readmeSummaryLimit]
	}
	return summary
}
