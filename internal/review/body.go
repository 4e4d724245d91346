package review

import (
	"fmt"
	"strings"

	"github.com/coverhub/coverhub/internal/coverage"
)

// Body is the structured pull request description. Callers fill in what
// they have; Render skips empty sections.
type Body struct {
	Summary         string          `json:"summary,omitempty"`
	CoverageDelta   *coverage.Delta `json:"coverage_delta,omitempty"`
	ClassesImproved []string        `json:"classes_improved,omitempty"`
	BugsFound       []string        `json:"bugs_found,omitempty"`
	NextSteps       string          `json:"next_steps,omitempty"`
}

const bodyTrailer = "Automated coverage agent update."

// Render produces the markdown body handed to the hosting CLI.
func (b Body) Render() string {
	var sb strings.Builder

	if b.Summary != "" {
		sb.WriteString(b.Summary)
		sb.WriteString("\n")
	}
	if d := b.CoverageDelta; d != nil {
		sb.WriteString("\n## Coverage\n")
		fmt.Fprintf(&sb, "- Line: %.2f%% -> %.2f%% (%+.2f)\n", d.Before.LinePercent, d.After.LinePercent, d.LineDelta)
		fmt.Fprintf(&sb, "- Branch: %.2f%% -> %.2f%%\n", d.Before.BranchPercent, d.After.BranchPercent)
	}
	if len(b.ClassesImproved) > 0 {
		sb.WriteString("\n## Classes improved\n")
		for _, c := range b.ClassesImproved {
			fmt.Fprintf(&sb, "- `%s`\n", c)
		}
	}
	if len(b.BugsFound) > 0 {
		sb.WriteString("\n## Bugs found\n")
		for _, note := range b.BugsFound {
			fmt.Fprintf(&sb, "- %s\n", note)
		}
	}
	if b.NextSteps != "" {
		sb.WriteString("\n## Next steps\n")
		sb.WriteString(b.NextSteps)
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(bodyTrailer)
	return sb.String()
}
