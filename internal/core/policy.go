package core

import (
	"strings"
)

// Policy enforces the optional tool allowlist parsed from a comma-separated
// env var. An empty allowlist permits every tool; a non-empty one restricts
// dispatch to exactly the named tools.
type Policy struct {
	allowedTools map[string]bool
}

// NewPolicy creates a Policy from a comma-separated allowlist string.
func NewPolicy(toolCSV string) *Policy {
	return &Policy{allowedTools: parseCSV(toolCSV)}
}

// CheckTool returns a kinded error if toolName is excluded by the allowlist.
func (p *Policy) CheckTool(toolName string) error {
	if len(p.allowedTools) == 0 {
		return nil
	}
	if !p.allowedTools[toolName] {
		return Errorf(KindToolNotAllowed, "tool %q not in allowlist", toolName)
	}
	return nil
}

func parseCSV(s string) map[string]bool {
	m := make(map[string]bool)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			m[item] = true
		}
	}
	return m
}
