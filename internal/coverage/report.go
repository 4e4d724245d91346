// Package coverage reads JaCoCo XML reports into a normalized per-class
// model. Classes come back worst-covered first so the orchestrator gets a
// stable priority order without re-sorting.
package coverage

import "math"

// MethodCoverage records whether a single method has any covering test.
type MethodCoverage struct {
	Name    string `json:"name"`
	Covered bool   `json:"covered"`
}

// ClassCoverage is the merged coverage of one fully-qualified class.
// Reports may mention the same class under several packages or source
// files; all of those entries are summed into a single ClassCoverage.
type ClassCoverage struct {
	Name                string           `json:"name"`
	LinesCovered        int              `json:"lines_covered"`
	LinesTotal          int              `json:"lines_total"`
	BranchesCovered     int              `json:"branches_covered"`
	BranchesTotal       int              `json:"branches_total"`
	InstructionsCovered int              `json:"instructions_covered"`
	InstructionsTotal   int              `json:"instructions_total"`
	Methods             []MethodCoverage `json:"methods,omitempty"`
}

// LinesMissed is the sort key for the worst-covered-first ordering.
func (c ClassCoverage) LinesMissed() int {
	return c.LinesTotal - c.LinesCovered
}

// LinePercent reports 100.0 for empty classes so callers never divide by zero.
func (c ClassCoverage) LinePercent() float64 {
	return Percent(c.LinesCovered, c.LinesTotal)
}

// Report is the normalized result of one parse call.
type Report struct {
	Classes []ClassCoverage `json:"classes"`
	Summary Summary         `json:"summary"`
}

// Summary aggregates line/branch/instruction counters across all classes.
type Summary struct {
	LinesCovered        int `json:"lines_covered"`
	LinesTotal          int `json:"lines_total"`
	BranchesCovered     int `json:"branches_covered"`
	BranchesTotal       int `json:"branches_total"`
	InstructionsCovered int `json:"instructions_covered"`
	InstructionsTotal   int `json:"instructions_total"`

	LinePercent        float64 `json:"line_percent"`
	BranchPercent      float64 `json:"branch_percent"`
	InstructionPercent float64 `json:"instruction_percent"`
}

// Delta compares two summaries. Improvement granularity is aggregate line
// coverage non-decrease.
type Delta struct {
	Before    Summary `json:"before"`
	After     Summary `json:"after"`
	LineDelta float64 `json:"line_delta"`
	Improved  bool    `json:"improved"`
}

// Percent returns covered/(covered+missed) as a percentage rounded to two
// decimals. A zero total is reported as 100.0 rather than dividing by zero.
func Percent(covered, total int) float64 {
	if total == 0 {
		return 100.0
	}
	return math.Round(10000*float64(covered)/float64(total)) / 100
}

func summarize(classes []ClassCoverage) Summary {
	var s Summary
	for _, c := range classes {
		s.LinesCovered += c.LinesCovered
		s.LinesTotal += c.LinesTotal
		s.BranchesCovered += c.BranchesCovered
		s.BranchesTotal += c.BranchesTotal
		s.InstructionsCovered += c.InstructionsCovered
		s.InstructionsTotal += c.InstructionsTotal
	}
	s.LinePercent = Percent(s.LinesCovered, s.LinesTotal)
	s.BranchPercent = Percent(s.BranchesCovered, s.BranchesTotal)
	s.InstructionPercent = Percent(s.InstructionsCovered, s.InstructionsTotal)
	return s
}

// ComputeDelta builds the before/after comparison used in commit messages
// and pull request bodies.
func ComputeDelta(before, after Summary) Delta {
	return Delta{
		Before:    before,
		After:     after,
		LineDelta: math.Round(100*(after.LinePercent-before.LinePercent)) / 100,
		Improved:  after.LinePercent >= before.LinePercent,
	}
}
