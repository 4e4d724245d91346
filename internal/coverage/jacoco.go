package coverage

import (
	"encoding/xml"
	"os"
	"sort"
	"strings"

	"github.com/coverhub/coverhub/internal/core"
)

type xmlCounter struct {
	Type    string `xml:"type,attr"`
	Missed  int    `xml:"missed,attr"`
	Covered int    `xml:"covered,attr"`
}

type xmlMethod struct {
	Name     string       `xml:"name,attr"`
	Counters []xmlCounter `xml:"counter"`
}

type xmlClass struct {
	Name     string       `xml:"name,attr"`
	Methods  []xmlMethod  `xml:"method"`
	Counters []xmlCounter `xml:"counter"`
}

type xmlPackage struct {
	Name     string       `xml:"name,attr"`
	Classes  []xmlClass   `xml:"class"`
	Packages []xmlPackage `xml:"package"`
	Groups   []xmlGroup   `xml:"group"`
}

type xmlGroup struct {
	Name     string       `xml:"name,attr"`
	Packages []xmlPackage `xml:"package"`
	Groups   []xmlGroup   `xml:"group"`
}

type xmlReport struct {
	XMLName  xml.Name     `xml:"report"`
	Packages []xmlPackage `xml:"package"`
	Groups   []xmlGroup   `xml:"group"`
}

// Parse reads a JaCoCo XML report from path. Duplicate entries for the
// same fully-qualified class are merged additively and the result is
// ordered by missed lines descending, class name ascending.
func Parse(path string) (*Report, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.Errorf(core.KindNotFound, "coverage report %q does not exist", path)
		}
		return nil, core.Errorf(core.KindNotFound, "coverage report %q: %v", path, err)
	}

	var doc xmlReport
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, core.Errorf(core.KindMalformedReport, "parse coverage report %q: %v", path, err)
	}

	merged := make(map[string]*ClassCoverage)
	counters := 0
	collectPackages(doc.Packages, merged, &counters)
	collectGroups(doc.Groups, merged, &counters)

	if counters == 0 {
		return nil, core.Errorf(core.KindMalformedReport, "coverage report %q has no counter elements", path)
	}

	classes := make([]ClassCoverage, 0, len(merged))
	for _, c := range merged {
		classes = append(classes, *c)
	}
	sort.Slice(classes, func(i, j int) bool {
		if classes[i].LinesMissed() != classes[j].LinesMissed() {
			return classes[i].LinesMissed() > classes[j].LinesMissed()
		}
		return classes[i].Name < classes[j].Name
	})

	return &Report{Classes: classes, Summary: summarize(classes)}, nil
}

func collectGroups(groups []xmlGroup, merged map[string]*ClassCoverage, counters *int) {
	for _, g := range groups {
		collectPackages(g.Packages, merged, counters)
		collectGroups(g.Groups, merged, counters)
	}
}

func collectPackages(pkgs []xmlPackage, merged map[string]*ClassCoverage, counters *int) {
	for _, p := range pkgs {
		for _, cls := range p.Classes {
			mergeClass(merged, cls, counters)
		}
		collectPackages(p.Packages, merged, counters)
		collectGroups(p.Groups, merged, counters)
	}
}

func mergeClass(merged map[string]*ClassCoverage, cls xmlClass, counters *int) {
	name := qualifiedName(cls.Name)
	c, ok := merged[name]
	if !ok {
		c = &ClassCoverage{Name: name}
		merged[name] = c
	}

	for _, counter := range cls.Counters {
		*counters++
		switch counter.Type {
		case "LINE":
			c.LinesCovered += counter.Covered
			c.LinesTotal += counter.Covered + counter.Missed
		case "BRANCH":
			c.BranchesCovered += counter.Covered
			c.BranchesTotal += counter.Covered + counter.Missed
		case "INSTRUCTION":
			c.InstructionsCovered += counter.Covered
			c.InstructionsTotal += counter.Covered + counter.Missed
		}
	}

	for _, m := range cls.Methods {
		*counters += len(m.Counters)
		c.Methods = append(c.Methods, MethodCoverage{Name: m.Name, Covered: methodCovered(m)})
	}
}

// methodCovered prefers the METHOD counter; older reports only carry
// LINE or INSTRUCTION counters at method scope.
func methodCovered(m xmlMethod) bool {
	for _, counter := range m.Counters {
		if counter.Type == "METHOD" {
			return counter.Covered > 0
		}
	}
	for _, counter := range m.Counters {
		if counter.Type == "LINE" || counter.Type == "INSTRUCTION" {
			if counter.Covered > 0 {
				return true
			}
		}
	}
	return false
}

// JaCoCo writes class names with '/' separators.
func qualifiedName(name string) string {
	return strings.ReplaceAll(name, "/", ".")
}
