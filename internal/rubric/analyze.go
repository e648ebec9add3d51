package rubric

import (
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

type IssueKind string

const (
	IssueUnknownRequirement IssueKind = "unknown_requirement"
	IssueSelfRequirement    IssueKind = "self_requirement"
	IssueDependencyCycle    IssueKind = "dependency_cycle"
	IssueNegativeWeight     IssueKind = "negative_weight"
	IssueUnknownType        IssueKind = "unknown_type"
)

// Issue is a property of a rubric that does not stop it from loading but
// that will surface as failing results at evaluation time.
type Issue struct {
	TestID string
	Kind   IssueKind
	Detail string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.TestID, i.Kind, i.Detail)
}

// Analyze inspects the dependency graph and weights of a loaded rubric.
func (d *Document) Analyze() []Issue {
	var issues []Issue
	ids := mapset.NewThreadUnsafeSet[string]()
	for _, t := range d.Tests {
		ids.Add(t.ID)
	}

	for _, t := range d.Tests {
		if t.Score < 0 {
			issues = append(issues, Issue{t.ID, IssueNegativeWeight, fmt.Sprintf("score %g", t.Score)})
		}
		if u, ok := t.Check.(Unknown); ok {
			issues = append(issues, Issue{t.ID, IssueUnknownType, fmt.Sprintf("type %q is not supported", u.Type)})
		}
		for _, req := range t.Requires {
			switch {
			case req == t.ID:
				issues = append(issues, Issue{t.ID, IssueSelfRequirement, "test requires itself"})
			case !ids.Contains(req):
				issues = append(issues, Issue{t.ID, IssueUnknownRequirement, fmt.Sprintf("requires %q which is not defined", req)})
			}
		}
	}

	for _, cycle := range d.cycles() {
		issues = append(issues, Issue{cycle[0], IssueDependencyCycle, strings.Join(cycle, " -> ")})
	}
	return issues
}

// cycles returns each dependency cycle once, as a closed path. Self loops
// are reported separately by Analyze.
func (d *Document) cycles() [][]string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(d.Tests))
	seen := mapset.NewThreadUnsafeSet[string]()
	var (
		stack []string
		found [][]string
		visit func(id string)
	)
	visit = func(id string) {
		color[id] = grey
		stack = append(stack, id)
		spec, _ := d.Lookup(id)
		for _, req := range spec.Requires {
			if req == id {
				continue
			}
			if _, ok := d.Lookup(req); !ok {
				continue
			}
			switch color[req] {
			case white:
				visit(req)
			case grey:
				start := len(stack) - 1
				for stack[start] != req {
					start--
				}
				cycle := append(append([]string{}, stack[start:]...), req)
				key := canonicalCycle(cycle[:len(cycle)-1])
				if seen.Add(key) {
					found = append(found, cycle)
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}
	for _, t := range d.Tests {
		if color[t.ID] == white {
			visit(t.ID)
		}
	}
	return found
}

func canonicalCycle(ids []string) string {
	min := 0
	for i := range ids {
		if ids[i] < ids[min] {
			min = i
		}
	}
	rotated := append(append([]string{}, ids[min:]...), ids[:min]...)
	return strings.Join(rotated, "\x00")
}
