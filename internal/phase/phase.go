// Package phase defines the closed, ordered vocabulary of workflow phases.
// Phase lists arrive as strings on the CLI; they are validated against this
// vocabulary at configuration time so an invalid name never reaches a run.
package phase

import (
	"fmt"
	"strings"
)

// Name identifies a phase in the fixed vocabulary
type Name string

const (
	Plan          Name = "plan"
	GenerateTests Name = "generate-tests"
	Implement     Name = "implement"
	UITest        Name = "ui-test"
	Review        Name = "review"
	Fix           Name = "fix"
)

// Class groups phases for retry budgeting. Review loops are costlier and
// more likely to need human intervention, so they get a smaller cap.
type Class string

const (
	ClassImplementation Class = "implementation"
	ClassReview         Class = "review"
)

// def describes one phase's fixed properties
type def struct {
	display   string
	class     Class
	mutates   bool // runs inside the issue workspace
	canonical int  // position in the canonical ordering
}

var defs = map[Name]def{
	Plan:          {display: "Plan", class: ClassImplementation, mutates: false, canonical: 0},
	GenerateTests: {display: "Generate Tests", class: ClassImplementation, mutates: true, canonical: 1},
	Implement:     {display: "Implement", class: ClassImplementation, mutates: true, canonical: 2},
	UITest:        {display: "UI Test", class: ClassImplementation, mutates: true, canonical: 3},
	Review:        {display: "Review", class: ClassReview, mutates: false, canonical: 4},
	Fix:           {display: "Fix", class: ClassImplementation, mutates: true, canonical: 5},
}

// DefaultList is the phase sequence used when none is configured.
// Fix is deliberately absent: it only runs inside quality loops.
var DefaultList = []Name{Plan, GenerateTests, Implement, Review}

// Valid reports whether the name is part of the vocabulary
func (n Name) Valid() bool {
	_, ok := defs[n]
	return ok
}

// String returns the wire form of the name
func (n Name) String() string { return string(n) }

// Display returns the human-readable label for the phase
func (n Name) Display() string {
	if d, ok := defs[n]; ok {
		return d.display
	}
	return string(n)
}

// Class returns the retry-budget class of the phase
func (n Name) Class() Class {
	if d, ok := defs[n]; ok {
		return d.class
	}
	return ClassImplementation
}

// MutatesWorkspace reports whether the phase modifies or executes code and
// therefore must run inside the issue's worktree. Planning-only phases run
// against the orchestrator's own checkout.
func (n Name) MutatesWorkspace() bool {
	if d, ok := defs[n]; ok {
		return d.mutates
	}
	return true
}

// IterationCaps holds the per-class quality-loop budgets
type IterationCaps struct {
	Implementation int
	Review         int
}

// DefaultCaps returns the standard retry budgets
func DefaultCaps() IterationCaps {
	return IterationCaps{Implementation: 3, Review: 2}
}

// For returns the cap for a phase's class
func (c IterationCaps) For(n Name) int {
	if n.Class() == ClassReview {
		return c.Review
	}
	return c.Implementation
}

// ParseList validates a comma-separated phase list. Order is preserved as
// given; duplicates and unknown names are configuration errors.
func ParseList(s string) ([]Name, error) {
	if strings.TrimSpace(s) == "" {
		return append([]Name(nil), DefaultList...), nil
	}

	seen := make(map[Name]bool)
	var names []Name
	for _, part := range strings.Split(s, ",") {
		n := Name(strings.TrimSpace(part))
		if n == "" {
			continue
		}
		if !n.Valid() {
			return nil, fmt.Errorf("unknown phase %q (valid: %s)", n, strings.Join(allNames(), ", "))
		}
		if n == Fix {
			return nil, fmt.Errorf("phase %q is reserved for quality loops and cannot appear in a phase list", Fix)
		}
		if seen[n] {
			return nil, fmt.Errorf("duplicate phase %q in phase list", n)
		}
		seen[n] = true
		names = append(names, n)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("phase list is empty")
	}
	return names, nil
}

// Strings converts a phase list to its wire form
func Strings(names []Name) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}

func allNames() []string {
	out := make([]string, 0, len(defs))
	for n := range defs {
		out = append(out, string(n))
	}
	// Stable order for error messages
	ordered := []Name{Plan, GenerateTests, Implement, UITest, Review, Fix}
	out = out[:0]
	for _, n := range ordered {
		out = append(out, string(n))
	}
	return out
}
