// Package workflow orders provisioning steps by dependency, executes them
// with persisted checkpoints, and rolls back created resources on failure.
package workflow

import (
	"fmt"

	"github.com/stacktier/stacktier/internal/state"
)

// StepStatus tracks one step through a workflow run.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepSucceeded  StepStatus = "succeeded"
	StepFailed     StepStatus = "failed"
)

// Step is one node in the provisioning graph.
type Step struct {
	Name      string
	DependsOn []string

	// Families lists the resource families this step owns, in creation
	// order. Rollback uses the mapping to route each persisted record back
	// to its provisioner.
	Families []state.Family
}

// Graph is a validated dependency graph over named steps.
type Graph struct {
	steps  []Step
	byName map[string]Step
	order  []string
}

// NewGraph validates the step set and computes a topological order. Steps
// naming unknown or cyclic dependencies are rejected.
func NewGraph(steps ...Step) (*Graph, error) {
	g := &Graph{steps: steps, byName: make(map[string]Step, len(steps))}
	for _, s := range steps {
		if _, dup := g.byName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate step %q", s.Name)
		}
		g.byName[s.Name] = s
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if _, ok := g.byName[dep]; !ok {
				return nil, fmt.Errorf("step %q depends on unknown step %q", s.Name, dep)
			}
		}
	}

	order, err := g.sort()
	if err != nil {
		return nil, err
	}
	g.order = order
	return g, nil
}

// sort is a depth-first topological sort with cycle detection.
func (g *Graph) sort() ([]string, error) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	marks := make(map[string]int, len(g.steps))
	order := make([]string, 0, len(g.steps))

	var visit func(name string) error
	visit = func(name string) error {
		switch marks[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle through step %q", name)
		}
		marks[name] = visiting
		for _, dep := range g.byName[name].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		marks[name] = done
		order = append(order, name)
		return nil
	}

	for _, s := range g.steps {
		if err := visit(s.Name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Order returns the step names in dependency order.
func (g *Graph) Order() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Step returns the definition of a named step.
func (g *Graph) Step(name string) (Step, bool) {
	s, ok := g.byName[name]
	return s, ok
}

// Ready reports whether every dependency of a step has succeeded.
func (g *Graph) Ready(name string, succeeded func(string) bool) bool {
	for _, dep := range g.byName[name].DependsOn {
		if !succeeded(dep) {
			return false
		}
	}
	return true
}

// OwnerOf returns the name of the step owning a resource family.
func (g *Graph) OwnerOf(family state.Family) (string, bool) {
	for _, s := range g.steps {
		for _, f := range s.Families {
			if f == family {
				return s.Name, true
			}
		}
	}
	return "", false
}
