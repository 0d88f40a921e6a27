// Package graph compiles a task's normalized RunStep sequence into an
// execution graph: task-reference steps are recursively flattened into the
// referenced task's own steps, implicit linear-chain edges are inserted
// when a task declares no depends_on at all, and the result is validated
// for dangling references and cycles.
package graph

import (
	"fmt"

	"github.com/effigy/effigy/pkg/errs"
	"github.com/effigy/effigy/pkg/shelltoken"
	"github.com/effigy/effigy/pkg/types"
)

// Resolver returns the fully-compiled steps for a task reference selector.
// The caller is expected to have already merged the reference's inline
// args as passthrough into whatever it compiles.
type Resolver func(selector string) ([]types.RunStep, error)

// Compile produces the final flattened, validated node list for one task
// invocation. passthroughArgs are merged into this task's own top-level
// steps only: appended to exec commands, concatenated into ref inline args.
func Compile(steps []types.RunStep, passthroughArgs []string, resolve Resolver) ([]types.RunStep, error) {
	working := applyPassthrough(steps, passthroughArgs)
	working = applyImplicitChain(working)

	if err := validateUniqueIDs(working); err != nil {
		return nil, err
	}
	if err := validateDependsOn(working); err != nil {
		return nil, err
	}
	if cycle := findCycle(working); cycle != nil {
		return nil, &errs.GraphCycle{Cycle: cycle}
	}

	flattened, err := flatten(working, resolve)
	if err != nil {
		return nil, err
	}

	if err := validateDependsOn(flattened); err != nil {
		return nil, err
	}
	if cycle := findCycle(flattened); cycle != nil {
		return nil, &errs.GraphCycle{Cycle: cycle}
	}
	return flattened, nil
}

func applyPassthrough(steps []types.RunStep, args []string) []types.RunStep {
	if len(args) == 0 {
		return steps
	}
	out := make([]types.RunStep, len(steps))
	for i, s := range steps {
		switch s.Kind {
		case types.StepKindExec:
			s.Command = s.Command + " " + shelltoken.QuoteAll(args)
		case types.StepKindRef:
			merged := make([]string, 0, len(s.InlineArgs)+len(args))
			merged = append(merged, s.InlineArgs...)
			merged = append(merged, args...)
			s.InlineArgs = merged
		}
		out[i] = s
	}
	return out
}

// applyImplicitChain inserts edges between consecutive declared steps when
// none of them declare any depends_on at all (§4.5: "A task with zero
// depends_on edges behaves as a linear chain in declaration order").
func applyImplicitChain(steps []types.RunStep) []types.RunStep {
	for _, s := range steps {
		if len(s.DependsOn) > 0 {
			return steps
		}
	}
	out := make([]types.RunStep, len(steps))
	copy(out, steps)
	for i := 1; i < len(out); i++ {
		out[i].DependsOn = []string{out[i-1].ID}
	}
	return out
}

func validateUniqueIDs(steps []types.RunStep) error {
	seen := make(map[string]bool, len(steps))
	for _, s := range steps {
		if seen[s.ID] {
			return fmt.Errorf("duplicate step id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

func validateDependsOn(steps []types.RunStep) error {
	ids := make(map[string]bool, len(steps))
	for _, s := range steps {
		ids[s.ID] = true
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if dep == s.ID {
				return &errs.GraphCycle{Cycle: []string{s.ID, s.ID}}
			}
			if !ids[dep] {
				return &errs.GraphBadRef{Step: s.ID, Ref: dep}
			}
		}
	}
	return nil
}

// findCycle runs DFS with three-color marking over the depends_on edges
// (step -> its dependencies) and returns the ordered node list of the first
// cycle found, or nil if the graph is acyclic.
func findCycle(steps []types.RunStep) []string {
	deps := make(map[string][]string, len(steps))
	for _, s := range steps {
		deps[s.ID] = s.DependsOn
	}

	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(steps))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				// found the back edge; slice the stack from dep's position.
				for i, v := range stack {
					if v == dep {
						cycle := append([]string{}, stack[i:]...)
						return append(cycle, dep)
					}
				}
				return []string{dep}
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, s := range steps {
		if color[s.ID] == white {
			if cycle := visit(s.ID); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// flatten recursively replaces ref-kind steps with the referenced task's
// own compiled steps, namespacing their ids to avoid collisions and
// rewiring edges so dependents of the ref now depend on its expansion's
// sink nodes, and the expansion's entry nodes inherit the ref's own
// dependencies.
func flatten(steps []types.RunStep, resolve Resolver) ([]types.RunStep, error) {
	expansions := make(map[string][]types.RunStep)
	sinks := make(map[string][]string)
	entryIdx := make(map[string][]int) // parent id -> indices into expansions[parent] that are entries

	for _, s := range steps {
		if s.Kind != types.StepKindRef {
			continue
		}
		sub, err := resolve(s.Selector)
		if err != nil {
			return nil, err
		}

		translate := make(map[string]string, len(sub))
		for _, ss := range sub {
			translate[ss.ID] = fmt.Sprintf("%s»%s", s.ID, ss.ID)
		}
		namespaced := make([]types.RunStep, len(sub))
		hasDependent := make(map[string]bool, len(sub))
		for i, ss := range sub {
			ss.ID = translate[ss.ID]
			newDeps := make([]string, len(ss.DependsOn))
			for k, d := range ss.DependsOn {
				newDeps[k] = translate[d]
				hasDependent[newDeps[k]] = true
			}
			ss.DependsOn = newDeps
			namespaced[i] = ss
		}

		var entries []int
		var sinkIDs []string
		for i, ss := range namespaced {
			if len(ss.DependsOn) == 0 {
				entries = append(entries, i)
			}
			if !hasDependent[ss.ID] {
				sinkIDs = append(sinkIDs, ss.ID)
			}
		}

		expansions[s.ID] = namespaced
		sinks[s.ID] = sinkIDs
		entryIdx[s.ID] = entries
	}

	if len(expansions) == 0 {
		return steps, nil
	}

	// Wire each expansion's entry nodes to inherit the parent ref's own
	// dependencies, substituting any dependency that is itself a ref id
	// with that ref's sinks.
	for parentID, namespaced := range expansions {
		var parent *types.RunStep
		for i := range steps {
			if steps[i].ID == parentID {
				parent = &steps[i]
				break
			}
		}
		inherited := make([]string, 0, len(parent.DependsOn))
		for _, d := range parent.DependsOn {
			if s, ok := sinks[d]; ok {
				inherited = append(inherited, s...)
			} else {
				inherited = append(inherited, d)
			}
		}
		for _, idx := range entryIdx[parentID] {
			namespaced[idx].DependsOn = inherited
		}
	}

	out := make([]types.RunStep, 0, len(steps))
	for _, s := range steps {
		if s.Kind == types.StepKindRef {
			out = append(out, expansions[s.ID]...)
			continue
		}
		newDeps := make([]string, 0, len(s.DependsOn))
		for _, d := range s.DependsOn {
			if sinkIDs, ok := sinks[d]; ok {
				newDeps = append(newDeps, sinkIDs...)
			} else {
				newDeps = append(newDeps, d)
			}
		}
		s.DependsOn = newDeps
		out = append(out, s)
	}
	return out, nil
}
