// Package flake propagates a nix flake update through a chain of
// dependent repositories: when one repo is pushed, every repo whose
// flake inputs transitively include it gets its lock updated, committed,
// and pushed, in dependency order.
package flake

import (
	"fmt"
	"sort"
)

// Step is one repo to update and the flake inputs to pass to
// `nix flake update`.
type Step struct {
	Repo   string
	Inputs []string
}

// ComputeChain returns the ordered steps to run after changed was
// pushed. deps maps each repo to the flake inputs it depends on.
//
// The chain is the set of transitively affected repos, topologically
// sorted so no repo updates before an input it depends on. Each step
// only updates the inputs that are changed itself or were updated by an
// earlier step.
func ComputeChain(changed string, deps map[string][]string) ([]Step, error) {
	// Reverse map: input -> repos that depend on it.
	reverse := make(map[string][]string)
	for repo, inputs := range deps {
		for _, input := range inputs {
			reverse[input] = append(reverse[input], repo)
		}
	}

	// BFS from changed to find every transitively affected repo.
	affected := make(map[string]bool)
	queue := []string{changed}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dependent := range reverse[current] {
			if !affected[dependent] {
				affected[dependent] = true
				queue = append(queue, dependent)
			}
		}
	}
	if len(affected) == 0 {
		return nil, nil
	}

	// Kahn's topological sort restricted to the affected set.
	inDegree := make(map[string]int, len(affected))
	forward := make(map[string][]string)
	for repo := range affected {
		inDegree[repo] += 0
		for _, input := range deps[repo] {
			if affected[input] || input == changed {
				forward[input] = append(forward[input], repo)
				if input != changed {
					inDegree[repo]++
				}
			}
		}
	}

	var ready []string
	for repo, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, repo)
		}
	}
	sort.Strings(ready) // deterministic order among independent repos

	var sorted []string
	for len(ready) > 0 {
		repo := ready[0]
		ready = ready[1:]
		sorted = append(sorted, repo)

		var unlocked []string
		for _, dependent := range forward[repo] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				unlocked = append(unlocked, dependent)
			}
		}
		sort.Strings(unlocked)
		ready = append(ready, unlocked...)
	}

	if len(sorted) != len(affected) {
		var stuck []string
		done := make(map[string]bool, len(sorted))
		for _, repo := range sorted {
			done[repo] = true
		}
		for repo := range affected {
			if !done[repo] {
				stuck = append(stuck, repo)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("cycle detected in flake_deps among: %v", stuck)
	}

	// Per step: update the inputs that changed earlier in the chain.
	updated := map[string]bool{changed: true}
	var steps []Step
	for _, repo := range sorted {
		var inputs []string
		for _, input := range deps[repo] {
			if updated[input] {
				inputs = append(inputs, input)
			}
		}
		if len(inputs) == 0 {
			continue
		}
		steps = append(steps, Step{Repo: repo, Inputs: inputs})
		updated[repo] = true
	}

	return steps, nil
}
