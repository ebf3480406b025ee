// Package scheduler selects the next eligible task from the graph.
//
// Eligibility: not passed, attempts under budget, and every dependency
// already passed. Among eligible tasks the lowest priority value wins,
// with ties broken by document order so selection is reproducible.
package scheduler

import (
	"fmt"
	"strings"

	"orbiter/internal/graph"
)

// Decision classifies the scheduling outcome.
type Decision int

const (
	// Selected means a task was chosen for execution.
	Selected Decision = iota

	// Complete means no unfinished tasks remain; the engine proceeds to
	// the final review gate.
	Complete

	// BlockedExhausted means every remaining task (or every task its
	// dependencies chain through) is attempt-exhausted.
	BlockedExhausted

	// BlockedDependency means remaining tasks are stuck behind a
	// dependency cycle or a dependency that does not exist.
	BlockedDependency
)

// String returns a short label for the decision.
func (d Decision) String() string {
	switch d {
	case Selected:
		return "selected"
	case Complete:
		return "complete"
	case BlockedExhausted:
		return "blocked_exhausted"
	case BlockedDependency:
		return "blocked_dependency"
	default:
		return "unknown"
	}
}

// Outcome is the scheduling decision plus a human-readable diagnostic.
type Outcome struct {
	Decision Decision
	Reason   string
}

// Next selects the next eligible task. The returned task pointer aliases
// the document's slice so the engine can mutate it in place; it is nil
// unless the decision is Selected.
func Next(doc *graph.Document, maxAttempts int) (*graph.Task, Outcome) {
	remaining := 0
	for i := range doc.Tasks {
		if !doc.Tasks[i].Passes {
			remaining++
		}
	}
	if remaining == 0 {
		return nil, Outcome{Decision: Complete, Reason: "all tasks passed"}
	}

	var best *graph.Task
	hasBudget := false
	for i := range doc.Tasks {
		t := &doc.Tasks[i]
		if t.Passes || t.Attempts >= maxAttempts {
			continue
		}
		hasBudget = true
		if !depsSatisfied(doc, t) {
			continue
		}
		if best == nil || t.Priority < best.Priority {
			best = t // strict < keeps document order on ties
		}
	}

	if best != nil {
		return best, Outcome{
			Decision: Selected,
			Reason:   fmt.Sprintf("task %s (priority %d)", best.ID, best.Priority),
		}
	}

	if !hasBudget {
		return nil, Outcome{
			Decision: BlockedExhausted,
			Reason:   fmt.Sprintf("attempt budget exhausted: %s", strings.Join(exhaustedIDs(doc, maxAttempts), ", ")),
		}
	}
	return nil, diagnoseBlocked(doc, maxAttempts)
}

// depsSatisfied reports whether every dependency of the task has passed.
// An unknown dependency id counts as unsatisfied.
func depsSatisfied(doc *graph.Document, t *graph.Task) bool {
	for _, depID := range t.DependsOn {
		dep := doc.TaskByID(depID)
		if dep == nil || !dep.Passes {
			return false
		}
	}
	return true
}

func exhaustedIDs(doc *graph.Document, maxAttempts int) []string {
	var ids []string
	for i := range doc.Tasks {
		t := &doc.Tasks[i]
		if !t.Passes && t.Attempts >= maxAttempts {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// diagnoseBlocked distinguishes the terminal causes when tasks with
// attempt budget remain but none are eligible: a dependency cycle, a
// reference to a task that does not exist, or dependence on an
// attempt-exhausted task.
func diagnoseBlocked(doc *graph.Document, maxAttempts int) Outcome {
	for i := range doc.Tasks {
		t := &doc.Tasks[i]
		if t.Passes || t.Attempts >= maxAttempts {
			continue
		}
		for _, depID := range t.DependsOn {
			dep := doc.TaskByID(depID)
			if dep == nil {
				return Outcome{
					Decision: BlockedDependency,
					Reason:   fmt.Sprintf("task %s depends on unknown task %q", t.ID, depID),
				}
			}
			if !dep.Passes && dep.Attempts >= maxAttempts {
				return Outcome{
					Decision: BlockedExhausted,
					Reason:   fmt.Sprintf("task %s is blocked behind attempt-exhausted task %s", t.ID, dep.ID),
				}
			}
		}
	}

	if cycle := findCycle(doc); len(cycle) > 0 {
		return Outcome{
			Decision: BlockedDependency,
			Reason:   fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")),
		}
	}

	return Outcome{
		Decision: BlockedDependency,
		Reason:   "no eligible task: unmet dependencies",
	}
}

// findCycle returns one dependency cycle among unfinished tasks, if any,
// via iterative DFS with a three-color marking.
func findCycle(doc *graph.Document) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(doc.Tasks))

	var cycle []string
	var visit func(id string, path []string) bool
	visit = func(id string, path []string) bool {
		color[id] = gray
		path = append(path, id)
		t := doc.TaskByID(id)
		if t != nil {
			for _, depID := range t.DependsOn {
				dep := doc.TaskByID(depID)
				if dep == nil || dep.Passes {
					continue
				}
				switch color[depID] {
				case gray:
					cycle = append(append([]string{}, path...), depID)
					return true
				case white:
					if visit(depID, path) {
						return true
					}
				}
			}
		}
		color[id] = black
		return false
	}

	for i := range doc.Tasks {
		t := &doc.Tasks[i]
		if t.Passes || color[t.ID] != white {
			continue
		}
		if visit(t.ID, nil) {
			return cycle
		}
	}
	return nil
}
