// Package discovery inserts tasks discovered mid-execution into the graph,
// deduplicated by a semantic fingerprint so re-discovering the same work
// is idempotent.
package discovery

import (
	"fmt"

	"orbiter/internal/envelope"
	"orbiter/internal/graph"
	"orbiter/internal/logging"
)

// Parent identifies the task a discovery came from.
type Parent struct {
	ID       string
	UID      string
	Priority int
}

// Enqueuer appends discovered tasks to the graph document and persists
// immediately, so a crash cannot lose discovered work.
type Enqueuer struct {
	store  *graph.Store
	logger *logging.Logger
}

// NewEnqueuer creates an Enqueuer writing through the given store.
func NewEnqueuer(store *graph.Store, logger *logging.Logger) *Enqueuer {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Enqueuer{store: store, logger: logger}
}

// Enqueue adds each candidate that is not already present (by fingerprint)
// as a new task depending on the parent, one priority step after it. The
// document is saved once at the end if anything was added. Returns the
// tasks that were actually added.
func (e *Enqueuer) Enqueue(doc *graph.Document, parent Parent, source graph.DiscoverySource, candidates []envelope.DiscoveredTask) ([]graph.Task, error) {
	if source == "" {
		source = graph.SourceDiscovered
	}

	var added []graph.Task
	for _, c := range candidates {
		if c.Title == "" {
			continue
		}

		fp := graph.Fingerprint(c.Title, c.Description, c.AcceptanceCriteria, parent.UID)
		if hasFingerprint(doc, fp) {
			e.logger.Debug("skipping re-discovered task", "title", c.Title, "fingerprint", fp)
			continue
		}

		// Ordinal is the count of prior discoveries from this parent,
		// plus one, so uids stay deterministic across recomputation.
		ordinal := countDiscoveredFrom(doc, parent.UID) + 1

		task := graph.Task{
			ID:                 fmt.Sprintf("%s.%d", parent.ID, ordinal),
			UID:                graph.UID(doc.WorkUnitID, c.Title, parent.UID, ordinal),
			Title:              c.Title,
			Description:        c.Description,
			Priority:           parent.Priority + 1,
			DependsOn:          []string{parent.ID},
			AcceptanceCriteria: c.AcceptanceCriteria,
			VerifyCommands:     c.VerifyCommands,
			DiscoveredFrom:     parent.UID,
			DiscoverySource:    source,
			Fingerprint:        fp,
		}
		doc.Tasks = append(doc.Tasks, task)
		added = append(added, task)

		e.logger.Info("enqueued discovered task",
			"id", task.ID, "uid", task.UID, "source", source, "parent", parent.ID)
	}

	if len(added) == 0 {
		return nil, nil
	}
	if err := e.store.Save(doc); err != nil {
		return added, fmt.Errorf("persist discovered tasks: %w", err)
	}
	return added, nil
}

func hasFingerprint(doc *graph.Document, fp string) bool {
	for i := range doc.Tasks {
		if doc.Tasks[i].Fingerprint == fp {
			return true
		}
	}
	return false
}

func countDiscoveredFrom(doc *graph.Document, parentUID string) int {
	n := 0
	for i := range doc.Tasks {
		if doc.Tasks[i].DiscoveredFrom == parentUID {
			n++
		}
	}
	return n
}
