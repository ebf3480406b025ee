// Package compaction periodically posts a summary of recent activity to
// the journal so readers do not have to replay the whole thread.
//
// A counter in the graph document ticks on every confirmed task-log event.
// At the threshold a summary is posted; the counter resets only when the
// post succeeds, so a failed post retries the same window next cycle
// instead of silently losing history.
package compaction

import (
	"context"
	"fmt"
	"strings"

	"orbiter/internal/graph"
	"orbiter/internal/journal"
	"orbiter/internal/logging"
)

// Trigger ticks the compaction counter and posts summaries.
type Trigger struct {
	jr     journal.Journal
	logger *logging.Logger
}

// NewTrigger creates a Trigger posting to the given journal.
func NewTrigger(jr journal.Journal, logger *logging.Logger) *Trigger {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Trigger{jr: jr, logger: logger}
}

// OnConfirmedEvent records one confirmed task-log event and posts a
// summary when the counter reaches its threshold. Mutates the document's
// compaction state; the caller persists it through the store. A failed
// post is logged and retained for retry, never fatal.
func (t *Trigger) OnConfirmedEvent(ctx context.Context, doc *graph.Document, taskUID string, attempt int) {
	c := &doc.Compaction
	c.Count++
	c.Window = append(c.Window, fmt.Sprintf("%s@%d", taskUID, attempt))

	if c.Threshold <= 0 || c.Count < c.Threshold {
		return
	}

	body := t.summaryBody(doc)
	entryID, err := t.jr.Append(ctx, body)
	if err != nil {
		// Counter retained: the next cycle retries the same window.
		t.logger.Warn("compaction summary post failed; retaining counter",
			"count", c.Count, "error", err)
		return
	}

	c.Count = 0
	c.Window = nil
	c.LastSummaryEntry = entryID
	t.logger.Info("posted compaction summary", "entry", entryID)
}

// summaryBody lists the task attempts since the previous summary and
// points at the previous summary entry (or "none").
func (t *Trigger) summaryBody(doc *graph.Document) string {
	prev := doc.Compaction.LastSummaryEntry
	if prev == "" {
		prev = "none"
	}

	var b strings.Builder
	b.WriteString("### Compaction Summary\n\n")
	fmt.Fprintf(&b, "Work unit: %s\n", doc.WorkUnitID)
	fmt.Fprintf(&b, "Previous summary: %s\n", prev)
	fmt.Fprintf(&b, "Events since previous summary: %d\n\n", len(doc.Compaction.Window))
	b.WriteString("Attempts covered:\n")
	for _, w := range doc.Compaction.Window {
		fmt.Fprintf(&b, "- %s\n", w)
	}
	fmt.Fprintf(&b, "\nTasks remaining: %d of %d\n", doc.Remaining(), len(doc.Tasks))
	return b.String()
}
