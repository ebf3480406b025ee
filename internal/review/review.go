// Package review runs the asynchronous quality-review lane. Per-task
// reviews are fire-and-forget: they never mutate tracked state directly,
// only post review_log envelopes to the journal, and the loop converges
// by re-reading the journal on its next iteration. The final gate is the
// one synchronous review, run before completion is signalled.
package review

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"orbiter/internal/agent"
	"orbiter/internal/discovery"
	"orbiter/internal/envelope"
	"orbiter/internal/graph"
	"orbiter/internal/journal"
	"orbiter/internal/logging"
)

// Lane coordinates review passes against the journal.
type Lane struct {
	backend agent.Backend
	jr      journal.Journal
	enq     *discovery.Enqueuer
	workDir string
	logger  *logging.Logger

	wg sync.WaitGroup
}

// NewLane creates a review lane. backend should be a read-only review
// configuration of the agent.
func NewLane(backend agent.Backend, jr journal.Journal, enq *discovery.Enqueuer, workDir string, logger *logging.Logger) *Lane {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Lane{
		backend: backend,
		jr:      jr,
		enq:     enq,
		workDir: workDir,
		logger:  logger,
	}
}

// Spawn starts a per-task review concurrently with the loop. Failures
// are logged and dropped; the loop never blocks on a spawned review.
func (l *Lane) Spawn(ctx context.Context, workUnitID string, task graph.Task, commit string) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if _, err := l.run(ctx, workUnitID, &task, commit); err != nil {
			l.logger.Warn("task review failed", "task", task.ID, "error", err)
		}
	}()
}

// Wait blocks until all spawned reviews have finished posting.
func (l *Lane) Wait() {
	l.wg.Wait()
}

// run invokes the review agent, recovers its finding set, and posts it
// as a review_log envelope.
func (l *Lane) run(ctx context.Context, workUnitID string, task *graph.Task, commit string) (*envelope.Envelope, error) {
	prompt := l.buildPrompt(task, commit)
	res, err := l.backend.Execute(ctx, agent.Request{Prompt: prompt, WorkDir: l.workDir})
	if err != nil {
		return nil, fmt.Errorf("review agent: %w", err)
	}

	env := l.findingsFrom(res.Output)
	env.WorkUnitID = workUnitID
	env.ReviewID = uuid.NewString()
	if task != nil {
		env.TaskID = task.ID
		env.TaskUID = task.UID
	}
	env.Commit = commit
	for i := range env.Findings {
		if env.Findings[i].ID == "" {
			env.Findings[i].ID = fmt.Sprintf("f%d", i+1)
		}
	}

	body, err := envelope.Render(env, reviewLeadIn(task))
	if err != nil {
		return nil, err
	}
	if _, err := l.jr.Append(ctx, body); err != nil {
		return nil, fmt.Errorf("post review log: %w", err)
	}

	l.logger.Info("posted review", "review", env.ReviewID, "findings", len(env.Findings))
	return env, nil
}

// findingsFrom recovers the review envelope from the agent's raw output.
// Output with no labeled envelope is treated as a clean review: zero
// findings is a verdict, not a parse failure.
func (l *Lane) findingsFrom(output string) *envelope.Envelope {
	extracted := envelope.ExtractAll(
		[]journal.Entry{{Body: output}}, envelope.KindReviewLog)
	if len(extracted) > 0 {
		env := extracted[len(extracted)-1].Envelope
		return &env
	}
	return &envelope.Envelope{Type: envelope.KindReviewLog}
}

func (l *Lane) buildPrompt(task *graph.Task, commit string) string {
	var b strings.Builder
	b.WriteString("You are performing a read-only code review. Do not modify any files.\n\n")
	if task != nil {
		fmt.Fprintf(&b, "Review the change for task %s: %s\n", task.ID, task.Title)
		if commit != "" {
			fmt.Fprintf(&b, "The change is commit %s.\n", commit)
		}
		if len(task.AcceptanceCriteria) > 0 {
			b.WriteString("Acceptance criteria:\n")
			for _, c := range task.AcceptanceCriteria {
				fmt.Fprintf(&b, "- %s\n", c)
			}
		}
	} else {
		b.WriteString("Review the full accumulated change set on this branch against its goals.\n")
	}
	fmt.Fprintf(&b, `
Report findings as JSON in a fenced code block directly under the heading %q:
{"v":1,"type":"review_log","findings":[{"id":"f1","severity":"high","confidence":0.9,"category":"...","evidence":"...","suggestedTask":{"title":"...","description":"..."}}]}
Severity is one of critical, high, medium, low. An empty findings array means the change is clean.
`, envelope.KindReviewLog.Heading())
	return b.String()
}

func reviewLeadIn(task *graph.Task) string {
	if task == nil {
		return "Final review of the accumulated change set.\n"
	}
	return fmt.Sprintf("Review of task %s.\n", task.ID)
}
