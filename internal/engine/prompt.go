package engine

import (
	"fmt"
	"strings"

	"orbiter/internal/envelope"
	"orbiter/internal/graph"
	"orbiter/internal/journal"
	"orbiter/internal/wisp"
)

// maxPromptPatterns caps how many reusable patterns are carried forward
// into the prompt.
const maxPromptPatterns = 10

// buildPrompt assembles the agent prompt: task detail, acceptance
// criteria, verification commands, active wisps, and reusable patterns
// from earlier attempts, plus the reporting contract.
func (l *Loop) buildPrompt(doc *graph.Document, task *graph.Task, attempt int, wisps []wisp.Wisp, patterns []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are implementing task %s of work unit %s.\n\n", task.ID, doc.WorkUnitID)
	fmt.Fprintf(&b, "## Task: %s\n\n", task.Title)
	if task.Description != "" {
		b.WriteString(task.Description)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Attempt %d of %d.\n", attempt, l.cfg.Loop.MaxAttempts)
	if doc.Branch != "" {
		fmt.Fprintf(&b, "Work on branch %s.\n", doc.Branch)
	}
	b.WriteString("\n")

	if len(task.AcceptanceCriteria) > 0 {
		b.WriteString("## Acceptance criteria\n\n")
		for _, c := range task.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}

	if len(task.VerifyCommands) > 0 {
		b.WriteString("## Verification\n\nThese commands must pass; they are run independently after you finish:\n\n")
		for _, c := range task.VerifyCommands {
			fmt.Fprintf(&b, "- `%s`\n", c)
		}
		b.WriteString("\n")
	}

	if len(wisps) > 0 {
		b.WriteString("## Hints\n\n")
		for _, w := range wisps {
			fmt.Fprintf(&b, "- %s\n", w.Note)
		}
		b.WriteString("\n")
	}

	if len(patterns) > 0 {
		b.WriteString("## Patterns from earlier work\n\n")
		for _, p := range patterns {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\n")
	}

	b.WriteString(l.reportingContract(doc, task, attempt))
	return b.String()
}

// reportingContract tells the agent how to post its task-log event. The
// event is the only channel the orchestrator trusts for evidence of the
// attempt; the agent's stdout is ignored.
func (l *Loop) reportingContract(doc *graph.Document, task *graph.Task, attempt int) string {
	var b strings.Builder
	b.WriteString("## Reporting\n\n")
	b.WriteString("When finished, commit your work, then post a comment")
	if l.cfg.Journal.Repo != "" {
		fmt.Fprintf(&b, " with `gh issue comment %d --repo %s`", l.cfg.Journal.Issue, l.cfg.Journal.Repo)
	}
	fmt.Fprintf(&b, " containing the heading %q followed directly by a fenced json block:\n\n", envelope.KindTaskLog.Heading())
	fmt.Fprintf(&b, "```\n%s\n\n", envelope.KindTaskLog.Heading())
	fmt.Fprintf(&b, "```json\n{\"v\":1,\"type\":\"task_log\",\"workUnitId\":%q,\"taskId\":%q,\"taskUid\":%q,\"attempt\":%d,",
		doc.WorkUnitID, task.ID, task.UID, attempt)
	b.WriteString(`"commit":"<sha>","status":"<pass|fail>",`)
	b.WriteString(`"verify":{"passed":[],"failed":[]},"search":{"queries":[],"filesInspected":[]},`)
	b.WriteString(`"discovered":[{"title":"...","description":"..."}],"patterns":["..."]}`)
	b.WriteString("\n```\n```\n\n")
	b.WriteString("Report every investigation query you ran under search.queries. ")
	b.WriteString("List follow-up work you uncovered under discovered. ")
	b.WriteString("Your status field is advisory; verification is re-run independently.\n")
	return b.String()
}

// collectPatterns gathers the reusable-pattern notes from prior task-log
// events, most recent last, deduplicated, capped.
func collectPatterns(entries []journal.Entry, workUnitID string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, ex := range envelope.ExtractAll(entries, envelope.KindTaskLog) {
		if workUnitID != "" && ex.Envelope.WorkUnitID != workUnitID {
			continue
		}
		for _, p := range ex.Envelope.Patterns {
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	if len(out) > maxPromptPatterns {
		out = out[len(out)-maxPromptPatterns:]
	}
	return out
}
