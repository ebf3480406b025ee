package review

import (
	"context"
	"fmt"
	"strings"

	"orbiter/internal/discovery"
	"orbiter/internal/envelope"
	"orbiter/internal/graph"
	"orbiter/internal/journal"
)

// severityRank orders severities for threshold comparison. Unknown
// severities rank below low and are never auto-enqueued.
func severityRank(severity string) int {
	switch strings.ToLower(severity) {
	case "critical":
		return 3
	case "high":
		return 2
	case "medium":
		return 1
	case "low":
		return 0
	default:
		return -1
	}
}

// Ingest scans the entries for review_log envelopes and folds any new
// findings into the document. Dedup is by (reviewId, findingId), so
// re-scanning the same entries is a no-op. Findings at or above the
// document's auto policy become discovered tasks; the rest stay open
// pending approval. Returns the number of findings newly ingested.
func (l *Lane) Ingest(doc *graph.Document, entries []journal.Entry) (int, error) {
	ingested := 0
	for _, ex := range envelope.ExtractAll(entries, envelope.KindReviewLog) {
		env := ex.Envelope
		if env.ReviewID == "" {
			continue
		}
		if env.WorkUnitID != "" && env.WorkUnitID != doc.WorkUnitID {
			continue
		}
		n, err := l.ingestEnvelope(doc, &env)
		if err != nil {
			return ingested, err
		}
		ingested += n
	}
	return ingested, nil
}

func (l *Lane) ingestEnvelope(doc *graph.Document, env *envelope.Envelope) (int, error) {
	ingested := 0
	for _, f := range env.Findings {
		if f.ID == "" || doc.Review.HasSeenFinding(env.ReviewID, f.ID) {
			continue
		}
		doc.Review.MarkFindingSeen(env.ReviewID, f.ID)
		ingested++

		record := graph.FindingRecord{
			ReviewID:   env.ReviewID,
			FindingID:  f.ID,
			Severity:   strings.ToLower(f.Severity),
			Confidence: f.Confidence,
			Category:   f.Category,
			Evidence:   f.Evidence,
			Status:     graph.FindingOpen,
		}

		if l.autoEnqueue(doc, f) {
			if err := l.enqueueFinding(doc, env, f); err != nil {
				return ingested, err
			}
			record.Status = graph.FindingEnqueued
		}
		doc.Review.Findings = append(doc.Review.Findings, record)
	}
	return ingested, nil
}

func (l *Lane) autoEnqueue(doc *graph.Document, f envelope.Finding) bool {
	return severityRank(f.Severity) >= severityRank(doc.Policy.AutoSeverity) &&
		f.Confidence >= doc.Policy.Confidence
}

func (l *Lane) enqueueFinding(doc *graph.Document, env *envelope.Envelope, f envelope.Finding) error {
	parent := discovery.Parent{ID: "root"}
	if p := doc.TaskByUID(env.TaskUID); p != nil {
		parent = discovery.Parent{ID: p.ID, UID: p.UID, Priority: p.Priority}
	}

	candidate := envelope.DiscoveredTask{
		Title:       fmt.Sprintf("Address %s review finding: %s", strings.ToLower(f.Severity), findingTitle(f)),
		Description: f.Evidence,
	}
	if f.Suggested != nil && f.Suggested.Title != "" {
		candidate = *f.Suggested
	}

	_, err := l.enq.Enqueue(doc, parent, graph.SourceReview, []envelope.DiscoveredTask{candidate})
	if err != nil {
		return fmt.Errorf("enqueue review finding %s: %w", f.ID, err)
	}
	return nil
}

func findingTitle(f envelope.Finding) string {
	if f.Category != "" {
		return f.Category
	}
	line := f.Evidence
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if len(line) > 72 {
		line = line[:72]
	}
	if line == "" {
		return f.ID
	}
	return line
}

// FinalGate runs the synchronous full-change review. Completion is
// deferred when the gate enqueues new blocking tasks or any unresolved
// critical/high finding remains.
func (l *Lane) FinalGate(ctx context.Context, doc *graph.Document) (bool, error) {
	env, err := l.run(ctx, doc.WorkUnitID, nil, "")
	if err != nil {
		return false, err
	}

	added, err := l.ingestEnvelope(doc, env)
	if err != nil {
		return false, err
	}
	if added > 0 && doc.Remaining() > 0 {
		l.logger.Info("final review enqueued new work", "findings", added)
		return false, nil
	}

	for _, rec := range doc.Review.Findings {
		if rec.Status == graph.FindingOpen && severityRank(rec.Severity) >= severityRank("high") {
			l.logger.Warn("unresolved blocking finding", "review", rec.ReviewID, "finding", rec.FindingID, "severity", rec.Severity)
			return false, nil
		}
	}
	return true, nil
}
