package review

import (
	"context"
	"strings"
	"testing"

	"orbiter/internal/agent"
	"orbiter/internal/discovery"
	"orbiter/internal/envelope"
	"orbiter/internal/graph"
	"orbiter/internal/journal"
)

func testDoc() *graph.Document {
	return &graph.Document{
		WorkUnitID: "wu-1",
		Policy:     graph.ReviewPolicy{AutoSeverity: "high", Confidence: 0.7},
		Tasks: []graph.Task{
			{ID: "t1", UID: "uid-t1", Title: "Parent task", Priority: 1, Passes: true},
		},
	}
}

func testLane(t *testing.T, backend agent.Backend) (*Lane, *journal.Memory) {
	t.Helper()
	jr := journal.NewMemory()
	store := graph.NewStore(t.TempDir())
	enq := discovery.NewEnqueuer(store, nil)
	return NewLane(backend, jr, enq, t.TempDir(), nil), jr
}

func agentOutputWithFindings(t *testing.T, findings []envelope.Finding) string {
	t.Helper()
	body, err := envelope.Render(&envelope.Envelope{
		Type:     envelope.KindReviewLog,
		Findings: findings,
	}, "Here is my review.\n")
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestSpawnPostsReviewEnvelope(t *testing.T) {
	output := agentOutputWithFindings(t, []envelope.Finding{
		{Severity: "medium", Confidence: 0.8, Category: "error-handling", Evidence: "swallowed error in store.go"},
	})
	backend := agent.NewScripted().Respond(agent.Result{Output: output}, nil)
	lane, jr := testLane(t, backend)

	lane.Spawn(context.Background(), "wu-1", graph.Task{ID: "t1", UID: "uid-t1"}, "abc123")
	lane.Wait()

	entries, _ := jr.List(context.Background())
	got := envelope.ExtractAll(entries, envelope.KindReviewLog)
	if len(got) != 1 {
		t.Fatalf("expected 1 posted review envelope, got %d", len(got))
	}
	env := got[0].Envelope
	if env.ReviewID == "" {
		t.Error("review id should be assigned")
	}
	if env.WorkUnitID != "wu-1" || env.TaskID != "t1" || env.Commit != "abc123" {
		t.Errorf("correlation fields = %+v", env)
	}
	if len(env.Findings) != 1 || env.Findings[0].ID == "" {
		t.Errorf("findings should get ids: %+v", env.Findings)
	}
}

func TestRunTreatsUnlabeledOutputAsClean(t *testing.T) {
	backend := agent.NewScripted().Respond(agent.Result{Output: "looks good to me"}, nil)
	lane, jr := testLane(t, backend)

	env, err := lane.run(context.Background(), "wu-1", nil, "")
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if len(env.Findings) != 0 {
		t.Errorf("expected clean verdict, got %+v", env.Findings)
	}

	entries, _ := jr.List(context.Background())
	if len(entries) != 1 {
		t.Errorf("clean review should still post a verdict, got %d entries", len(entries))
	}
}

func TestIngestClassifiesBySeverityAndConfidence(t *testing.T) {
	lane, jr := testLane(t, agent.NewScripted())
	doc := testDoc()

	body, err := envelope.Render(&envelope.Envelope{
		Type:       envelope.KindReviewLog,
		WorkUnitID: "wu-1",
		ReviewID:   "rev-1",
		TaskUID:    "uid-t1",
		Findings: []envelope.Finding{
			{ID: "f1", Severity: "critical", Confidence: 0.95, Evidence: "nil deref on empty input",
				Suggested: &envelope.DiscoveredTask{Title: "Guard against empty input", Description: "nil deref"}},
			{ID: "f2", Severity: "low", Confidence: 0.9, Evidence: "naming nit"},
			{ID: "f3", Severity: "high", Confidence: 0.3, Evidence: "possible race, unsure"},
		},
	}, "")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = jr.Append(context.Background(), body)

	entries, _ := jr.List(context.Background())
	n, err := lane.Ingest(doc, entries)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if n != 3 {
		t.Errorf("ingested = %d, want 3", n)
	}

	// Only the confident critical finding becomes a task.
	if len(doc.Tasks) != 2 {
		t.Fatalf("expected 1 enqueued task, got %d tasks", len(doc.Tasks))
	}
	enqueued := doc.Tasks[1]
	if enqueued.DiscoverySource != graph.SourceReview {
		t.Errorf("DiscoverySource = %q", enqueued.DiscoverySource)
	}
	if enqueued.Title != "Guard against empty input" {
		t.Errorf("Title = %q", enqueued.Title)
	}
	if enqueued.DiscoveredFrom != "uid-t1" {
		t.Errorf("DiscoveredFrom = %q", enqueued.DiscoveredFrom)
	}

	statuses := map[string]string{}
	for _, rec := range doc.Review.Findings {
		statuses[rec.FindingID] = rec.Status
	}
	if statuses["f1"] != graph.FindingEnqueued {
		t.Errorf("f1 status = %q", statuses["f1"])
	}
	if statuses["f2"] != graph.FindingOpen || statuses["f3"] != graph.FindingOpen {
		t.Errorf("low/unconfident findings should stay open: %v", statuses)
	}

	// Re-scanning the same entries is a no-op.
	n, err = lane.Ingest(doc, entries)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("re-ingest = %d, want 0", n)
	}
	if len(doc.Tasks) != 2 || len(doc.Review.Findings) != 3 {
		t.Errorf("re-ingest mutated the document: %d tasks, %d findings", len(doc.Tasks), len(doc.Review.Findings))
	}
}

func TestIngestIgnoresOtherWorkUnits(t *testing.T) {
	lane, jr := testLane(t, agent.NewScripted())
	doc := testDoc()

	body, err := envelope.Render(&envelope.Envelope{
		Type:       envelope.KindReviewLog,
		WorkUnitID: "wu-other",
		ReviewID:   "rev-x",
		Findings:   []envelope.Finding{{ID: "f1", Severity: "critical", Confidence: 1}},
	}, "")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = jr.Append(context.Background(), body)

	entries, _ := jr.List(context.Background())
	n, err := lane.Ingest(doc, entries)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || len(doc.Tasks) != 1 {
		t.Errorf("foreign work-unit findings must be ignored: n=%d tasks=%d", n, len(doc.Tasks))
	}
}

func TestFinalGateCleanPasses(t *testing.T) {
	backend := agent.NewScripted().Respond(agent.Result{Output: "no issues"}, nil)
	lane, _ := testLane(t, backend)
	doc := testDoc()

	ok, err := lane.FinalGate(context.Background(), doc)
	if err != nil {
		t.Fatalf("FinalGate() error = %v", err)
	}
	if !ok {
		t.Error("clean final review should pass the gate")
	}
}

func TestFinalGateDefersOnNewBlockingTask(t *testing.T) {
	output := agentOutputWithFindings(t, []envelope.Finding{
		{Severity: "critical", Confidence: 0.9, Evidence: "missing auth check",
			Suggested: &envelope.DiscoveredTask{Title: "Add auth check on delete endpoint"}},
	})
	backend := agent.NewScripted().Respond(agent.Result{Output: output}, nil)
	lane, _ := testLane(t, backend)
	doc := testDoc()

	ok, err := lane.FinalGate(context.Background(), doc)
	if err != nil {
		t.Fatalf("FinalGate() error = %v", err)
	}
	if ok {
		t.Error("gate must defer completion when it enqueues new work")
	}
	if len(doc.Tasks) != 2 {
		t.Errorf("expected the finding to become a task, got %d tasks", len(doc.Tasks))
	}
}

func TestFinalGateDefersOnUnresolvedHighFinding(t *testing.T) {
	backend := agent.NewScripted().Respond(agent.Result{Output: "clean"}, nil)
	lane, _ := testLane(t, backend)
	doc := testDoc()
	doc.Review.Findings = append(doc.Review.Findings, graph.FindingRecord{
		ReviewID: "rev-0", FindingID: "f9", Severity: "high", Status: graph.FindingOpen,
	})

	ok, err := lane.FinalGate(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("an open high-severity finding must defer completion")
	}
}

func TestBuildPromptMentionsHeading(t *testing.T) {
	lane, _ := testLane(t, agent.NewScripted())
	p := lane.buildPrompt(&graph.Task{ID: "t1", Title: "Fix parser", AcceptanceCriteria: []string{"handles empty input"}}, "abc")
	if !strings.Contains(p, envelope.KindReviewLog.Heading()) {
		t.Error("prompt must name the review-log heading")
	}
	if !strings.Contains(p, "handles empty input") {
		t.Error("prompt should carry acceptance criteria")
	}
}

func TestSeverityRank(t *testing.T) {
	if severityRank("critical") <= severityRank("high") {
		t.Error("critical should outrank high")
	}
	if severityRank("bogus") >= severityRank("low") {
		t.Error("unknown severities rank below low")
	}
}
