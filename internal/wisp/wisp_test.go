package wisp

import (
	"context"
	"strings"
	"testing"
	"time"

	"orbiter/internal/discovery"
	"orbiter/internal/envelope"
	"orbiter/internal/graph"
	"orbiter/internal/journal"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCreateAndCollectActive(t *testing.T) {
	jr := journal.NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(jr, nil, WithClock(fixedClock(now)))
	ctx := context.Background()

	w, err := m.Create(ctx, "wu-1", "uid-1", "prefer table-driven tests here", time.Hour)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if w.ID == "" {
		t.Error("wisp should get an id")
	}

	entries, _ := jr.List(ctx)
	active := m.CollectActive(entries, "wu-1")
	if len(active) != 1 {
		t.Fatalf("expected 1 active wisp, got %d", len(active))
	}
	if active[0].Note != "prefer table-driven tests here" {
		t.Errorf("Note = %q", active[0].Note)
	}
}

func TestCollectActiveExcludesExpired(t *testing.T) {
	jr := journal.NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(jr, nil, WithClock(fixedClock(now)))
	ctx := context.Background()

	if _, err := m.Create(ctx, "wu-1", "", "short-lived", time.Minute); err != nil {
		t.Fatal(err)
	}

	later := NewManager(jr, nil, WithClock(fixedClock(now.Add(2*time.Minute))))
	entries, _ := jr.List(ctx)
	if active := later.CollectActive(entries, "wu-1"); len(active) != 0 {
		t.Errorf("expired wisp should be excluded, got %d", len(active))
	}
}

func TestCollectActiveExcludesMalformedAndMissingExpiry(t *testing.T) {
	jr := journal.NewMemory()
	ctx := context.Background()

	// Malformed JSON under a wisp heading.
	_, _ = jr.Append(ctx, "### Wisp\n\n```json\n{broken\n```\n")
	// Well-formed but missing expiresAt.
	_, _ = jr.Append(ctx, "### Wisp\n\n```json\n{\"v\":1,\"type\":\"wisp\",\"workUnitId\":\"wu-1\",\"wispId\":\"w1\",\"note\":\"n\"}\n```\n")

	m := NewManager(jr, nil)
	entries, _ := jr.List(ctx)
	if active := m.CollectActive(entries, "wu-1"); len(active) != 0 {
		t.Errorf("malformed and missing-expiry wisps should be excluded, got %d", len(active))
	}
}

func TestPromoteToNoteExcludesFromActive(t *testing.T) {
	jr := journal.NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(jr, nil, WithClock(fixedClock(now)))
	ctx := context.Background()

	w, err := m.Create(ctx, "wu-1", "", "document the retry policy", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	doc := &graph.Document{WorkUnitID: "wu-1"}
	if err := m.Promote(ctx, doc, nil, w, KindNote); err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
	if !w.Promoted {
		t.Error("wisp should be marked promoted")
	}

	entries, _ := jr.List(ctx)
	if active := m.CollectActive(entries, "wu-1"); len(active) != 0 {
		t.Errorf("promoted wisp must be excluded regardless of expiry, got %d", len(active))
	}

	// The durable note exists.
	found := false
	for _, e := range entries {
		if strings.Contains(e.Body, "### Note") && strings.Contains(e.Body, "document the retry policy") {
			found = true
		}
	}
	if !found {
		t.Error("promotion should post a durable note")
	}
}

func TestPromoteToTaskEnqueues(t *testing.T) {
	jr := journal.NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(jr, nil, WithClock(fixedClock(now)))
	ctx := context.Background()

	store := graph.NewStore(t.TempDir())
	parentUID := graph.UID("wu-1", "Parent", "", 0)
	doc := &graph.Document{
		WorkUnitID: "wu-1",
		Tasks:      []graph.Task{{ID: "t1", UID: parentUID, Title: "Parent", Priority: 1}},
	}
	enq := discovery.NewEnqueuer(store, nil)

	w, err := m.Create(ctx, "wu-1", parentUID, "add a regression test for empty input", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Promote(ctx, doc, enq, w, KindTask); err != nil {
		t.Fatalf("Promote() error = %v", err)
	}

	if len(doc.Tasks) != 2 {
		t.Fatalf("expected a discovered task, got %d tasks", len(doc.Tasks))
	}
	got := doc.Tasks[1]
	if got.DiscoverySource != graph.SourceWisp {
		t.Errorf("DiscoverySource = %q, want wisp", got.DiscoverySource)
	}
	if got.DiscoveredFrom != parentUID {
		t.Errorf("DiscoveredFrom = %q, want parent uid", got.DiscoveredFrom)
	}
}

func TestPromoteFailsClosedWhenEditFails(t *testing.T) {
	jr := journal.NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(jr, nil, WithClock(fixedClock(now)))
	ctx := context.Background()

	w, err := m.Create(ctx, "wu-1", "", "note text", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	jr.FailEdit = true
	doc := &graph.Document{WorkUnitID: "wu-1"}
	if err := m.Promote(ctx, doc, nil, w, KindNote); err == nil {
		t.Error("Promote() should fail when the promoted mark cannot be written")
	}
	if w.Promoted {
		t.Error("wisp must stay unpromoted after a failed mark")
	}
}

func TestRenderedWispRoundTrips(t *testing.T) {
	expires := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	env := &envelope.Envelope{
		Type:       envelope.KindWisp,
		WorkUnitID: "wu-1",
		WispID:     "w-9",
		Note:       "check goroutine leak",
		ExpiresAt:  &expires,
	}
	body, err := envelope.Render(env, "")
	if err != nil {
		t.Fatal(err)
	}
	got := envelope.ExtractAll([]journal.Entry{{ID: "1", Body: body}}, envelope.KindWisp)
	if len(got) != 1 || got[0].Envelope.WispID != "w-9" {
		t.Fatalf("wisp envelope failed to round-trip: %+v", got)
	}
}
