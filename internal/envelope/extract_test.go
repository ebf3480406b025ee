package envelope

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"orbiter/internal/journal"
)

func entry(id, body string) journal.Entry {
	return journal.Entry{ID: id, Body: body, CreatedAt: time.Now()}
}

const taskLogBody = `Attempt finished.

### Task Log

` + "```json" + `
{"v":1,"type":"task_log","workUnitId":"wu-1","taskId":"t1","taskUid":"abc","attempt":1,"status":"fail"}
` + "```" + `

Some trailing commentary.
`

func TestExtractAllIgnoresUnlabeledJSON(t *testing.T) {
	body := `Here is an example payload:

` + "```json" + `
{"v":1,"type":"task_log","workUnitId":"wu-1","taskId":"decoy","attempt":9}
` + "```" + `

### Task Log

` + "```json" + `
{"v":1,"type":"task_log","workUnitId":"wu-1","taskId":"t1","attempt":1}
` + "```" + `
`
	got := ExtractAll([]journal.Entry{entry("1", body)}, KindTaskLog)
	if len(got) != 1 {
		t.Fatalf("expected 1 envelope, got %d", len(got))
	}
	if got[0].Envelope.TaskID != "t1" {
		t.Errorf("extracted the wrong block: taskId = %q", got[0].Envelope.TaskID)
	}
}

func TestExtractAllSkipsMalformedJSON(t *testing.T) {
	body := `### Task Log

` + "```json" + `
{"v":1,"type":"task_log","taskId": broken
` + "```" + `
`
	got := ExtractAll([]journal.Entry{entry("1", body), entry("2", taskLogBody)}, KindTaskLog)
	if len(got) != 1 {
		t.Fatalf("malformed block should be skipped, got %d envelopes", len(got))
	}
	if got[0].EntryID != "2" {
		t.Errorf("envelope came from entry %q, want 2", got[0].EntryID)
	}
}

func TestExtractAllIgnoresOtherHeadings(t *testing.T) {
	body := `### Review Log

` + "```json" + `
{"v":1,"type":"review_log","workUnitId":"wu-1","reviewId":"r1"}
` + "```" + `
`
	if got := ExtractAll([]journal.Entry{entry("1", body)}, KindTaskLog); len(got) != 0 {
		t.Errorf("task_log extraction should ignore review headings, got %d", len(got))
	}
	if got := ExtractAll([]journal.Entry{entry("1", body)}, KindReviewLog); len(got) != 1 {
		t.Errorf("review_log extraction should find the block, got %d", len(got))
	}
}

func TestExtractAllRequiresFenceDirectlyUnderHeading(t *testing.T) {
	body := `### Task Log

Some prose first, then a block:

` + "```json" + `
{"v":1,"type":"task_log","taskId":"t1"}
` + "```" + `
`
	if got := ExtractAll([]journal.Entry{entry("1", body)}, KindTaskLog); len(got) != 0 {
		t.Errorf("block separated from heading by prose should be ignored, got %d", len(got))
	}
}

func TestLatestWinsOverEarlier(t *testing.T) {
	first := `### Task Log

` + "```json" + `
{"v":1,"type":"task_log","workUnitId":"wu-1","taskId":"t1","attempt":1,"status":"fail"}
` + "```" + `
`
	second := `### Task Log

` + "```json" + `
{"v":1,"type":"task_log","workUnitId":"wu-1","taskId":"t1","attempt":2,"status":"pass"}
` + "```" + `
`
	entries := []journal.Entry{entry("1", first), entry("2", second)}

	got, err := Latest(entries, KindTaskLog, Match{WorkUnitID: "wu-1", TaskID: "t1"})
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if got.Envelope.Attempt != 2 || got.Envelope.Status != "pass" {
		t.Errorf("most recent envelope must win: attempt=%d status=%q",
			got.Envelope.Attempt, got.Envelope.Status)
	}
}

func TestLatestUnconfirmedWhenAbsent(t *testing.T) {
	_, err := Latest([]journal.Entry{entry("1", "no events here")}, KindTaskLog, Match{TaskID: "t1"})
	if !errors.Is(err, ErrUnconfirmed) {
		t.Errorf("Latest() error = %v, want ErrUnconfirmed", err)
	}
}

func TestConfirmAcceptsMatchingUID(t *testing.T) {
	jr := journal.NewMemory()
	ctx := context.Background()
	if _, err := jr.Append(ctx, taskLogBody); err != nil {
		t.Fatal(err)
	}
	entries, _ := jr.List(ctx)

	ex := NewExtractor(jr, nil)
	got, err := ex.Confirm(ctx, entries, KindTaskLog, Match{WorkUnitID: "wu-1", TaskID: "t1"}, "abc")
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if got.Envelope.TaskUID != "abc" {
		t.Errorf("TaskUID = %q, want abc", got.Envelope.TaskUID)
	}
}

func TestConfirmCorrectsIdentity(t *testing.T) {
	jr := journal.NewMemory()
	ctx := context.Background()
	if _, err := jr.Append(ctx, taskLogBody); err != nil {
		t.Fatal(err)
	}
	entries, _ := jr.List(ctx)

	ex := NewExtractor(jr, nil)
	got, err := ex.Confirm(ctx, entries, KindTaskLog, Match{WorkUnitID: "wu-1", TaskID: "t1"}, "real-uid")
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if got.Envelope.TaskUID != "real-uid" {
		t.Errorf("TaskUID = %q, want real-uid", got.Envelope.TaskUID)
	}

	// The posted entry itself must now carry the corrected uid.
	after, _ := jr.List(ctx)
	if !strings.Contains(after[0].Body, `"real-uid"`) {
		t.Error("journal entry should have been patched with the corrected uid")
	}
	if strings.Contains(after[0].Body, `"abc"`) {
		t.Error("journal entry still contains the stale uid")
	}
}

func TestConfirmFailClosedWhenEditFails(t *testing.T) {
	jr := journal.NewMemory()
	ctx := context.Background()
	if _, err := jr.Append(ctx, taskLogBody); err != nil {
		t.Fatal(err)
	}
	entries, _ := jr.List(ctx)
	jr.FailEdit = true

	ex := NewExtractor(jr, nil)
	_, err := ex.Confirm(ctx, entries, KindTaskLog, Match{WorkUnitID: "wu-1", TaskID: "t1"}, "real-uid")
	if !errors.Is(err, ErrUnconfirmed) {
		t.Errorf("Confirm() error = %v, want ErrUnconfirmed (fail-closed)", err)
	}
}

func TestRenderRoundTrip(t *testing.T) {
	env := &Envelope{
		Type:       KindTaskLog,
		WorkUnitID: "wu-1",
		TaskID:     "t1",
		TaskUID:    "abc",
		Attempt:    2,
		Status:     "pass",
		Verify:     &VerifyReport{Passed: []string{"go test ./..."}},
		Search:     &SearchEvidence{Queries: []string{"scheduler"}},
	}

	body, err := Render(env, "Attempt 2 complete.")
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	got := ExtractAll([]journal.Entry{entry("1", body)}, KindTaskLog)
	if len(got) != 1 {
		t.Fatalf("rendered body should round-trip, got %d envelopes", len(got))
	}
	e := got[0].Envelope
	if e.V != Version {
		t.Errorf("V = %d, want %d", e.V, Version)
	}
	if e.Attempt != 2 || e.TaskUID != "abc" {
		t.Errorf("round trip lost fields: %+v", e)
	}
	if e.Verify == nil || len(e.Verify.Passed) != 1 {
		t.Error("verify report lost in round trip")
	}
}
