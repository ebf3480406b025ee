// Package envelope defines the versioned event envelopes embedded in the
// journal and the extractor that recovers them from free text.
//
// Events are fenced JSON blocks placed directly under a dedicated heading
// in a comment body. All other JSON in the thread (examples, quoted code,
// unrelated payloads) is ignored. Events are immutable once posted except
// for a narrow identity-correction patch.
package envelope

import "time"

// Version is the envelope schema version written by Render.
const Version = 1

// Kind is the envelope type.
type Kind string

const (
	KindTaskLog   Kind = "task_log"
	KindReviewLog Kind = "review_log"
	KindWisp      Kind = "wisp"
)

// Heading returns the markdown heading an envelope of this kind must sit
// under in a journal entry.
func (k Kind) Heading() string {
	switch k {
	case KindTaskLog:
		return "### Task Log"
	case KindReviewLog:
		return "### Review Log"
	case KindWisp:
		return "### Wisp"
	default:
		return ""
	}
}

// VerifyReport is the structured verification evidence inside an event.
type VerifyReport struct {
	Passed []string `json:"passed,omitempty"`
	Failed []string `json:"failed,omitempty"`
}

// SearchEvidence records the investigation performed during an attempt.
type SearchEvidence struct {
	Queries        []string `json:"queries,omitempty"`
	FilesInspected []string `json:"filesInspected,omitempty"`
}

// DiscoveredTask is a candidate task reported mid-execution.
type DiscoveredTask struct {
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	AcceptanceCriteria []string `json:"acceptanceCriteria,omitempty"`
	VerifyCommands     []string `json:"verifyCommands,omitempty"`
}

// Finding is one quality-review finding inside a review_log event.
type Finding struct {
	ID         string          `json:"id"`
	Severity   string          `json:"severity"`
	Confidence float64         `json:"confidence"`
	Category   string          `json:"category,omitempty"`
	Evidence   string          `json:"evidence,omitempty"`
	Suggested  *DiscoveredTask `json:"suggestedTask,omitempty"`
}

// Envelope is the versioned event record. Task-log, review-log, and wisp
// events share the envelope; kind-specific fields are optional.
type Envelope struct {
	V    int  `json:"v"`
	Type Kind `json:"type"`

	// Correlation fields.
	WorkUnitID string `json:"workUnitId"`
	TaskID     string `json:"taskId,omitempty"`
	TaskUID    string `json:"taskUid,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
	Commit     string `json:"commit,omitempty"`

	Status string `json:"status,omitempty"`

	// Task-log payload.
	Verify     *VerifyReport    `json:"verify,omitempty"`
	Search     *SearchEvidence  `json:"search,omitempty"`
	Discovered []DiscoveredTask `json:"discovered,omitempty"`
	Patterns   []string         `json:"patterns,omitempty"`

	// Review-log payload.
	ReviewID string    `json:"reviewId,omitempty"`
	Findings []Finding `json:"findings,omitempty"`

	// Wisp payload.
	WispID    string     `json:"wispId,omitempty"`
	Note      string     `json:"note,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Promoted  bool       `json:"promoted,omitempty"`

	Timestamp time.Time `json:"ts"`
}
