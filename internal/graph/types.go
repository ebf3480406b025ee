package graph

import "time"

// Formula tags the topology of a task graph.
type Formula string

const (
	// FormulaFeature is the default linear-ish feature topology.
	FormulaFeature Formula = "feature"

	// FormulaBugfix is a reproduce-fix-verify topology.
	FormulaBugfix Formula = "bugfix"

	// FormulaRefactor is a wide, mostly independent topology.
	FormulaRefactor Formula = "refactor"
)

// Status values for Document.Status.
const (
	StatusActive         = "active"
	StatusComplete       = "complete"
	StatusBlocked        = "blocked"
	StatusReplanRequired = "replan_required"
)

// DiscoverySource identifies where a discovered task came from.
type DiscoverySource string

const (
	SourceAgent      DiscoverySource = "agent"
	SourceReview     DiscoverySource = "review"
	SourceWisp       DiscoverySource = "wisp"
	SourceDiscovered DiscoverySource = "discovered"
)

// Task is a single unit of schedulable work.
//
// Passes is mutated only by the orchestrator after authoritative
// verification. Agent self-reports never touch it.
type Task struct {
	// ID is the human-facing label, unique within the document.
	ID string `json:"id"`

	// UID is the deterministic identity, stable across restarts.
	UID string `json:"uid"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	// Priority orders eligible tasks; lower runs earlier.
	Priority int `json:"priority"`

	// DependsOn lists task IDs that must pass before this task is eligible.
	DependsOn []string `json:"dependsOn,omitempty"`

	AcceptanceCriteria []string `json:"acceptanceCriteria,omitempty"`

	// VerifyCommands are the authoritative check commands for this task.
	VerifyCommands []string `json:"verifyCommands,omitempty"`

	// Capability marks tasks needing capability-specific evidence (e.g. "ui").
	Capability string `json:"capability,omitempty"`

	Passes      bool       `json:"passes"`
	Attempts    int        `json:"attempts"`
	LastAttempt *time.Time `json:"lastAttempt,omitempty"`

	// DiscoveredFrom is the parent task UID for mid-run discoveries.
	DiscoveredFrom string `json:"discoveredFrom,omitempty"`

	// DiscoverySource records how a discovered task entered the graph.
	DiscoverySource DiscoverySource `json:"discoverySource,omitempty"`

	// Fingerprint deduplicates re-discovered tasks. See Fingerprint().
	Fingerprint string `json:"fingerprint,omitempty"`
}

// CompactionCounter tracks confirmed events toward the next summary post.
type CompactionCounter struct {
	Count     int `json:"count"`
	Threshold int `json:"threshold"`

	// LastSummaryEntry is the journal entry id of the previous summary,
	// empty if no summary has been posted yet.
	LastSummaryEntry string `json:"lastSummaryEntry,omitempty"`

	// Window accumulates "uid@attempt" markers since the previous summary.
	Window []string `json:"window,omitempty"`
}

// ReviewPolicy controls automatic conversion of review findings into tasks.
type ReviewPolicy struct {
	// AutoSeverity is the minimum severity auto-enqueued as a task.
	AutoSeverity string `json:"autoSeverity"`

	// Confidence is the minimum confidence for auto-enqueueing.
	Confidence float64 `json:"confidence"`
}

// RetryState is the loop's consecutive-failure bookkeeping, embedded in
// the document so a restart resumes from the same streaks.
type RetryState struct {
	ConsecutiveRetries    int        `json:"consecutiveRetries"`
	CurrentTaskID         string     `json:"currentTaskId,omitempty"`
	CurrentTaskRetryStreak int       `json:"currentTaskRetryStreak"`
	LastReplanAt          *time.Time `json:"lastReplanAt,omitempty"`
	LastReplanReason      string     `json:"lastReplanReason,omitempty"`
}

// FindingRecord is a review finding retained in the document until resolved.
type FindingRecord struct {
	ReviewID   string  `json:"reviewId"`
	FindingID  string  `json:"findingId"`
	Severity   string  `json:"severity"`
	Confidence float64 `json:"confidence"`
	Category   string  `json:"category,omitempty"`
	Evidence   string  `json:"evidence,omitempty"`

	// Status is one of open, enqueued, approved.
	Status string `json:"status"`
}

// ReviewState tracks which findings have been ingested so re-scanning the
// journal stays idempotent.
type ReviewState struct {
	// Seen holds "reviewId/findingId" keys already ingested.
	Seen []string `json:"seen,omitempty"`

	Findings []FindingRecord `json:"findings,omitempty"`
}

// Finding lifecycle states.
const (
	FindingOpen     = "open"
	FindingEnqueued = "enqueued"
	FindingApproved = "approved"
)

// Document is the persisted task graph: the single source of truth for
// scheduling. It is owned exclusively by the orchestrator process and
// mutated only through Store.
type Document struct {
	// Version of the document schema.
	Version int `json:"v"`

	WorkUnitID string  `json:"workUnitId"`
	Branch     string  `json:"branch,omitempty"`
	Formula    Formula `json:"formula"`
	Status     string  `json:"status"`

	Compaction CompactionCounter `json:"compaction"`
	Policy     ReviewPolicy      `json:"policy"`
	Retry      RetryState        `json:"retry"`
	Review     ReviewState       `json:"review"`

	Tasks []Task `json:"tasks"`
}

// DocumentVersion is the current schema version written by Save.
const DocumentVersion = 2

// TaskByID returns a pointer to the task with the given ID, or nil.
func (d *Document) TaskByID(id string) *Task {
	for i := range d.Tasks {
		if d.Tasks[i].ID == id {
			return &d.Tasks[i]
		}
	}
	return nil
}

// TaskByUID returns a pointer to the task with the given UID, or nil.
func (d *Document) TaskByUID(uid string) *Task {
	for i := range d.Tasks {
		if d.Tasks[i].UID == uid {
			return &d.Tasks[i]
		}
	}
	return nil
}

// Remaining returns the count of tasks that have not passed.
func (d *Document) Remaining() int {
	n := 0
	for i := range d.Tasks {
		if !d.Tasks[i].Passes {
			n++
		}
	}
	return n
}

// HasSeenFinding reports whether a finding key was already ingested.
func (r *ReviewState) HasSeenFinding(reviewID, findingID string) bool {
	key := reviewID + "/" + findingID
	for _, s := range r.Seen {
		if s == key {
			return true
		}
	}
	return false
}

// MarkFindingSeen records a finding key as ingested.
func (r *ReviewState) MarkFindingSeen(reviewID, findingID string) {
	if r.HasSeenFinding(reviewID, findingID) {
		return
	}
	r.Seen = append(r.Seen, reviewID+"/"+findingID)
}
