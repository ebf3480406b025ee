// Package wisp manages time-boxed hint notes. A wisp carries context for
// upcoming iterations but is not durable: unless explicitly promoted to a
// persistent note or a task before it expires, it silently drops out of
// all future context. There is no archival path for an expired wisp.
package wisp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"orbiter/internal/discovery"
	"orbiter/internal/envelope"
	"orbiter/internal/graph"
	"orbiter/internal/journal"
	"orbiter/internal/logging"
)

// Wisp is an active hint note recovered from the journal.
type Wisp struct {
	ID         string
	WorkUnitID string
	TaskUID    string
	Note       string
	ExpiresAt  time.Time
	Promoted   bool

	// entryID is the journal entry the wisp envelope lives in.
	entryID string
}

// TargetKind selects what a wisp is promoted into.
type TargetKind int

const (
	// KindNote promotes the wisp into a durable journal note.
	KindNote TargetKind = iota

	// KindTask promotes the wisp into a discovered task.
	KindTask
)

// Manager creates, collects, and promotes wisps.
type Manager struct {
	jr     journal.Journal
	logger *logging.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager over the given journal.
func NewManager(jr journal.Journal, logger *logging.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	m := &Manager{jr: jr, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create posts a new wisp envelope with the given lifetime.
func (m *Manager) Create(ctx context.Context, workUnitID, taskUID, note string, ttl time.Duration) (*Wisp, error) {
	if note == "" {
		return nil, fmt.Errorf("wisp note required")
	}

	expires := m.now().Add(ttl).UTC()
	env := &envelope.Envelope{
		Type:       envelope.KindWisp,
		WorkUnitID: workUnitID,
		TaskUID:    taskUID,
		WispID:     uuid.NewString(),
		Note:       note,
		ExpiresAt:  &expires,
	}

	body, err := envelope.Render(env, "")
	if err != nil {
		return nil, err
	}
	entryID, err := m.jr.Append(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("post wisp: %w", err)
	}

	m.logger.Debug("created wisp", "wisp", env.WispID, "expires", expires)
	return &Wisp{
		ID:         env.WispID,
		WorkUnitID: workUnitID,
		TaskUID:    taskUID,
		Note:       note,
		ExpiresAt:  expires,
		entryID:    entryID,
	}, nil
}

// CollectActive returns the wisps that are still live for the work unit:
// unexpired, unpromoted, and well-formed. Malformed, expired,
// already-promoted, or missing-expiry wisps are excluded silently — that
// is normal operation, not an error.
func (m *Manager) CollectActive(entries []journal.Entry, workUnitID string) []Wisp {
	now := m.now()

	// Most recent envelope per wisp id wins, so a promotion edit or a
	// re-post supersedes earlier state.
	latest := make(map[string]envelope.Extracted)
	var order []string
	for _, ex := range envelope.ExtractAll(entries, envelope.KindWisp) {
		env := ex.Envelope
		if env.WispID == "" {
			continue
		}
		if workUnitID != "" && env.WorkUnitID != workUnitID {
			continue
		}
		if _, seen := latest[env.WispID]; !seen {
			order = append(order, env.WispID)
		}
		latest[env.WispID] = ex
	}

	var active []Wisp
	for _, id := range order {
		ex := latest[id]
		env := ex.Envelope
		if env.Promoted {
			continue
		}
		if env.ExpiresAt == nil || !env.ExpiresAt.After(now) {
			continue
		}
		if env.Note == "" {
			continue
		}
		active = append(active, Wisp{
			ID:         env.WispID,
			WorkUnitID: env.WorkUnitID,
			TaskUID:    env.TaskUID,
			Note:       env.Note,
			ExpiresAt:  *env.ExpiresAt,
			entryID:    ex.EntryID,
		})
	}
	return active
}

// Promote converts the wisp's content into a durable artifact and marks
// the original promoted. This is the only path by which wisp content
// survives past expiration. If the promoted mark cannot be written the
// promotion fails and the wisp stays unpromoted.
func (m *Manager) Promote(ctx context.Context, doc *graph.Document, enq *discovery.Enqueuer, w *Wisp, kind TargetKind) error {
	if w.Promoted {
		return nil
	}

	switch kind {
	case KindNote:
		body := fmt.Sprintf("### Note\n\nPromoted from wisp %s:\n\n%s\n", w.ID, w.Note)
		if _, err := m.jr.Append(ctx, body); err != nil {
			return fmt.Errorf("post promoted note: %w", err)
		}

	case KindTask:
		parent := discovery.Parent{ID: "root", UID: ""}
		if p := doc.TaskByUID(w.TaskUID); p != nil {
			parent = discovery.Parent{ID: p.ID, UID: p.UID, Priority: p.Priority}
		}
		_, err := enq.Enqueue(doc, parent, graph.SourceWisp, []envelope.DiscoveredTask{{
			Title:       noteTitle(w.Note),
			Description: w.Note,
		}})
		if err != nil {
			return fmt.Errorf("enqueue promoted wisp: %w", err)
		}

	default:
		return fmt.Errorf("unknown promotion target %d", kind)
	}

	if err := m.markPromoted(ctx, w); err != nil {
		return fmt.Errorf("mark wisp promoted: %w", err)
	}
	w.Promoted = true
	m.logger.Info("promoted wisp", "wisp", w.ID, "kind", kind)
	return nil
}

// markPromoted rewrites the wisp's journal entry with promoted=true.
func (m *Manager) markPromoted(ctx context.Context, w *Wisp) error {
	env := &envelope.Envelope{
		Type:       envelope.KindWisp,
		WorkUnitID: w.WorkUnitID,
		TaskUID:    w.TaskUID,
		WispID:     w.ID,
		Note:       w.Note,
		ExpiresAt:  &w.ExpiresAt,
		Promoted:   true,
	}
	body, err := envelope.Render(env, "")
	if err != nil {
		return err
	}
	return m.jr.Edit(ctx, w.entryID, body)
}

// noteTitle derives a short task title from the wisp note.
func noteTitle(note string) string {
	line := note
	if i := strings.IndexByte(note, '\n'); i >= 0 {
		line = note[:i]
	}
	line = strings.TrimSpace(line)
	if len(line) > 72 {
		line = line[:72]
	}
	return line
}
