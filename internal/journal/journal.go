// Package journal provides the append-only external log: a remote,
// ordered comment thread keyed by a work unit. It supports append,
// ordered read, and a narrow edit used only for identity correction.
package journal

import (
	"context"
	"errors"
	"time"
)

// Entry is one comment in the thread, ordered oldest-first by List.
type Entry struct {
	// ID is the provider's entry identifier, usable with Edit.
	ID string

	// Body is the full free-text comment body.
	Body string

	CreatedAt time.Time
}

// ErrEntryNotFound is returned by Edit when the entry id is unknown.
var ErrEntryNotFound = errors.New("journal entry not found")

// Journal is the append-only remote log.
//
// Append and List are the normal read/write surface. Edit exists solely
// for the extractor's identity-correction patch; nothing else may rewrite
// history.
type Journal interface {
	// Append posts a new entry and returns its id.
	Append(ctx context.Context, body string) (string, error)

	// List returns all entries in chronological order, oldest first.
	List(ctx context.Context) ([]Entry, error)

	// Edit replaces the body of an existing entry.
	Edit(ctx context.Context, id, body string) error
}
