package journal

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-memory Journal for tests and dry runs. Entries are
// ordered by insertion; ids are sequential integers.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	nextID  int

	// FailAppend and FailEdit force the next calls to fail, for testing
	// log-write failure handling.
	FailAppend bool
	FailEdit   bool
}

// NewMemory creates an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{nextID: 1}
}

// Append stores a new entry.
func (m *Memory) Append(_ context.Context, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAppend {
		return "", fmt.Errorf("append failed (simulated)")
	}

	id := strconv.Itoa(m.nextID)
	m.nextID++
	m.entries = append(m.entries, Entry{
		ID:        id,
		Body:      body,
		CreatedAt: time.Now(),
	})
	return id, nil
}

// List returns a copy of all entries in insertion order.
func (m *Memory) List(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

// Edit replaces an entry's body in place.
func (m *Memory) Edit(_ context.Context, id, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailEdit {
		return fmt.Errorf("edit failed (simulated)")
	}

	for i := range m.entries {
		if m.entries[i].ID == id {
			m.entries[i].Body = body
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
}
