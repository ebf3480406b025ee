package envelope

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"orbiter/internal/journal"
	"orbiter/internal/logging"
)

// ErrUnconfirmed is returned when no envelope confirms the requested
// correlation, or when an identity correction could not be applied.
// Callers must treat it as "not confirmed", never as success.
var ErrUnconfirmed = errors.New("event unconfirmed")

// Extracted pairs a parsed envelope with the journal entry it came from.
type Extracted struct {
	Envelope Envelope

	// EntryID is the journal entry the envelope was found in.
	EntryID string

	// EntryIndex is the entry's position in the listed thread.
	EntryIndex int
}

// Extractor parses envelopes out of the journal and applies identity
// corrections through its Edit operation.
type Extractor struct {
	jr     journal.Journal
	logger *logging.Logger
}

// NewExtractor creates an Extractor over the given journal.
func NewExtractor(jr journal.Journal, logger *logging.Logger) *Extractor {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Extractor{jr: jr, logger: logger}
}

// ExtractAll returns every well-formed envelope of the given kind found in
// the entries, in chronological order. Malformed JSON inside a correctly
// labeled block is skipped silently; JSON anywhere else is never considered.
func ExtractAll(entries []journal.Entry, kind Kind) []Extracted {
	var out []Extracted
	for i, entry := range entries {
		for _, block := range labeledBlocks(entry.Body, kind.Heading()) {
			var env Envelope
			if err := json.Unmarshal([]byte(block), &env); err != nil {
				continue // malformed payload under a valid heading: skip, not fatal
			}
			if env.Type != "" && env.Type != kind {
				continue
			}
			out = append(out, Extracted{Envelope: env, EntryID: entry.ID, EntryIndex: i})
		}
	}
	return out
}

// labeledBlocks returns the raw contents of every fenced code block that
// appears directly under the given heading. The heading must start a line;
// the fence must be the next non-blank line after it.
func labeledBlocks(body, heading string) []string {
	if heading == "" {
		return nil
	}

	var blocks []string
	lines := strings.Split(body, "\n")
	for i := 0; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) != heading {
			continue
		}

		j := i + 1
		for j < len(lines) && strings.TrimSpace(lines[j]) == "" {
			j++
		}
		if j >= len(lines) {
			break
		}
		fence := strings.TrimSpace(lines[j])
		if fence != "```json" && fence != "```" {
			continue // heading without an immediate fenced block
		}

		var payload []string
		k := j + 1
		for ; k < len(lines); k++ {
			if strings.TrimSpace(lines[k]) == "```" {
				break
			}
			payload = append(payload, lines[k])
		}
		if k >= len(lines) {
			break // unterminated fence
		}
		blocks = append(blocks, strings.Join(payload, "\n"))
		i = k
	}
	return blocks
}

// Match narrows a Latest query to a correlation.
type Match struct {
	WorkUnitID string
	TaskID     string

	// Attempt, when nonzero, must match the envelope's attempt.
	Attempt int
}

func (m Match) matches(env *Envelope) bool {
	if m.WorkUnitID != "" && env.WorkUnitID != m.WorkUnitID {
		return false
	}
	if m.TaskID != "" && env.TaskID != m.TaskID {
		return false
	}
	if m.Attempt != 0 && env.Attempt != m.Attempt {
		return false
	}
	return true
}

// Latest returns the most recent envelope of the given kind matching the
// correlation. When multiple envelopes match, the last in chronological
// order is authoritative. Returns ErrUnconfirmed when nothing matches.
func Latest(entries []journal.Entry, kind Kind, m Match) (*Extracted, error) {
	all := ExtractAll(entries, kind)
	for i := len(all) - 1; i >= 0; i-- {
		if m.matches(&all[i].Envelope) {
			return &all[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no %s event for task %q", ErrUnconfirmed, kind, m.TaskID)
}

// Confirm returns the authoritative envelope for the correlation with the
// expected task identity. If the matched envelope carries a different uid,
// Confirm attempts an identity correction: it rewrites the posted entry to
// substitute the expected uid and returns the corrected envelope. If the
// edit fails the event is unconfirmed — a wrong identity is never accepted.
func (e *Extractor) Confirm(ctx context.Context, entries []journal.Entry, kind Kind, m Match, expectedUID string) (*Extracted, error) {
	found, err := Latest(entries, kind, m)
	if err != nil {
		return nil, err
	}

	if expectedUID == "" || found.Envelope.TaskUID == expectedUID {
		return found, nil
	}

	corrected, err := e.correctIdentity(ctx, found, expectedUID)
	if err != nil {
		e.logger.Warn("identity correction failed",
			"entry", found.EntryID,
			"got_uid", found.Envelope.TaskUID,
			"want_uid", expectedUID,
			"error", err)
		return nil, fmt.Errorf("%w: identity mismatch (got %q, want %q)",
			ErrUnconfirmed, found.Envelope.TaskUID, expectedUID)
	}
	return corrected, nil
}

// correctIdentity patches the journal entry so the envelope carries the
// expected uid. The whole entry body is rewritten with only the uid field
// substituted inside the labeled block.
func (e *Extractor) correctIdentity(ctx context.Context, found *Extracted, expectedUID string) (*Extracted, error) {
	entries, err := e.jr.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("reread journal: %w", err)
	}

	var body string
	for _, entry := range entries {
		if entry.ID == found.EntryID {
			body = entry.Body
			break
		}
	}
	if body == "" {
		return nil, journal.ErrEntryNotFound
	}

	wrongUID := found.Envelope.TaskUID
	if wrongUID == "" {
		return nil, fmt.Errorf("envelope has no uid to correct")
	}

	patched := strings.ReplaceAll(body, fmt.Sprintf("%q", wrongUID), fmt.Sprintf("%q", expectedUID))
	if patched == body {
		return nil, fmt.Errorf("uid %q not found in entry body", wrongUID)
	}

	if err := e.jr.Edit(ctx, found.EntryID, patched); err != nil {
		return nil, err
	}

	e.logger.Info("corrected event identity",
		"entry", found.EntryID, "from", wrongUID, "to", expectedUID)

	corrected := *found
	corrected.Envelope.TaskUID = expectedUID
	return &corrected, nil
}
