// Package graph holds the persisted task-graph document and its store.
//
// The document is the single source of truth for scheduling. The Store is
// the only write path: every mutation goes read-modify-atomic-write
// through Save, which writes a temp file and renames it into place.
package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DocumentFileName is the on-disk name of the task graph document.
const DocumentFileName = "orbiter-tasks.json"

// ErrCorruptState is returned when the document file is not valid JSON
// or fails basic structural checks.
var ErrCorruptState = errors.New("task graph document is corrupt")

// BackfillOptions supplies defaults for fields missing from older documents.
type BackfillOptions struct {
	CompactionThreshold int
	AutoSeverity        string
	Confidence          float64
}

// Store loads and saves the task graph document for one state directory.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at the given state directory.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the full path of the document file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, DocumentFileName)
}

// Load reads and parses the document. A missing file is returned as an
// os.ErrNotExist-wrapped error; malformed content is ErrCorruptState.
func (s *Store) Load() (*Document, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		return nil, fmt.Errorf("read task graph: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if doc.WorkUnitID == "" {
		return nil, fmt.Errorf("%w: missing workUnitId", ErrCorruptState)
	}
	return &doc, nil
}

// Save writes the document atomically: marshal, write temp file, rename.
// This is the only write path for the document.
func (s *Store) Save(doc *Document) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	doc.Version = DocumentVersion

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task graph: %w", err)
	}
	data = append(data, '\n')

	target := s.Path()
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// BackfillDefaults populates fields that older documents lack without
// touching fields that are already present. It is idempotent: running it
// on an already-backfilled document changes nothing.
func BackfillDefaults(doc *Document, opts BackfillOptions) {
	if doc.Formula == "" {
		doc.Formula = FormulaFeature
	}
	if doc.Status == "" {
		doc.Status = StatusActive
	}
	if doc.Compaction.Threshold == 0 {
		doc.Compaction.Threshold = opts.CompactionThreshold
	}
	if doc.Policy.AutoSeverity == "" {
		doc.Policy.AutoSeverity = opts.AutoSeverity
	}
	if doc.Policy.Confidence == 0 {
		doc.Policy.Confidence = opts.Confidence
	}

	for i := range doc.Tasks {
		t := &doc.Tasks[i]
		if t.UID == "" {
			// Sequential position is the ordinal for pre-uid documents.
			t.UID = UID(doc.WorkUnitID, t.Title, t.DiscoveredFrom, i)
		}
		if t.DiscoveredFrom != "" && t.DiscoverySource == "" {
			t.DiscoverySource = SourceDiscovered
		}
		if t.Fingerprint == "" && t.DiscoveredFrom != "" {
			t.Fingerprint = Fingerprint(t.Title, t.Description, t.AcceptanceCriteria, t.DiscoveredFrom)
		}
	}
}
