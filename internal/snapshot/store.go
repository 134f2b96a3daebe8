// Package snapshot stores immutable raw snapshots, one JSON document per
// (source_id, run_id). A snapshot is never mutated after write; a new run
// writes under its own run_id and supersedes older snapshots.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store writes and reads raw snapshots under a root directory, laid out
// as <root>/<run_id>/<source_id>.json.
type Store struct {
	root string
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Path returns the snapshot path for a source within a run.
func (s *Store) Path(runID, sourceID string) string {
	return filepath.Join(s.root, runID, sourceID+".json")
}

// Write persists rows as the snapshot for (sourceID, runID). Writing over
// an existing snapshot is an error: snapshots are immutable.
func (s *Store) Write(runID, sourceID string, rows any) (string, error) {
	path := s.Path(runID, sourceID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating snapshot dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return "", fmt.Errorf("snapshot already exists: %s", path)
		}
		return "", fmt.Errorf("creating snapshot: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return "", fmt.Errorf("writing snapshot %s: %w", path, err)
	}
	return path, nil
}

// Read loads a snapshot's rows back for normalization.
func (s *Store) Read(runID, sourceID string) ([]map[string]any, error) {
	data, err := os.ReadFile(s.Path(runID, sourceID))
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	return rows, nil
}
