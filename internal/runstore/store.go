// Package runstore persists per-run artifacts under a directory
// namespaced by run_id, and manages the shared latest/previous canonical
// dataset pointers. The latest pointer is single-writer and replaced by
// write-new-then-rename, so a killed or hard-failed run can never leave
// it partially written.
package runstore

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"policypipe/internal/schema"
)

// Store owns the artifact tree for pipeline runs.
//
//	<root>/runs/<run_id>/...        per-run artifacts
//	<root>/canonical/latest/...     last successfully published dataset
//	<root>/canonical/previous/...   the one before, kept for diffing
type Store struct {
	root string
}

// New returns a Store rooted at dir.
func New(dir string) *Store {
	return &Store{root: dir}
}

// RunDir returns the artifact directory for a run.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.root, "runs", runID)
}

func (s *Store) latestPath() string {
	return filepath.Join(s.root, "canonical", "latest", "policies.json")
}

func (s *Store) previousPath() string {
	return filepath.Join(s.root, "canonical", "previous", "policies.json")
}

// WriteArtifact writes v as indented JSON under the run's directory.
func (s *Store) WriteArtifact(runID, rel string, v any) (string, error) {
	path := filepath.Join(s.RunDir(runID), rel)
	if err := writeJSON(path, v); err != nil {
		return "", err
	}
	return path, nil
}

// WriteMeta rewrites the run metadata file. It is called at every stage
// transition so a crashed run still records where it stopped.
func (s *Store) WriteMeta(meta *schema.RunMeta) error {
	meta.UpdatedAt = time.Now().UTC()
	return writeJSON(filepath.Join(s.RunDir(meta.RunID), "run_meta.json"), meta)
}

// ReadLatest loads the last published canonical dataset. A missing file
// is an empty dataset, not an error (first run).
func (s *Store) ReadLatest() ([]schema.CanonicalRecord, error) {
	data, err := os.ReadFile(s.latestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading latest canonical: %w", err)
	}
	var records []schema.CanonicalRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing latest canonical: %w", err)
	}
	return records, nil
}

// LatestBytes returns the raw latest dataset, for byte-identity checks.
func (s *Store) LatestBytes() ([]byte, error) {
	return os.ReadFile(s.latestPath())
}

// PublishLatest rotates the canonical pointers: the current latest is
// copied to previous, then the new dataset is written beside latest and
// renamed over it. Only called after both gates cleared the run.
func (s *Store) PublishLatest(records []schema.CanonicalRecord) error {
	latest := s.latestPath()
	if _, err := os.Stat(latest); err == nil {
		if err := copyFile(latest, s.previousPath()); err != nil {
			return fmt.Errorf("rotating previous canonical: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(latest), 0o755); err != nil {
		return fmt.Errorf("creating canonical dir: %w", err)
	}
	tmp := latest + ".tmp"
	if err := writeJSON(tmp, records); err != nil {
		return err
	}
	if err := os.Rename(tmp, latest); err != nil {
		return fmt.Errorf("replacing latest canonical: %w", err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating artifact dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
