package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Deployer publishes a generated site directory to the production
// target. Deploy must only return nil once the target is fully in place;
// the orchestrator will not close a run as success otherwise.
type Deployer interface {
	Deploy(ctx context.Context, siteDir string) error
}

// DirDeployer publishes by replacing a target directory. The new tree is
// staged next to the target and swapped in with renames, so the previous
// production output stays intact until the copy is complete.
type DirDeployer struct {
	Target string
}

func (d *DirDeployer) Deploy(ctx context.Context, siteDir string) error {
	staging := d.Target + ".staging"
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("clearing staging dir: %w", err)
	}
	if err := copyTree(siteDir, staging); err != nil {
		return fmt.Errorf("staging deploy: %w", err)
	}

	old := d.Target + ".old"
	if err := os.RemoveAll(old); err != nil {
		return fmt.Errorf("clearing old deploy: %w", err)
	}
	if _, err := os.Stat(d.Target); err == nil {
		if err := os.Rename(d.Target, old); err != nil {
			return fmt.Errorf("moving previous deploy aside: %w", err)
		}
	}
	if err := os.Rename(staging, d.Target); err != nil {
		// Put the previous deploy back; the target must never be left empty.
		if _, statErr := os.Stat(old); statErr == nil {
			_ = os.Rename(old, d.Target)
		}
		return fmt.Errorf("activating deploy: %w", err)
	}
	_ = os.RemoveAll(old)
	return nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		defer out.Close()
		if _, err := io.Copy(out, in); err != nil {
			return err
		}
		return out.Close()
	})
}
