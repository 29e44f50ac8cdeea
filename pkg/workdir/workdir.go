// Package workdir holds the log and temp directories handed to workers.
package workdir

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Dirs are the resolved working directories of a running proxy.
type Dirs struct {
	Log string
	Tmp string
}

// Ensure creates both directories if they do not exist.
func (d Dirs) Ensure() error {
	for _, dir := range []string{d.Log, d.Tmp} {
		if dir == "" {
			return errors.New("workdir: directory path is empty")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("workdir: failed to create %q: %w", dir, err)
		}
	}
	return nil
}

// Sweep removes regular files in the temp directory last modified before
// now minus maxAge and returns how many were removed. Subdirectories are
// walked; directories themselves are kept.
func (d Dirs) Sweep(maxAge time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-maxAge)
	removed := 0

	err := filepath.WalkDir(d.Tmp, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("workdir: sweep %q: %w", d.Tmp, err)
	}
	return removed, nil
}
