package driveq

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"driveq/internal/domain"
)

// renameAttempts bounds retries of the rename step in WriteAtomic. The
// write itself is never retried, only the rename into place.
const renameAttempts = 3

// FS wraps the shared drive with the small set of primitives the rest of
// the system is allowed to use. Listings may lag real state, so no result
// is cached across calls.
type FS struct{}

// WriteAtomic writes content so that readers never observe a partial
// file: the bytes land in a uniquely named dot-temp in the same
// directory, then rename into place.
func (FS) WriteAtomic(path string, data []byte) error {
	dir, base := filepath.Split(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", base, uuid.NewString()[:8]))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp for %s: %w", path, err)
	}

	var err error
	for i := 0; i < renameAttempts; i++ {
		if err = os.Rename(tmp, path); err == nil {
			return nil
		}
		time.Sleep(time.Duration(i+1) * 50 * time.Millisecond)
	}
	_ = os.Remove(tmp)
	return fmt.Errorf("rename %s into place: %w", path, err)
}

// WriteExclusive creates path with the given content only if it does not
// already exist, returning ErrConflict otherwise. Unlike WriteAtomic the
// content is written directly, trading partial-write risk for existence
// atomicity; callers must treat an unparseable result as stale.
func (FS) WriteExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("create %s: %w", path, domain.ErrConflict)
		}
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// RenameAtomic renames oldPath to newPath. A missing source maps to
// ErrNotFound (the caller lost a race, not a hard fault); an existing
// destination maps to ErrConflict.
func (FS) RenameAtomic(oldPath, newPath string) error {
	if _, err := os.Lstat(newPath); err == nil {
		return fmt.Errorf("rename to %s: %w", newPath, domain.ErrConflict)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("rename %s: %w", oldPath, domain.ErrNotFound)
		}
		return fmt.Errorf("rename %s to %s: %w", oldPath, newPath, err)
	}
	return nil
}

// ListEntries returns a snapshot of visible entries in dir carrying the
// given suffix (including the dot). Dot-prefixed names are in-flight temp
// files and never surface. A missing directory lists as empty; entries
// may vanish between listing and use.
func (FS) ListEntries(dir, suffix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var names []string
	for _, e := range ents {
		name := e.Name()
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, suffix) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// Remove deletes path. Absence of the target is not an error.
func (FS) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// ReadFile reads path, mapping absence to ErrNotFound.
func (FS) ReadFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("read %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b, nil
}

// Exists reports whether path is currently visible.
func (FS) Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// CleanupTemp removes dot-prefixed temp files in dir older than maxAge,
// left behind by writers that died mid-rename.
func (FS) CleanupTemp(dir string, maxAge time.Duration, now time.Time) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range ents {
		name := e.Name()
		if !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".tmp") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > maxAge {
			_ = os.Remove(filepath.Join(dir, name))
		}
	}
}
