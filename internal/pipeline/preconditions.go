package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/franz/music-librarian/internal/dedup"
	"github.com/franz/music-librarian/internal/store"
	"github.com/franz/music-librarian/internal/util"
)

// checkSource fails unless the source root is an existing directory
func checkSource(source string) error {
	info, err := os.Stat(source)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return util.Precondition("source", fmt.Errorf("%w: %s", util.ErrSourceMissing, source))
		}
		return util.Precondition("source", err)
	}
	if !info.IsDir() {
		return util.Precondition("source", fmt.Errorf("%w: %s is not a directory", util.ErrSourceMissing, source))
	}
	return nil
}

// checkCapabilities verifies content hashing and the full-text index
func checkCapabilities() error {
	if !dedup.Available() {
		return util.Precondition("hashing", fmt.Errorf("%w: SHA-256", util.ErrCapability))
	}
	if err := store.CheckFTS5(); err != nil {
		return util.Precondition("fts5", fmt.Errorf("%w: %v", util.ErrCapability, err))
	}
	return nil
}

// checkTarget makes sure the library root exists (create) or could be
// created (dry run: the nearest existing ancestor must be a directory)
func checkTarget(target string, create bool) error {
	if create {
		if err := os.MkdirAll(target, 0755); err != nil {
			return util.Precondition("target", err)
		}
		return nil
	}

	dir := filepath.Clean(target)
	for {
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				return util.Precondition("target", fmt.Errorf("%s is not a directory: %w", dir, util.ErrConflict))
			}
			return nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return util.Precondition("target", err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return util.Precondition("target", err)
		}
		dir = parent
	}
}

// checkFreeSpace fails when the target cannot hold need bytes
func checkFreeSpace(target string, need int64) error {
	free, err := util.FreeBytes(target)
	if err != nil {
		util.WarnLog("Could not determine free space on %s: %v", target, err)
		return nil
	}
	if need > 0 && uint64(need) > free {
		return util.Precondition("free-space", fmt.Errorf("%w: need %s, %s available on %s",
			util.ErrDiskFull, util.FormatBytes(need), util.FormatBytes(int64(free)), target))
	}
	return nil
}

// acquireLock takes the single-writer catalog lock next to the database
func acquireLock(dbPath string) (*flock.Flock, error) {
	lockPath := dbPath + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, util.Precondition("lock", err)
	}

	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, util.Precondition("lock", fmt.Errorf("acquire lock: %w", err))
	}
	if !ok {
		return nil, util.Precondition("lock", fmt.Errorf("%w (%s)", util.ErrLocked, lockPath))
	}
	return lock, nil
}
