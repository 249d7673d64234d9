package main

import (
	"fmt"

	"github.com/gofrs/flock"

	"github.com/franz/music-librarian/internal/config"
	"github.com/franz/music-librarian/internal/util"
)

// lockCatalog takes the same single-writer lock organize runs hold, so
// maintenance commands never race a run
func lockCatalog(cfg *config.Config) (*flock.Flock, error) {
	lock := flock.New(cfg.Database + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, util.Precondition("lock", fmt.Errorf("%w (%s)", util.ErrLocked, lock.Path()))
	}
	return lock, nil
}
