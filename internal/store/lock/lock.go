// Package lock inspects and removes the lock marker an embedded store leaves
// next to its data file.
//
// The marker is created and flock-held by the sqlite driver while a store is
// open. A marker that nobody holds is stale and may be removed. Removal is
// best effort: between the probe and the unlink another process can open the
// store, so a true result from Cleanup means the file was gone at that
// moment, not that opening the store is now safe.
package lock

import (
	"errors"
	"os"

	"github.com/gofrs/flock"
	"github.com/maloquacious/stockroom/internal/logger"
	"github.com/maloquacious/stockroom/internal/store"
)

// Path derives the lock marker path for t. It returns "" for targets that
// are not file backed.
func Path(t store.Target) string {
	base := t.BasePath()
	if base == "" {
		return ""
	}
	return base + store.LockFileSuffix
}

// Held reports whether another open handle holds the marker for t.
// A missing marker is not held.
func Held(t store.Target) bool {
	path := Path(t)
	if path == "" || !exists(path) {
		return false
	}
	fl, err := probe(path)
	if err != nil || fl == nil {
		return true
	}
	_ = fl.Unlock()
	return false
}

// Cleanup removes a stale lock marker for t. It returns true when no marker
// exists or the marker was removed, and false when the marker is still held
// or could not be removed. It never panics; failures are logged to log.
func Cleanup(t store.Target, log logger.Logger) bool {
	log = logger.OrDefault(log)
	path := Path(t)
	if path == "" || !exists(path) {
		return true
	}

	fl, err := probe(path)
	if err != nil {
		log.Warn("lock: probe %s: %v", path, err)
		return false
	}
	if fl == nil {
		log.Info("lock: %s is still held", path)
		return false
	}
	defer func() { _ = fl.Unlock() }()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("lock: remove %s: %v", path, err)
		return false
	}
	log.Info("lock: removed stale lock file %s", path)
	return true
}

// probe takes an exclusive lock on an existing marker without creating it.
// It returns nil when another handle holds the marker; otherwise the caller
// must unlock the returned lock.
func probe(path string) (*flock.Flock, error) {
	fl := flock.New(path, flock.SetFlag(os.O_RDWR))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, nil
	}
	return fl, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
