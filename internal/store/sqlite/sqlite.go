// Package sqlite opens embedded stockroom stores with modernc.org/sqlite.
//
// Every open store holds a lock marker next to its data file. An exclusive
// open takes an exclusive flock on the marker; an AUTO_SERVER open takes a
// shared one so several processes can work on the same file. A conflicting
// holder makes Open fail with store.ErrLocked.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/maloquacious/stockroom/internal/logger"
	"github.com/maloquacious/stockroom/internal/store"
	"github.com/maloquacious/stockroom/internal/store/lock"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// DefaultBusyTimeout is how long sqlite waits on a locked database before
// reporting SQLITE_BUSY.
const DefaultBusyTimeout = 5 * time.Second

// Driver implements store.Driver and schema.Dialect for sqlite targets.
type Driver struct {
	busyTimeout time.Duration
	log         logger.Logger
}

// New creates a Driver. A zero busyTimeout uses DefaultBusyTimeout.
func New(busyTimeout time.Duration, log logger.Logger) *Driver {
	if busyTimeout <= 0 {
		busyTimeout = DefaultBusyTimeout
	}
	return &Driver{busyTimeout: busyTimeout, log: logger.OrDefault(log)}
}

// Open locks the target's marker and opens its data file with safe defaults.
func (d *Driver) Open(ctx context.Context, t store.Target) (*store.Handle, error) {
	if !t.IsFile() {
		return nil, fmt.Errorf("not an sqlite target: %q", t.URI)
	}
	if t.BasePath() == "" {
		return nil, fmt.Errorf("cannot resolve a store path for %q: %w", t.URI, store.ErrNoPath)
	}
	dbPath := t.DataFile()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	markerPath := lock.Path(t)
	marker := flock.New(markerPath)
	var locked bool
	var err error
	if t.AutoServer() {
		locked, err = marker.TryRLock()
	} else {
		locked, err = marker.TryLock()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", markerPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", markerPath, store.ErrLocked)
	}
	release := func() error { return d.releaseMarker(t, marker) }

	db, err := sql.Open("sqlite", d.dsn(dbPath))
	if err != nil {
		_ = release()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = release()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d.log.Debug("sqlite: opened %s (auto server %v)", dbPath, t.AutoServer())
	return store.NewHandle(db, release), nil
}

// dsn renders the pragmas as _pragma parameters so that every pooled
// connection gets them, not just the first.
func (d *Driver) dsn(dbPath string) string {
	pragmas := []string{
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"foreign_keys(1)",
		fmt.Sprintf("busy_timeout(%d)", d.busyTimeout.Milliseconds()),
	}
	values := url.Values{}
	for _, pragma := range pragmas {
		values.Add("_pragma", pragma)
	}
	return dbPath + "?" + values.Encode()
}

// releaseMarker drops this handle's lock and removes the marker when no one
// else holds it.
func (d *Driver) releaseMarker(t store.Target, marker *flock.Flock) error {
	if err := marker.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock %s: %w", marker.Path(), err)
	}
	lock.Cleanup(t, d.log)
	return nil
}

// Classify reports locked markers and SQLITE_BUSY/SQLITE_LOCKED as busy.
func (d *Driver) Classify(err error) store.Failure {
	if err == nil {
		return store.FailureOther
	}
	if errors.Is(err, store.ErrLocked) {
		return store.FailureBusy
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return store.FailureBusy
		}
		return store.FailureOther
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked") {
		return store.FailureBusy
	}
	return store.FailureOther
}

var _ store.Driver = (*Driver)(nil)
