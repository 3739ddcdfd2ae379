package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/maloquacious/stockroom/internal/logger"
	"github.com/maloquacious/stockroom/internal/store"
	"github.com/maloquacious/stockroom/internal/store/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	msqlite "modernc.org/sqlite"
)

func target(t *testing.T, kind store.Kind, params string) store.Target {
	t.Helper()
	base := filepath.Join(t.TempDir(), "nested", "stockroom")
	return store.Target{Kind: kind, URI: store.SchemeSQLite + base + params, Username: store.DefaultUsername}
}

func TestOpenCreatesStoreAndMarker(t *testing.T) {
	ctx := context.Background()
	d := New(0, logger.Nop)
	tgt := target(t, store.LocalEmbedded, "")

	h, err := d.Open(ctx, tgt)
	require.NoError(t, err)

	exists, err := store.CheckExists(tgt)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.True(t, lock.Held(tgt))

	var mode string
	require.NoError(t, h.DB.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	require.NoError(t, h.Close())
	_, err = os.Stat(lock.Path(tgt))
	assert.True(t, os.IsNotExist(err), "closing the last holder removes the marker")
}

func TestExclusiveOpenIsBusyWhileHeld(t *testing.T) {
	ctx := context.Background()
	d := New(0, logger.Nop)
	tgt := target(t, store.LocalEmbedded, "")

	first, err := d.Open(ctx, tgt)
	require.NoError(t, err)
	defer first.Close()

	_, err = d.Open(ctx, tgt)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrLocked)
	assert.Equal(t, store.FailureBusy, d.Classify(err))
	assert.False(t, lock.Cleanup(tgt, logger.Nop), "a live holder keeps its marker")
}

func TestAutoServerOpensShareTheMarker(t *testing.T) {
	ctx := context.Background()
	d := New(0, logger.Nop)
	tgt := target(t, store.PreferredExternal, ";AUTO_SERVER=TRUE")

	first, err := d.Open(ctx, tgt)
	require.NoError(t, err)
	second, err := d.Open(ctx, tgt)
	require.NoError(t, err)

	// An exclusive open of the same file conflicts with the shared holders.
	exclusive := store.Target{Kind: store.LocalEmbedded, URI: store.SchemeSQLite + tgt.BasePath()}
	_, err = d.Open(ctx, exclusive)
	assert.ErrorIs(t, err, store.ErrLocked)

	require.NoError(t, first.Close())
	assert.True(t, lock.Held(tgt), "the second holder still has the marker")
	require.NoError(t, second.Close())
	assert.False(t, lock.Held(tgt))
}

func TestOpenRejectsNonSQLiteTarget(t *testing.T) {
	d := New(0, logger.Nop)
	_, err := d.Open(context.Background(), store.Target{Kind: store.Networked, URI: "mysql://127.0.0.1:3306/x"})
	require.Error(t, err)
	assert.Equal(t, store.FailureOther, d.Classify(err))
}

func TestClassify(t *testing.T) {
	d := New(0, logger.Nop)
	tests := []struct {
		name string
		err  error
		want store.Failure
	}{
		{name: "nil", err: nil, want: store.FailureOther},
		{name: "marker locked", err: fmt.Errorf("x.lock.db: %w", store.ErrLocked), want: store.FailureBusy},
		{name: "message fallback", err: errors.New("database is locked (5) (SQLITE_BUSY)"), want: store.FailureBusy},
		{name: "other", err: errors.New("unable to open database file"), want: store.FailureOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Classify(tt.err))
		})
	}
}

func TestClassifySQLiteErrorCode(t *testing.T) {
	d := New(0, logger.Nop)
	ctx := context.Background()
	h, err := d.Open(ctx, target(t, store.LocalEmbedded, ""))
	require.NoError(t, err)
	defer h.Close()

	_, err = h.DB.ExecContext(ctx, "SELECT * FROM no_such_table")
	require.Error(t, err)
	var sqliteErr *msqlite.Error
	require.True(t, errors.As(err, &sqliteErr))
	assert.Equal(t, store.FailureOther, d.Classify(err))
}

func TestDSNCarriesPragmas(t *testing.T) {
	d := New(0, logger.Nop)
	dsn := d.dsn("/tmp/stockroom.db")
	assert.Contains(t, dsn, "/tmp/stockroom.db?")
	assert.Contains(t, dsn, "busy_timeout%285000%29")
	assert.Contains(t, dsn, "journal_mode%28WAL%29")
	assert.Contains(t, dsn, "foreign_keys%281%29")
}

func TestOpenFailsWithoutHomeDirectory(t *testing.T) {
	t.Setenv("HOME", "")
	d := New(0, logger.Nop)

	_, err := d.Open(context.Background(), store.Target{Kind: store.PreferredExternal, URI: "sqlite:~/stockroom;AUTO_SERVER=TRUE"})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNoPath)
	_, statErr := os.Stat("~")
	assert.True(t, os.IsNotExist(statErr), "no literal ~ directory is created")
}
