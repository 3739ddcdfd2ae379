package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/maloquacious/stockroom/internal/logger"
	"github.com/maloquacious/stockroom/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tests := []struct {
		name   string
		target store.Target
		want   string
	}{
		{
			name:   "home shorthand with auto server",
			target: store.Target{Kind: store.PreferredExternal, URI: "sqlite:~/test;AUTO_SERVER=TRUE"},
			want:   filepath.Join(home, "test.lock.db"),
		},
		{
			name:   "relative path",
			target: store.Target{Kind: store.LocalEmbedded, URI: "sqlite:./data/stockroom"},
			want:   filepath.Join("data", "stockroom.lock.db"),
		},
		{
			name:   "networked has no marker",
			target: store.Target{Kind: store.Networked, URI: "mysql://127.0.0.1:3306/stockroom"},
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Path(tt.target))
			assert.Equal(t, Path(tt.target), Path(tt.target))
		})
	}
}

func tempTarget(t *testing.T) store.Target {
	t.Helper()
	base := filepath.Join(t.TempDir(), "stockroom")
	return store.Target{Kind: store.LocalEmbedded, URI: store.SchemeSQLite + base}
}

func TestCleanupNoMarker(t *testing.T) {
	target := tempTarget(t)
	assert.True(t, Cleanup(target, logger.Nop))
	_, err := os.Stat(Path(target))
	assert.True(t, os.IsNotExist(err), "cleanup must never create the marker")
}

func TestCleanupStaleMarker(t *testing.T) {
	target := tempTarget(t)
	require.NoError(t, os.WriteFile(Path(target), nil, 0o644))
	assert.False(t, Held(target))

	assert.True(t, Cleanup(target, logger.Nop))
	_, err := os.Stat(Path(target))
	assert.True(t, os.IsNotExist(err))
}

func TestCleanupHeldMarker(t *testing.T) {
	target := tempTarget(t)
	holder := flock.New(Path(target))
	locked, err := holder.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	t.Cleanup(func() { _ = holder.Unlock() })

	assert.True(t, Held(target))
	assert.False(t, Cleanup(target, logger.Nop))
	_, err = os.Stat(Path(target))
	assert.NoError(t, err, "a held marker must be left in place")
}

func TestCleanupNetworked(t *testing.T) {
	target := store.Target{Kind: store.Networked, URI: "mysql://127.0.0.1:3306/stockroom"}
	assert.True(t, Cleanup(target, nil))
	assert.False(t, Held(target))
}
