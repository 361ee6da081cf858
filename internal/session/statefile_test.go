package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateStore_SaveLoad(t *testing.T) {
	store := NewStateStore(filepath.Join(t.TempDir(), "state.yaml"))

	want := PersistedState{
		RememberMe:       true,
		LastActiveTenant: "tenant-2",
		Email:            "ops@example.com",
	}
	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestStateStore_LoadMissingFile(t *testing.T) {
	store := NewStateStore(filepath.Join(t.TempDir(), "missing.yaml"))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, PersistedState{}, got)
}

func TestStateStore_Clear(t *testing.T) {
	store := NewStateStore(filepath.Join(t.TempDir(), "state.yaml"))
	require.NoError(t, store.Save(PersistedState{RememberMe: true}))

	require.NoError(t, store.Clear())
	_, err := os.Stat(store.Path())
	assert.True(t, os.IsNotExist(err))

	// Clearing again is a no-op.
	require.NoError(t, store.Clear())
}

func TestStateStore_SaveCreatesParentDir(t *testing.T) {
	store := NewStateStore(filepath.Join(t.TempDir(), "nested", "dir", "state.yaml"))
	require.NoError(t, store.Save(PersistedState{LastActiveTenant: "tenant-1"}))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", got.LastActiveTenant)
}
