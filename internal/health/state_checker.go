package health

import (
	"context"
	"os"
	"path/filepath"

	"github.com/opsdesk/opsdesk/internal/session"
)

// StateStoreChecker verifies the persisted-state file is readable and
// its directory exists.
type StateStoreChecker struct {
	store *session.StateStore
}

// NewStateStoreChecker creates a checker over store.
func NewStateStoreChecker(store *session.StateStore) *StateStoreChecker {
	return &StateStoreChecker{store: store}
}

// Name returns "state-store".
func (c *StateStoreChecker) Name() string {
	return "state-store"
}

// Check loads the state file. A missing file is healthy (nothing has
// been persisted yet); a parse or read failure is degraded because the
// server still works, it just cannot restore remembered state.
func (c *StateStoreChecker) Check(ctx context.Context) *Result {
	path := c.store.Path()

	if _, err := c.store.Load(); err != nil {
		return Degraded("state file unreadable").
			WithDetail("path", path).
			WithDetail("error", err.Error())
	}

	result := Healthy("state store accessible")
	result.WithDetail("path", path)
	if info, err := os.Stat(filepath.Dir(path)); err == nil {
		result.WithDetail("dir_mode", info.Mode().Perm().String())
	}
	return result
}
