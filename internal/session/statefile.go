package session

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/opsdesk/opsdesk/internal/errors"
)

// PersistedState is the small piece of session context kept on disk
// between runs: the remember-me choice and the last active tenant so
// the next sign-in can restore it. No tokens or credentials are ever
// written here.
type PersistedState struct {
	RememberMe       bool   `yaml:"remember_me"`
	LastActiveTenant string `yaml:"last_active_tenant,omitempty"`
	Email            string `yaml:"email,omitempty"`
}

// StateStore reads and writes the persisted state YAML file.
type StateStore struct {
	path string
}

// NewStateStore creates a store at path. The parent directory is
// created on first save.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// Path returns the backing file path.
func (s *StateStore) Path() string {
	return s.path
}

// Load reads the persisted state. A missing file yields the zero state
// without error.
func (s *StateStore) Load() (PersistedState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return PersistedState{}, nil
		}
		return PersistedState{}, errors.Wrap(errors.ErrCodeStateRead, "failed to read state file", err)
	}

	var state PersistedState
	if err := yaml.Unmarshal(data, &state); err != nil {
		return PersistedState{}, errors.Wrap(errors.ErrCodeStateRead, "failed to parse state file", err)
	}
	return state, nil
}

// Save writes the state atomically via a temp file and rename.
func (s *StateStore) Save(state PersistedState) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStateWrite, "failed to encode state", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(errors.ErrCodeStateWrite, "failed to create state directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".opsdesk-state-*")
	if err != nil {
		return errors.Wrap(errors.ErrCodeStateWrite, "failed to create temp state file", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(errors.ErrCodeStateWrite, "failed to write state file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(errors.ErrCodeStateWrite, "failed to close state file", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(errors.ErrCodeStateWrite, "failed to set state file mode", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(errors.ErrCodeStateWrite, "failed to move state file into place", err)
	}
	return nil
}

// Clear removes the state file. A missing file is not an error.
func (s *StateStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.ErrCodeStateClear, "failed to remove state file", err)
	}
	return nil
}
