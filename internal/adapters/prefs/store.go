package prefs

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// LastPlayerKey is the preference name holding the last connected player id.
const LastPlayerKey = "lastPlayer"

// Store saves preferences under XDG_STATE_HOME or ~/.local/state.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a preference store at the default location.
func NewStore() (*Store, error) {
	path, err := statePath()
	if err != nil {
		return nil, err
	}
	return &Store{path: path}, nil
}

// NewStoreAt creates a preference store backed by path.
func NewStoreAt(path string) *Store {
	return &Store{path: path}
}

// Get returns a stored preference.
func (s *Store) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readAll()
	if err != nil {
		return "", false, err
	}
	value, ok := data[key]
	return value, ok, nil
}

// Put stores a preference.
func (s *Store) Put(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readAll()
	if err != nil {
		return err
	}
	data[key] = value
	return s.writeAll(data)
}

// LastPlayer implements ports.PlayerStore.
func (s *Store) LastPlayer() (string, error) {
	value, _, err := s.Get(LastPlayerKey)
	return value, err
}

// SetLastPlayer implements ports.PlayerStore.
func (s *Store) SetLastPlayer(playerID string) error {
	return s.Put(LastPlayerKey, playerID)
}

func (s *Store) readAll() (map[string]string, error) {
	data := map[string]string{}
	file, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return data, nil
		}
		return nil, err
	}
	if len(file) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(file, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) writeAll(data map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, payload, 0o600)
}

func statePath() (string, error) {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "squeezer", "state.json"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "squeezer", "state.json"), nil
}
