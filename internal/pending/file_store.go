package pending

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

type fileStore struct {
	*MemoryStore
	path string
}

type fileStoreState struct {
	Entries []Entry `json:"entries"`
}

// NewFileStore persists the queue as a JSON snapshot rewritten atomically on
// every mutation. Suited to single-device deployments.
func NewFileStore(path string) (Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	s := &fileStore{
		MemoryStore: NewMemoryStore(),
		path:        path,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	s.MemoryStore.persist = s.save
	return s, nil
}

func (s *fileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var snapshot fileStoreState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	s.MemoryStore.restore(snapshot.Entries)
	return nil
}

func (s *fileStore) save(entries []Entry) error {
	data, err := json.Marshal(fileStoreState{Entries: entries})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
