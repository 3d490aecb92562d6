package filestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/chitterchatter/portal/core"
)

// Store keeps the session of a CLI user in a JSON file readable by its owner only.
type Store struct {
	path   string
	logger core.Logger

	mu   sync.Mutex
	data map[string]string
}

var _ core.TokenStore = (*Store)(nil)

// Open loads the file at path; a missing file is an empty store.
func Open(path string, logger core.Logger) (*Store, error) {
	if logger == nil {
		logger = core.NopLogger
	}
	s := &Store{path: path, logger: logger, data: make(map[string]string)}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return s, nil
	case err != nil:
		return nil, errors.Wrap(err, "reading session file")
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err = json.Unmarshal(raw, &s.data); err != nil {
		return nil, errors.Wrap(err, "decoding session file")
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.data[key]
	return val, ok
}

func (s *Store) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	s.flush()
}

func (s *Store) Remove(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	s.flush()
}

// flush must be called with s.mu held.
func (s *Store) flush() {
	if err := s.write(); err != nil {
		s.logger.Error("saving session file", err, map[string]interface{}{"path": s.path})
	}
}

func (s *Store) write() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return errors.Wrap(err, "creating session dir")
	}
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding session")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }() // no-op once renamed

	if err = tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "chmod temp file")
	}
	if _, err = tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "writing temp file")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "closing temp file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), s.path), "replacing session file")
}
