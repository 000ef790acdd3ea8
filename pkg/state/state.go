package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/ghodss/yaml"
	"k8s.io/klog"
)

// Store persists the /transactions/sync cursor of each linked item between
// runs. An item without a stored cursor has the empty cursor, which syncs the
// full history.
type Store interface {
	Cursor(ctx context.Context, item string) (string, error)
	SaveCursor(ctx context.Context, item, cursor string) error
}

type fileState struct {
	Cursors map[string]string `json:"cursors"`
}

// FileStore keeps cursors in a yaml file.
type FileStore struct {
	path string
	mux  sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Cursor(ctx context.Context, item string) (string, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	st, err := s.read()
	if err != nil {
		return "", err
	}

	return st.Cursors[item], nil
}

func (s *FileStore) SaveCursor(ctx context.Context, item, cursor string) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	st, err := s.read()
	if err != nil {
		return err
	}
	st.Cursors[item] = cursor

	b, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	// write then rename, a crash never truncates the state
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace state file %s: %w", s.path, err)
	}

	klog.V(1).Infof("Saved cursor for %s to %s\n", item, s.path)
	return nil
}

func (s *FileStore) read() (*fileState, error) {
	st := &fileState{}

	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		st.Cursors = map[string]string{}
		return st, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", s.path, err)
	}

	if err := yaml.Unmarshal(b, st); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", s.path, err)
	}
	if st.Cursors == nil {
		st.Cursors = map[string]string{}
	}

	return st, nil
}

// MemoryStore keeps cursors for the lifetime of the process.
type MemoryStore struct {
	cursors map[string]string
	mux     sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cursors: map[string]string{}}
}

func (s *MemoryStore) Cursor(ctx context.Context, item string) (string, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.cursors[item], nil
}

func (s *MemoryStore) SaveCursor(ctx context.Context, item, cursor string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.cursors[item] = cursor
	return nil
}
