package state

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/ajitpratap0/daktela-extractor/pkg/errors"
	"github.com/ajitpratap0/daktela-extractor/pkg/json"
)

// FileStore keeps the state document in a JSON file. Every save rewrites
// the file through a temporary file and a rename.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the state file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the document; a missing file yields an empty document.
func (s *FileStore) Load(_ context.Context) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) read() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDocument(), nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypeState, "reading state file").WithDetail("path", s.path)
	}
	doc := NewDocument()
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "parsing state file").WithDetail("path", s.path)
	}
	if doc.Tables == nil {
		doc.Tables = make(map[string]TableState)
	}
	return doc, nil
}

// SaveTable replaces one table's entry, leaving the others untouched.
func (s *FileStore) SaveTable(_ context.Context, table string, state TableState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	doc.Tables[table] = state

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "encoding state")
	}
	return writeAtomic(s.path, append(data, '\n'))
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "creating state directory").WithDetail("path", dir)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "creating temp state file")
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.Wrap(err, errors.ErrorTypeState, "writing temp state file")
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return errors.Wrap(err, errors.ErrorTypeState, "closing temp state file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return errors.Wrap(err, errors.ErrorTypeState, "replacing state file").WithDetail("path", path)
	}
	return nil
}
