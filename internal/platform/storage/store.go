package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Sentinel errors.
var (
	ErrNotFound    = errors.New("stored object not found")
	ErrInvalidPath = errors.New("invalid storage path")
)

// Store is the staging area for received data units. Paths are relative and
// come from File.RelativePath.
type Store interface {
	Save(relPath string, r io.Reader) (int64, error)
	Open(relPath string) (io.ReadCloser, error)
	Remove(relPath string) error
	RemoveAll(prefix string) error
}

// LocalStore keeps objects on the local filesystem under a root directory.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed and returns a store
// rooted there.
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", root, err)
	}
	return &LocalStore{root: root}, nil
}

// resolve maps a relative path under the root, rejecting traversal attempts.
func (s *LocalStore) resolve(relPath string) (string, error) {
	if relPath == "" {
		return "", ErrInvalidPath
	}
	clean := filepath.Clean(filepath.FromSlash(relPath))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return filepath.Join(s.root, clean), nil
}

// Save writes the object, creating parent directories, and returns the number
// of bytes written.
func (s *LocalStore) Save(relPath string, r io.Reader) (int64, error) {
	full, err := s.resolve(relPath)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return 0, fmt.Errorf("create object directory: %w", err)
	}

	f, err := os.Create(full)
	if err != nil {
		return 0, fmt.Errorf("create object %s: %w", relPath, err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(full)
		return 0, fmt.Errorf("write object %s: %w", relPath, err)
	}
	return n, nil
}

func (s *LocalStore) Open(relPath string) (io.ReadCloser, error) {
	full, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open object %s: %w", relPath, err)
	}
	return f, nil
}

func (s *LocalStore) Remove(relPath string) error {
	full, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("remove object %s: %w", relPath, err)
	}
	return nil
}

// RemoveAll deletes every object under the given prefix, typically a
// correlation ID directory after its payload has been dispatched.
func (s *LocalStore) RemoveAll(prefix string) error {
	full, err := s.resolve(prefix)
	if err != nil {
		return err
	}
	return os.RemoveAll(full)
}
