// Package credstore persists the session between CLI invocations.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"tasksync/internal/service"
)

// Storage loads and saves the persisted session.
type Storage interface {
	// Load returns the stored session, or nil if none is stored.
	Load() (*service.Session, error)
	Save(sess *service.Session) error
	Remove() error
}

// File stores the session as JSON in a single file with mode 0600.
type File struct {
	Path string
}

// NewFile returns a File store at path.
func NewFile(path string) *File {
	return &File{Path: path}
}

// Load implements Storage.
func (f *File) Load() (*service.Session, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(f.Path), err)
	}

	var sess service.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", filepath.Base(f.Path), err)
	}
	if sess.AccessToken == "" {
		return nil, nil
	}
	return &sess, nil
}

// Save implements Storage. The parent directory is created with mode 0700.
func (f *File) Save(sess *service.Session) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, data, 0600)
}

// Remove implements Storage. Removing a missing file is not an error.
func (f *File) Remove() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Memory keeps the session in memory. Useful for tests and one-shot clients.
type Memory struct {
	sess *service.Session
}

// Load implements Storage.
func (m *Memory) Load() (*service.Session, error) { return m.sess, nil }

// Save implements Storage.
func (m *Memory) Save(sess *service.Session) error {
	m.sess = sess
	return nil
}

// Remove implements Storage.
func (m *Memory) Remove() error {
	m.sess = nil
	return nil
}
