package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// FileStore persists preferences as YAML. Every setter rewrites the file; a
// failed write leaves the in-memory value unchanged.
type FileStore struct {
	mu     sync.RWMutex
	path   string
	p      Preferences
	logger *logrus.Logger
}

// OpenFile loads preferences from path. A missing file yields Defaults and is
// created on the first change.
func OpenFile(path string, logger *logrus.Logger) (*FileStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	fs := &FileStore{path: path, p: Defaults(), logger: logger}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.WithField("path", path).Debug("no preferences file, using defaults")
		return fs, nil
	case err != nil:
		return nil, fmt.Errorf("read preferences: %w", err)
	}

	if err := yaml.Unmarshal(data, &fs.p); err != nil {
		return nil, fmt.Errorf("parse preferences %s: %w", path, err)
	}
	return fs, nil
}

func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Favorite() (transport.ID, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.p.Favorite, f.p.Favorite != ""
}

func (f *FileStore) SetFavorite(id transport.ID) error {
	return f.update(func(p *Preferences) { p.Favorite = id })
}

func (f *FileStore) ClearFavorite() error {
	return f.update(func(p *Preferences) { p.Favorite = "" })
}

func (f *FileStore) AutoConnect() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.p.AutoConnect
}

func (f *FileStore) SetAutoConnect(enabled bool) error {
	return f.update(func(p *Preferences) { p.AutoConnect = enabled })
}

func (f *FileStore) update(apply func(*Preferences)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := f.p
	apply(&next)
	if next == f.p {
		return nil
	}
	if err := f.write(next); err != nil {
		return err
	}
	f.p = next
	f.logger.WithFields(logrus.Fields{
		"favorite":     next.Favorite,
		"auto_connect": next.AutoConnect,
	}).Debug("preferences saved")
	return nil
}

// write replaces the file atomically via a temporary sibling.
func (f *FileStore) write(p Preferences) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".prefs-*.yaml")
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save preferences: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}
