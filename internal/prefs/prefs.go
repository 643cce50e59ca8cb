// Package prefs stores the user's connection preferences: at most one favorite
// peripheral and the auto-connect flag.
package prefs

import (
	"sync"

	"github.com/AdinAck/Headlights-App/internal/transport"
)

// Store is the preference collaborator of the router.
type Store interface {
	Favorite() (transport.ID, bool)
	SetFavorite(id transport.ID) error
	ClearFavorite() error
	AutoConnect() bool
	SetAutoConnect(enabled bool) error
}

// Preferences is the persisted form of a Store.
type Preferences struct {
	Favorite    transport.ID `yaml:"favorite,omitempty" json:"favorite,omitempty"`
	AutoConnect bool         `yaml:"auto_connect" json:"auto_connect"`
}

// Defaults has no favorite and auto-connect enabled.
func Defaults() Preferences {
	return Preferences{AutoConnect: true}
}

// MemoryStore keeps preferences in memory. The zero value is not usable; use
// NewMemoryStore.
type MemoryStore struct {
	mu sync.RWMutex
	p  Preferences
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{p: Defaults()}
}

func (m *MemoryStore) Favorite() (transport.ID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.p.Favorite, m.p.Favorite != ""
}

func (m *MemoryStore) SetFavorite(id transport.ID) error {
	m.mu.Lock()
	m.p.Favorite = id
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ClearFavorite() error {
	return m.SetFavorite("")
}

func (m *MemoryStore) AutoConnect() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.p.AutoConnect
}

func (m *MemoryStore) SetAutoConnect(enabled bool) error {
	m.mu.Lock()
	m.p.AutoConnect = enabled
	m.mu.Unlock()
	return nil
}

// Snapshot returns the current preferences of any Store.
func Snapshot(s Store) Preferences {
	fav, _ := s.Favorite()
	return Preferences{Favorite: fav, AutoConnect: s.AutoConnect()}
}
