// Package memstore provides an in-memory implementation of playbook.Store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/linnemanlabs/aegis/internal/playbook"
)

// Store holds playbook records in memory. Suitable for dev/testing.
type Store struct {
	mu    sync.RWMutex
	items map[string]*playbook.Playbook // playbook ID -> record
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{items: make(map[string]*playbook.Playbook)}
}

// Get retrieves a playbook by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*playbook.Playbook, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.items[id]
	if !ok {
		return nil, false, nil
	}
	return p.Clone(), true, nil
}

// Put stores a copy of the playbook.
func (s *Store) Put(_ context.Context, p *playbook.Playbook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[p.ID] = p.Clone()
	return nil
}

// List returns copies of the playbooks matching status, oldest first.
func (s *Store) List(_ context.Context, status playbook.Status) ([]*playbook.Playbook, error) {
	s.mu.RLock()
	out := make([]*playbook.Playbook, 0, len(s.items))
	for _, p := range s.items {
		if status == "" || p.Status == status {
			out = append(out, p.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
