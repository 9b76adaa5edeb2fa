// Package follow tracks which packages the service watches and when each
// one was last refreshed. State is deliberately transient and in-memory;
// anything durable lives with collaborators outside this core.
package follow

import (
	"sort"
	"sync"
	"time"

	"regwatch/internal/registry"
)

// Followed is one watched package.
type Followed struct {
	ID          string
	Name        string
	MaxVersion  string
	RefreshedAt time.Time
}

type Store struct {
	mu      sync.RWMutex
	entries map[string]Followed
}

func NewStore() *Store {
	return &Store{entries: map[string]Followed{}}
}

// Follow adds or overwrites an entry. A zero RefreshedAt marks the entry
// as never refreshed, so the next refresh sweep picks it up.
func (s *Store) Follow(f Followed) {
	s.mu.Lock()
	s.entries[f.ID] = f
	s.mu.Unlock()
}

func (s *Store) Unfollow(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

func (s *Store) Get(id string) (Followed, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.entries[id]
	return f, ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// All returns every entry sorted by id.
func (s *Store) All() []Followed {
	s.mu.RLock()
	out := make([]Followed, 0, len(s.entries))
	for _, f := range s.entries {
		out = append(out, f)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Outdated returns entries not refreshed since the cutoff, oldest first
// (ties broken by id so sweeps are deterministic).
func (s *Store) Outdated(olderThan time.Duration) []Followed {
	cutoff := time.Now().Add(-olderThan)

	s.mu.RLock()
	out := make([]Followed, 0, len(s.entries))
	for _, f := range s.entries {
		if f.RefreshedAt.Before(cutoff) {
			out = append(out, f)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].RefreshedAt.Equal(out[j].RefreshedAt) {
			return out[i].RefreshedAt.Before(out[j].RefreshedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Update records fresh upstream metadata for a followed package. It is a
// no-op if the package was unfollowed while its refresh was in flight.
func (s *Store) Update(pkg registry.Package) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.entries[pkg.ID]
	if !ok {
		return
	}
	f.Name = pkg.Name
	f.MaxVersion = pkg.MaxVersion
	f.RefreshedAt = time.Now()
	s.entries[pkg.ID] = f
}
