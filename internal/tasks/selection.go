package tasks

import (
	"sort"
	"sync"
)

// SelectionSet tracks task ids the user marked for batch operations. Its
// lifecycle is independent of the tasks themselves: it is cleared explicitly
// or pruned when referenced tasks are deleted.
type SelectionSet struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewSelectionSet() *SelectionSet {
	return &SelectionSet{ids: make(map[string]struct{})}
}

func (s *SelectionSet) Select(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if id != "" {
			s.ids[id] = struct{}{}
		}
	}
}

func (s *SelectionSet) Deselect(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.ids, id)
	}
}

func (s *SelectionSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[string]struct{})
}

func (s *SelectionSet) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

func (s *SelectionSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// IDs returns the selection sorted for deterministic iteration.
func (s *SelectionSet) IDs() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}
