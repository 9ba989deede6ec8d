package tasks

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound          = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicateID       = errors.New("duplicate task id")
)

// Store owns the authoritative in-memory task set. All mutation is serialized
// under one mutex; callers only ever see snapshots.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func NewStore() *Store {
	return &Store{tasks: make(map[string]*Task)}
}

// Insert adds a task that must not already exist.
func (s *Store) Insert(t Task) error {
	if t.ID == "" {
		return errors.New("task id is required")
	}
	if !t.Status.Valid() {
		return fmt.Errorf("invalid status %q", t.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, t.ID)
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.Before(t.CreatedAt) {
		t.UpdatedAt = t.CreatedAt
	}
	cloned := t.Clone()
	s.tasks[t.ID] = &cloned
	return nil
}

// Upsert inserts or wholly replaces a task. Used by the journal reload path;
// live mutation goes through Mutate.
func (s *Store) Upsert(t Task) error {
	if t.ID == "" {
		return errors.New("task id is required")
	}
	if !t.Status.Valid() {
		return fmt.Errorf("invalid status %q", t.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cloned := t.Clone()
	s.tasks[t.ID] = &cloned
	return nil
}

// Remove deletes tasks by id and returns how many existed.
func (s *Store) Remove(ids ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, id := range ids {
		if _, ok := s.tasks[id]; ok {
			delete(s.tasks, id)
			removed++
		}
	}
	return removed
}

func (s *Store) Get(id string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.Clone(), nil
}

// List returns snapshots of all tasks matching pred (nil matches everything),
// ordered by creation time then id for determinism.
func (s *Store) List(pred func(Task) bool) []Task {
	s.mu.RLock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		snapshot := t.Clone()
		if pred == nil || pred(snapshot) {
			out = append(out, snapshot)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Mutate applies fn to a snapshot of the task and writes the result back
// atomically. A status change not permitted by CanTransition fails with
// ErrInvalidTransition and leaves the task untouched; this is the primary
// defense against resuming or completing the wrong task.
func (s *Store) Mutate(id string, fn func(Task) (Task, error)) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	next, err := fn(cur.Clone())
	if err != nil {
		return Task{}, err
	}
	if next.ID != id {
		return Task{}, fmt.Errorf("mutate must not change task id (%s -> %s)", id, next.ID)
	}
	if !next.Status.Valid() {
		return Task{}, fmt.Errorf("invalid status %q", next.Status)
	}
	if next.Status != cur.Status && !CanTransition(cur.Status, next.Status) {
		return Task{}, fmt.Errorf("%w: %s -> %s for task %s", ErrInvalidTransition, cur.Status, next.Status, id)
	}

	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	cloned := next.Clone()
	s.tasks[id] = &cloned
	return cloned.Clone(), nil
}

// Restore writes a snapshot back without transition validation. It exists
// solely to roll back an optimistic downloading transition after the engine
// rejected the dispatch; everything else must go through Mutate.
func (s *Store) Restore(t Task) error {
	if !t.Status.Valid() {
		return fmt.Errorf("invalid status %q", t.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, t.ID)
	}
	t.UpdatedAt = time.Now().UTC()
	cloned := t.Clone()
	s.tasks[t.ID] = &cloned
	return nil
}
