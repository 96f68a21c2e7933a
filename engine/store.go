package engine

import (
	"slices"
	"sync"

	"gutterdiff/text"
)

// MarkStore holds the classification result of every tracked path.
// Entries are replaced whole, never mutated, and each Update notifies
// subscribers exactly once with every path it touched.
type MarkStore struct {
	mu          sync.RWMutex
	marks       map[string]*text.Result
	subscribers []func(changed []string)
}

// NewMarkStore creates an empty MarkStore
func NewMarkStore() *MarkStore {
	return &MarkStore{marks: make(map[string]*text.Result)}
}

// Get returns the result stored for path
func (s *MarkStore) Get(path string) (*text.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.marks[path]
	return result, ok
}

// Paths returns every path with a stored result, sorted
func (s *MarkStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]string, 0, len(s.marks))
	for path := range s.marks {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths
}

// Subscribe registers fn to be called after every Update that changed
// something. fn runs on the goroutine calling Update.
func (s *MarkStore) Subscribe(fn func(changed []string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Update applies batch atomically: a nil result deletes the path's entry.
// Subscribers see the whole batch applied, never part of it.
func (s *MarkStore) Update(batch map[string]*text.Result) {
	if len(batch) == 0 {
		return
	}

	s.mu.Lock()
	var changed []string
	for path, result := range batch {
		old, existed := s.marks[path]
		if result == nil {
			if !existed {
				continue
			}
			delete(s.marks, path)
		} else {
			if existed && old == result {
				continue
			}
			s.marks[path] = result
		}
		changed = append(changed, path)
	}
	subscribers := slices.Clone(s.subscribers)
	s.mu.Unlock()

	if len(changed) == 0 {
		return
	}
	slices.Sort(changed)
	for _, fn := range subscribers {
		fn(changed)
	}
}
