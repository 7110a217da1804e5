// Package store holds client-side UI state as named slices updated by reducers.
package store

import (
	"fmt"
	"sync"
)

type Action struct {
	Type    string
	Payload any
}

// Reducer returns the next slice state. Returning state unchanged is how a reducer
// ignores an action it does not handle.
type Reducer func(state any, action Action) (next any, changed bool)

type Listener func(action Action)

type Store struct {
	dispatchMu sync.Mutex

	mu        sync.RWMutex
	slices    map[string]any
	reducers  map[string]Reducer
	order     []string
	listeners map[int]Listener
	nextID    int
}

func New() *Store {
	return &Store{
		slices:    map[string]any{},
		reducers:  map[string]Reducer{},
		listeners: map[int]Listener{},
	}
}

// RegisterSlice adds a named slice. Registering the same name twice keeps the first.
func (s *Store) RegisterSlice(name string, initial any, reducer Reducer) error {
	if name == "" {
		return fmt.Errorf("slice name is required")
	}
	if reducer == nil {
		return fmt.Errorf("slice %q: reducer is required", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reducers[name]; ok {
		return nil
	}
	s.reducers[name] = reducer
	s.slices[name] = initial
	s.order = append(s.order, name)
	return nil
}

func (s *Store) State(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.slices[name]
	return v, ok
}

// Dispatch runs action through every reducer. Listeners run after the new state is
// visible, and only when some slice changed. Dispatches are serialized, so a
// listener must not call Dispatch.
func (s *Store) Dispatch(action Action) bool {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	changed := false
	for _, name := range s.order {
		next, ok := s.reducers[name](s.slices[name], action)
		if ok {
			s.slices[name] = next
			changed = true
		}
	}
	var listeners []Listener
	if changed {
		listeners = make([]Listener, 0, len(s.listeners))
		for id := 0; id < s.nextID; id++ {
			if l, ok := s.listeners[id]; ok {
				listeners = append(listeners, l)
			}
		}
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(action)
	}
	return changed
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}
