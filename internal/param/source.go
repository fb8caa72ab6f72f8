// Package param defines the contract between the preview engine and the
// upstream parameter sources it observes, plus the immutable snapshots the
// engine captures from them.
package param

import "sync"

// Value is a single named parameter value. Sources expose numeric values as
// float64 and textual values as string.
type Value any

// UnsubscribeFunc removes a previously registered observer.
type UnsubscribeFunc func()

// Source is an external, mutable object exposing named values and change
// notifications. The engine only observes sources; it never owns them.
// Implementations must invoke observers synchronously from the mutation
// that triggered them.
type Source interface {
	// ID is a stable identity used as the registry key.
	ID() string
	// TypeName is the source's declared type/category, consulted before
	// per-parameter inference when it maps to a known processor.
	TypeName() string
	// Names lists the currently exposed value holders.
	Names() []string
	// Value reads one named value. ok is false for unset holders.
	Value(name string) (Value, bool)
	// OnChange registers an observer for one named value holder.
	OnChange(name string, fn func()) UnsubscribeFunc
	// OnAnyChange registers an observer for every holder, including ones
	// created after registration.
	OnAnyChange(fn func(name string)) UnsubscribeFunc
	// OnDragStart fires when a continuous adjustment begins on any holder.
	OnDragStart(fn func()) UnsubscribeFunc
	// OnDragEnd fires when a continuous adjustment ends.
	OnDragEnd(fn func()) UnsubscribeFunc
}

// MapSource is the reference Source implementation backed by a plain map.
// Hosts adapt their widget models to Source; MapSource covers embedding
// scenarios and tests.
type MapSource struct {
	id       string
	typeName string

	mu        sync.Mutex
	values    map[string]Value
	order     []string
	observers map[string]map[int]func()
	anyObs    map[int]func(string)
	dragStart map[int]func()
	dragEnd   map[int]func()
	nextObs   int
}

// NewMapSource creates an empty source with the given identity and type name.
func NewMapSource(id, typeName string) *MapSource {
	return &MapSource{
		id:        id,
		typeName:  typeName,
		values:    make(map[string]Value),
		observers: make(map[string]map[int]func()),
		anyObs:    make(map[int]func(string)),
		dragStart: make(map[int]func()),
		dragEnd:   make(map[int]func()),
	}
}

// ID implements Source.
func (s *MapSource) ID() string { return s.id }

// TypeName implements Source.
func (s *MapSource) TypeName() string { return s.typeName }

// Names implements Source, returning holders in insertion order.
func (s *MapSource) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Value implements Source.
func (s *MapSource) Value(name string) (Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[name]
	return v, ok
}

// Set stores a value and notifies observers of that holder.
func (s *MapSource) Set(name string, value Value) {
	s.mu.Lock()
	if _, exists := s.values[name]; !exists {
		s.order = append(s.order, name)
	}
	s.values[name] = value
	fns := make([]func(), 0, len(s.observers[name])+len(s.anyObs))
	for _, fn := range s.observers[name] {
		fns = append(fns, fn)
	}
	for _, fn := range s.anyObs {
		fn := fn
		fns = append(fns, func() { fn(name) })
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Unset removes a holder without notifying observers.
func (s *MapSource) Unset(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.values[name]; !exists {
		return
	}
	delete(s.values, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// OnChange implements Source.
func (s *MapSource) OnChange(name string, fn func()) UnsubscribeFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.observers[name] == nil {
		s.observers[name] = make(map[int]func())
	}
	id := s.nextObs
	s.nextObs++
	s.observers[name][id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers[name], id)
	}
}

// OnAnyChange implements Source.
func (s *MapSource) OnAnyChange(fn func(name string)) UnsubscribeFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.anyObs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.anyObs, id)
	}
}

// OnDragStart implements Source.
func (s *MapSource) OnDragStart(fn func()) UnsubscribeFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.dragStart[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.dragStart, id)
	}
}

// OnDragEnd implements Source.
func (s *MapSource) OnDragEnd(fn func()) UnsubscribeFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.dragEnd[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.dragEnd, id)
	}
}

// BeginDrag signals the start of a continuous adjustment.
func (s *MapSource) BeginDrag() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.dragStart))
	for _, fn := range s.dragStart {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// EndDrag signals the end of a continuous adjustment.
func (s *MapSource) EndDrag() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.dragEnd))
	for _, fn := range s.dragEnd {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
