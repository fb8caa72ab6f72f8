// Package registry indexes preview sessions by the parameter source they
// are subscribed to, so change fan-out never scans every session.
package registry

import (
	"log"
	"sync"
)

// Subscriber is the minimal view of a preview session the registry needs.
// The registry holds subscribers weakly: it never extends their lifetime,
// and a session removes itself on destruction.
type Subscriber interface {
	SessionID() string
}

// Registry is an owned service object mapping source ids to subscribed
// sessions. Construct one per engine; there is no ambient singleton.
type Registry struct {
	logger *log.Logger

	mu      sync.Mutex
	buckets map[string]map[Subscriber]struct{}
	bound   map[Subscriber]string
}

// Option customises a registry.
type Option func(*Registry)

// WithLogger overrides the logger used for subscription tracing.
func WithLogger(logger *log.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New constructs an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		logger:  log.Default(),
		buckets: make(map[string]map[Subscriber]struct{}),
		bound:   make(map[Subscriber]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe binds sub to sourceID. A session holds at most one active
// subscription: a previous binding to a different source is removed first.
func (r *Registry) Subscribe(sub Subscriber, sourceID string) {
	if sub == nil || sourceID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.bound[sub]; ok {
		if prev == sourceID {
			return
		}
		r.removeLocked(sub, prev)
	}

	bucket, ok := r.buckets[sourceID]
	if !ok {
		bucket = make(map[Subscriber]struct{})
		r.buckets[sourceID] = bucket
	}
	bucket[sub] = struct{}{}
	r.bound[sub] = sourceID
}

// Unsubscribe removes sub from its current bucket, deleting the bucket
// when it empties. Unknown subscribers are a no-op.
func (r *Registry) Unsubscribe(sub Subscriber) {
	if sub == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sourceID, ok := r.bound[sub]
	if !ok {
		return
	}
	r.removeLocked(sub, sourceID)
}

func (r *Registry) removeLocked(sub Subscriber, sourceID string) {
	if bucket, ok := r.buckets[sourceID]; ok {
		delete(bucket, sub)
		if len(bucket) == 0 {
			delete(r.buckets, sourceID)
		}
	}
	delete(r.bound, sub)
}

// Fanout returns the sessions currently subscribed to sourceID. The result
// is a snapshot: handlers may subscribe or unsubscribe sessions reentrantly
// while iterating it.
func (r *Registry) Fanout(sourceID string) []Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.buckets[sourceID]
	if len(bucket) == 0 {
		return nil
	}
	out := make([]Subscriber, 0, len(bucket))
	for sub := range bucket {
		out = append(out, sub)
	}
	return out
}

// SourceFor reports the source id sub is currently bound to.
func (r *Registry) SourceFor(sub Subscriber) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.bound[sub]
	return id, ok
}

// Len reports the number of bound sessions, for diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bound)
}
