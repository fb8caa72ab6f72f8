package preview

import (
	"context"
	"log"
	"sync"

	"github.com/lanse6899/previewd/internal/eventbus"
	"github.com/lanse6899/previewd/internal/imaging"
	"github.com/lanse6899/previewd/internal/param"
	"github.com/lanse6899/previewd/internal/reconcile"
	"github.com/lanse6899/previewd/internal/registry"
)

// Engine consumes source change traffic from the event bus, fans it out to
// the sessions bound to each source, and keeps sources watched while at
// least one session is attached.
type Engine struct {
	bus       *eventbus.Bus
	registry  *registry.Registry
	requester reconcile.Requester
	logger    *log.Logger
	cfg       Config
	lifecycle eventbus.ServiceLifecycle

	mu       sync.Mutex
	sessions map[string]*Session
	watches  map[string]*sourceWatch
}

// sourceWatch holds the observer registrations for one watched source,
// refcounted across the sessions attached to it.
type sourceWatch struct {
	source param.Source
	unsubs []param.UnsubscribeFunc
	refs   int
}

// EngineOption customises an engine.
type EngineOption func(*Engine)

// WithEngineLogger overrides the engine logger.
func WithEngineLogger(logger *log.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSessionWindows sets the scheduling windows applied to every session
// the engine creates.
func WithSessionWindows(cfg Config) EngineOption {
	return func(e *Engine) { e.cfg = cfg.withDefaults() }
}

// NewEngine wires the engine to the bus, registry, and requester.
func NewEngine(bus *eventbus.Bus, reg *registry.Registry, requester reconcile.Requester, opts ...EngineOption) *Engine {
	e := &Engine{
		bus:       bus,
		registry:  reg,
		requester: requester,
		logger:    log.Default(),
		cfg:       Config{}.withDefaults(),
		sessions:  make(map[string]*Session),
		watches:   make(map[string]*sourceWatch),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the consume loops for change, drag, and frame traffic.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycle.Start(ctx)

	changed := eventbus.Subscribe[eventbus.SourceChangedEvent](e.bus, eventbus.TopicSourceChanged)
	drags := eventbus.Subscribe[eventbus.SourceDragEvent](e.bus, eventbus.TopicSourceDrag)
	frames := eventbus.Subscribe[eventbus.PreviewFrameEvent](e.bus, eventbus.TopicPreviewFrame)
	e.lifecycle.AddSubscriptions(changed, drags, frames)

	e.lifecycle.Go(func(ctx context.Context) { e.consumeChanges(ctx, changed) })
	e.lifecycle.Go(func(ctx context.Context) { e.consumeDrags(ctx, drags) })
	e.lifecycle.Go(func(ctx context.Context) { e.consumeFrames(ctx, frames) })
	return nil
}

// Shutdown destroys every session and stops the consume loops.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()
	for _, s := range sessions {
		e.DestroySession(s)
	}
	return e.lifecycle.Shutdown(ctx)
}

// CreateSession registers a new session around the given base frame.
func (e *Engine) CreateSession(target RenderTarget, original *imaging.Buffer) *Session {
	s := NewSession(e.registry, e.requester, target, original,
		WithSessionLogger(e.logger), WithSessionConfig(e.cfg))
	e.mu.Lock()
	e.sessions[s.SessionID()] = s
	e.mu.Unlock()
	return s
}

// Attach binds the session to a source. The registry handles rebinding
// from any previous source; the engine starts watching the source if it
// is not watched yet.
func (e *Engine) Attach(s *Session, src param.Source) {
	if s == nil || src == nil || s.Destroyed() {
		return
	}
	e.mu.Lock()
	prev, hadPrev := e.registry.SourceFor(s)
	e.registry.Subscribe(s, src.ID())
	s.bindSource(src)
	e.watchLocked(src)
	if hadPrev && prev != src.ID() {
		e.unwatchLocked(prev)
	}
	e.mu.Unlock()
}

// Detach unbinds the session from its source without destroying it.
func (e *Engine) Detach(s *Session) {
	if s == nil {
		return
	}
	e.mu.Lock()
	prev, hadPrev := e.registry.SourceFor(s)
	e.registry.Unsubscribe(s)
	s.bindSource(nil)
	if hadPrev {
		e.unwatchLocked(prev)
	}
	e.mu.Unlock()
}

// DestroySession tears the session down and releases its source watch.
func (e *Engine) DestroySession(s *Session) {
	if s == nil {
		return
	}
	e.mu.Lock()
	prev, hadPrev := e.registry.SourceFor(s)
	delete(e.sessions, s.SessionID())
	e.mu.Unlock()

	s.Destroy()

	e.mu.Lock()
	if hadPrev {
		e.unwatchLocked(prev)
	}
	e.mu.Unlock()
}

// Session looks up a live session by id.
func (e *Engine) Session(id string) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[id]
}

// watchLocked registers bus-publishing observers on the source, once per
// source regardless of how many sessions share it.
func (e *Engine) watchLocked(src param.Source) {
	if w, ok := e.watches[src.ID()]; ok {
		w.refs++
		return
	}
	w := &sourceWatch{source: src, refs: 1}
	w.unsubs = append(w.unsubs, src.OnAnyChange(func(name string) {
		eventbus.Publish(context.Background(), e.bus, eventbus.TopicSourceChanged, eventbus.SourceWatcher,
			eventbus.SourceChangedEvent{SourceID: src.ID(), Name: name})
	}))
	w.unsubs = append(w.unsubs, src.OnDragStart(func() {
		eventbus.Publish(context.Background(), e.bus, eventbus.TopicSourceDrag, eventbus.SourceWatcher,
			eventbus.SourceDragEvent{SourceID: src.ID(), Phase: eventbus.DragBegin})
	}))
	w.unsubs = append(w.unsubs, src.OnDragEnd(func() {
		eventbus.Publish(context.Background(), e.bus, eventbus.TopicSourceDrag, eventbus.SourceWatcher,
			eventbus.SourceDragEvent{SourceID: src.ID(), Phase: eventbus.DragEnd})
	}))
	e.watches[src.ID()] = w
}

func (e *Engine) unwatchLocked(sourceID string) {
	w, ok := e.watches[sourceID]
	if !ok {
		return
	}
	w.refs--
	if w.refs > 0 {
		return
	}
	for _, unsub := range w.unsubs {
		unsub()
	}
	delete(e.watches, sourceID)
}

func (e *Engine) consumeChanges(ctx context.Context, sub *eventbus.TypedSubscription[eventbus.SourceChangedEvent]) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			for _, target := range e.registry.Fanout(env.Payload.SourceID) {
				if s, ok := target.(*Session); ok {
					s.HandleChange()
				}
			}
		}
	}
}

func (e *Engine) consumeDrags(ctx context.Context, sub *eventbus.TypedSubscription[eventbus.SourceDragEvent]) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			for _, target := range e.registry.Fanout(env.Payload.SourceID) {
				s, ok := target.(*Session)
				if !ok {
					continue
				}
				switch env.Payload.Phase {
				case eventbus.DragBegin:
					s.HandleDragStart()
				case eventbus.DragEnd:
					s.HandleDragEnd()
				}
			}
		}
	}
}

// consumeFrames routes incoming upstream frames to the session whose id
// matches the frame's node id. Undecodable frames are logged and the last
// good base frame is kept.
func (e *Engine) consumeFrames(ctx context.Context, sub *eventbus.TypedSubscription[eventbus.PreviewFrameEvent]) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			s := e.Session(env.Payload.NodeID)
			if s == nil {
				continue
			}
			buf, err := imaging.DecodeDataURI(env.Payload.ImageData)
			if err != nil {
				e.logger.Printf("[Preview] session %s: decode frame: %v", env.Payload.NodeID, err)
				continue
			}
			s.SetOriginal(buf)
		}
	}
}
