// Package preview hosts live preview sessions and the engine that drives
// them from upstream change events. Each session schedules local
// approximate renders and authoritative processor round trips according to
// its drag state.
package preview

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lanse6899/previewd/internal/imaging"
	"github.com/lanse6899/previewd/internal/param"
	"github.com/lanse6899/previewd/internal/pipeline"
	"github.com/lanse6899/previewd/internal/reconcile"
	"github.com/lanse6899/previewd/internal/registry"
)

// DragState tracks whether the session's source is mid-manipulation.
type DragState int

const (
	StateIdle DragState = iota
	StateDragging
)

const (
	// DefaultDebounceWindow is the idle-mode quiet period before an
	// authoritative request is issued.
	DefaultDebounceWindow = 30 * time.Millisecond
	// DefaultDragInterval is the drag-mode trailing window after which the
	// latest snapshot is submitted for ground-truth processing.
	DefaultDragInterval = 200 * time.Millisecond
)

// Config carries the session scheduling windows. Zero values fall back to
// the defaults; tests compress them.
type Config struct {
	DebounceWindow time.Duration
	DragInterval   time.Duration
}

func (c Config) withDefaults() Config {
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = DefaultDebounceWindow
	}
	if c.DragInterval <= 0 {
		c.DragInterval = DefaultDragInterval
	}
	return c
}

// RenderTarget receives frames to present. Implementations must not call
// back into the session; Display is invoked with session state held.
type RenderTarget interface {
	Display(*imaging.Buffer)
}

// Session binds one upstream parameter source to one render target and
// schedules its preview updates. It satisfies both registry.Subscriber and
// reconcile.Session.
type Session struct {
	id        string
	registry  *registry.Registry
	requester reconcile.Requester
	target    RenderTarget
	logger    *log.Logger
	cfg       Config

	mu       sync.Mutex
	source   param.Source
	original *imaging.Buffer
	state    DragState
	destroyed bool
	latest   param.Snapshot
	lastSent param.Snapshot

	debounce delayedTask
	dragAuth delayedTask
}

// SessionOption customises a session.
type SessionOption func(*Session)

// WithSessionLogger overrides the session logger.
func WithSessionLogger(logger *log.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSessionConfig overrides the scheduling windows.
func WithSessionConfig(cfg Config) SessionOption {
	return func(s *Session) { s.cfg = cfg.withDefaults() }
}

// NewSession builds a session around the given original frame. The source
// is attached separately via the engine.
func NewSession(reg *registry.Registry, requester reconcile.Requester, target RenderTarget, original *imaging.Buffer, opts ...SessionOption) *Session {
	s := &Session{
		id:        uuid.NewString(),
		registry:  reg,
		requester: requester,
		target:    target,
		logger:    log.Default(),
		cfg:       Config{}.withDefaults(),
		original:  original,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SessionID implements registry.Subscriber.
func (s *Session) SessionID() string { return s.id }

// SourceTypeName reports the attached source's node type, or empty when no
// source is connected.
func (s *Session) SourceTypeName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		return ""
	}
	return s.source.TypeName()
}

// OriginalImage returns the current base frame. Callers treat it as
// read-only; every transform copies.
func (s *Session) OriginalImage() *imaging.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.original
}

// SetOriginal replaces the base frame, presents it, and invalidates the
// dedup record so the next change re-renders against the new base.
func (s *Session) SetOriginal(buf *imaging.Buffer) {
	s.mu.Lock()
	if s.destroyed || buf == nil {
		s.mu.Unlock()
		return
	}
	s.original = buf
	s.lastSent = nil
	s.displayLocked(buf)
	s.mu.Unlock()
}

func (s *Session) LastSentSnapshot() param.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSent
}

func (s *Session) RecordSentSnapshot(snap param.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.lastSent = snap
}

func (s *Session) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// Display presents a frame unless the session is destroyed. The destroyed
// check and the target call share the lock so a frame can never land after
// Destroy returns.
func (s *Session) Display(buf *imaging.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.displayLocked(buf)
}

func (s *Session) displayLocked(buf *imaging.Buffer) {
	if s.destroyed || s.target == nil || buf == nil {
		return
	}
	s.target.Display(buf)
}

// State reports the current drag state.
func (s *Session) State() DragState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) bindSource(src param.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = src
}

// HandleChange runs the scheduling decision for one upstream change. Idle:
// restart the debounce window, authoritative only on fire. Dragging: render
// a local approximation immediately and restart the drag-authoritative
// window.
func (s *Session) HandleChange() {
	s.mu.Lock()
	if s.destroyed || s.source == nil {
		s.mu.Unlock()
		return
	}
	snap := param.Capture(s.source)
	s.latest = snap
	dragging := s.state == StateDragging
	orig := s.original
	s.mu.Unlock()

	if dragging {
		if orig != nil {
			s.Display(pipeline.Render(orig, snap))
		}
		s.dragAuth.Reschedule(s.cfg.DragInterval, s.fireDragAuthoritative)
		return
	}
	s.debounce.Reschedule(s.cfg.DebounceWindow, s.fireIdleUpdate)
}

// HandleDragStart switches to drag mode and discards any queued idle work,
// both local and remote.
func (s *Session) HandleDragStart() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.state = StateDragging
	s.mu.Unlock()

	s.debounce.Cancel()
	s.requester.CancelPending(s)
}

// HandleDragEnd leaves drag mode. A drag-authoritative fire still owed is
// flushed immediately through the regular request path.
func (s *Session) HandleDragEnd() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	owed := s.dragAuth.Pending()
	snap := s.latest
	s.mu.Unlock()

	s.dragAuth.Cancel()
	if owed && snap != nil {
		s.requester.RequestAuthoritative(s, snap, false)
	}
}

// Destroy tears the session down synchronously: no callback scheduled
// before this call may touch the render target after it returns.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.source = nil
	s.mu.Unlock()

	s.debounce.Cancel()
	s.dragAuth.Cancel()
	s.requester.CancelPending(s)
	if s.registry != nil {
		s.registry.Unsubscribe(s)
	}
}

func (s *Session) fireIdleUpdate() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	snap := s.latest
	s.mu.Unlock()
	if snap != nil {
		s.requester.RequestAuthoritative(s, snap, false)
	}
}

func (s *Session) fireDragAuthoritative() {
	s.mu.Lock()
	if s.destroyed || s.state != StateDragging {
		s.mu.Unlock()
		return
	}
	snap := s.latest
	s.mu.Unlock()
	if snap != nil {
		s.requester.RequestAuthoritative(s, snap, true)
	}
}
