package eventbus

import "time"

// Topic identifies a logical channel on the bus.
type Topic string

const (
	// TopicSourceChanged carries parameter mutations on watched sources.
	TopicSourceChanged Topic = "source.changed"
	// TopicSourceDrag carries drag begin/end transitions on watched sources.
	TopicSourceDrag Topic = "source.drag"
	// TopicPreviewFrame carries finished upstream frames pushed to sessions.
	TopicPreviewFrame Topic = "preview.frame"
	// TopicPreviewResult announces authoritative renders for downstream reuse.
	TopicPreviewResult Topic = "preview.result"
)

// Source describes which component produced an event.
type Source string

const (
	SourceEngine     Source = "engine"
	SourceWatcher    Source = "source_watcher"
	SourceReconciler Source = "reconciler"
	SourceProcessor  Source = "processor"
	SourceUnknown    Source = "unknown"
)

// Envelope wraps every message published on the bus.
type Envelope struct {
	Topic     Topic
	Timestamp time.Time
	Source    Source
	Payload   any
}

// SourceChangedEvent reports a single value mutation on a parameter source.
type SourceChangedEvent struct {
	SourceID string
	Name     string
}

// DragPhase distinguishes the two drag transitions.
type DragPhase string

const (
	DragBegin DragPhase = "begin"
	DragEnd   DragPhase = "end"
)

// SourceDragEvent reports a continuous-adjustment transition on a source.
type SourceDragEvent struct {
	SourceID string
	Phase    DragPhase
}

// PreviewFrameEvent delivers a finished upstream frame to the session whose
// id matches NodeID. Sessions must ignore events for other ids.
type PreviewFrameEvent struct {
	NodeID    string
	ImageData string // data-URI encoded image
}

// PreviewResultEvent announces an authoritative-resolution render, keyed by
// the session that produced it, for downstream reuse.
type PreviewResultEvent struct {
	SessionID string
	ImageData string // data-URI encoded frame
	Width     int
	Height    int
}
