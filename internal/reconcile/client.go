// Package reconcile issues authoritative processing requests to the remote
// processor and reconciles the results into preview sessions.
package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lanse6899/previewd/internal/eventbus"
	"github.com/lanse6899/previewd/internal/imaging"
	"github.com/lanse6899/previewd/internal/param"
)

const (
	defaultHTTPTimeout    = 10 * time.Second
	defaultThrottleWindow = 300 * time.Millisecond
	maxErrorBody          = 8 << 10
)

// ErrRequestFailed indicates a network error or non-success processor reply.
var ErrRequestFailed = errors.New("reconcile: authoritative request failed")

// Session is the view of a preview session the client needs. Implemented
// by preview.Session.
type Session interface {
	SessionID() string
	SourceTypeName() string
	OriginalImage() *imaging.Buffer
	LastSentSnapshot() param.Snapshot
	RecordSentSnapshot(param.Snapshot)
	Destroyed() bool
	Display(*imaging.Buffer)
}

// Requester abstracts the client for the scheduler; tests substitute fakes.
type Requester interface {
	RequestAuthoritative(s Session, snap param.Snapshot, dragging bool)
	CancelPending(s Session)
}

// Client downsamples session images, deduplicates and throttles requests,
// and reconciles processor responses into the displayed frame.
type Client struct {
	httpClient *http.Client
	baseURL    string
	bus        *eventbus.Bus
	logger     *log.Logger
	quality    int
	maxPreview int
	throttle   time.Duration

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// pendingRequest tracks the per-session trailing-edge throttle window.
type pendingRequest struct {
	timer    *time.Timer
	snapshot param.Snapshot
	lastFire time.Time
}

// Option customises a client.
type Option func(*Client)

// WithLogger overrides the client logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient substitutes the transport, primarily for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBus attaches an event bus for result announcements.
func WithBus(bus *eventbus.Bus) Option {
	return func(c *Client) { c.bus = bus }
}

// WithThrottleWindow overrides the non-drag throttle window.
func WithThrottleWindow(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.throttle = d
		}
	}
}

// WithJPEGQuality overrides the encode quality shipped to the processor.
func WithJPEGQuality(q int) Option {
	return func(c *Client) {
		if q > 0 && q <= 100 {
			c.quality = q
		}
	}
}

// WithMaxPreviewSize overrides the downsample cap.
func WithMaxPreviewSize(px int) Option {
	return func(c *Client) {
		if px > 0 {
			c.maxPreview = px
		}
	}
}

// New builds a client talking to the processor at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     log.Default(),
		quality:    imaging.DefaultJPEGQuality,
		maxPreview: imaging.MaxPreviewSize,
		throttle:   defaultThrottleWindow,
		pending:    make(map[string]*pendingRequest),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestAuthoritative submits the snapshot for ground-truth processing.
// Drag-mode calls bypass the throttle window (the drag timer already
// rate-limits them); all other calls collapse into a per-session
// trailing-edge window, so the request that actually fires always carries
// the latest snapshot available at fire time.
func (c *Client) RequestAuthoritative(s Session, snap param.Snapshot, dragging bool) {
	if s == nil || s.Destroyed() {
		return
	}
	snap = snap.Clone()

	if dragging {
		go c.send(s, snap)
		return
	}

	id := s.SessionID()
	c.mu.Lock()
	p := c.pending[id]
	if p == nil {
		p = &pendingRequest{}
		c.pending[id] = p
	}
	p.snapshot = snap
	if p.timer != nil {
		// Window already armed; it will pick up the snapshot we just stored.
		c.mu.Unlock()
		return
	}

	wait := c.throttle - time.Since(p.lastFire)
	if wait <= 0 {
		p.lastFire = time.Now()
		p.snapshot = nil
		c.mu.Unlock()
		go c.send(s, snap)
		return
	}

	p.timer = time.AfterFunc(wait, func() {
		c.mu.Lock()
		latest := p.snapshot
		p.timer = nil
		p.snapshot = nil
		p.lastFire = time.Now()
		c.mu.Unlock()
		if latest != nil {
			c.send(s, latest)
		}
	})
	c.mu.Unlock()
}

// CancelPending discards any queued-but-not-yet-sent request for the
// session. Called on drag start and on session destruction.
func (c *Client) CancelPending(s Session) {
	if s == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pending[s.SessionID()]; ok {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(c.pending, s.SessionID())
	}
}

// processRequest mirrors the processor's /image_preview/process contract.
type processRequest struct {
	ImageData      string         `json:"image_data"`
	Params         param.Snapshot `json:"params"`
	NodeType       string         `json:"node_type"`
	Width          int            `json:"width"`
	Height         int            `json:"height"`
	OriginalWidth  int            `json:"original_width"`
	OriginalHeight int            `json:"original_height"`
	ScaleFactor    float64        `json:"scale_factor"`
}

type processResponse struct {
	Success   bool   `json:"success"`
	ImageData string `json:"image_data,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Error     string `json:"error,omitempty"`
}

type applyRequest struct {
	NodeID    string `json:"node_id"`
	ImageData string `json:"image_data"`
}

// send performs the dedup check, the wire round trip, and reconciliation.
// On any failure the session falls back to its unmodified original and the
// snapshot is not recorded as sent, so the next change retries it.
func (c *Client) send(s Session, snap param.Snapshot) {
	if s.Destroyed() {
		return
	}
	if snap.Equal(s.LastSentSnapshot()) {
		return
	}

	orig := s.OriginalImage()
	if orig == nil {
		return
	}

	small, scale := imaging.Downsample(orig, c.maxPreview)
	uri, err := imaging.EncodeDataURI(small, c.quality)
	if err != nil {
		c.fallback(s, orig, fmt.Errorf("encode preview: %w", err))
		return
	}

	resp, err := c.postProcess(processRequest{
		ImageData:      uri,
		Params:         snap,
		NodeType:       s.SourceTypeName(),
		Width:          small.Width,
		Height:         small.Height,
		OriginalWidth:  orig.Width,
		OriginalHeight: orig.Height,
		ScaleFactor:    scale,
	})
	if err != nil {
		c.fallback(s, orig, err)
		return
	}

	buf, err := imaging.DecodeDataURI(resp.ImageData)
	if err != nil {
		c.fallback(s, orig, err)
		return
	}
	full := imaging.Upsample(buf, orig.Width, orig.Height)

	if s.Destroyed() {
		return
	}
	s.Display(full)
	s.RecordSentSnapshot(snap)
	c.deliverResult(s, full)
}

func (c *Client) postProcess(req processRequest) (*processResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal: %v", ErrRequestFailed, err)
	}

	httpResp, err := c.httpClient.Post(c.baseURL+"/image_preview/process", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer httpResp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(httpResp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrRequestFailed, err)
	}

	var resp processResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("%w: status %s: %v", ErrRequestFailed, httpResp.Status, err)
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = httpResp.Status
		}
		return nil, fmt.Errorf("%w: %s", ErrRequestFailed, msg)
	}
	return &resp, nil
}

// fallback renders the unmodified original so the preview never freezes on
// a failed request. The snapshot is deliberately not recorded as sent.
func (c *Client) fallback(s Session, orig *imaging.Buffer, err error) {
	c.logger.Printf("[Reconcile] session %s: %v; rendering original", s.SessionID(), err)
	if s.Destroyed() {
		return
	}
	s.Display(orig)
}

// deliverResult forwards the authoritative-resolution frame to the external
// sink keyed by session id. Fire-and-forget: failures are logged, never
// retried.
func (c *Client) deliverResult(s Session, full *imaging.Buffer) {
	uri, err := imaging.EncodeDataURI(full, c.quality)
	if err != nil {
		c.logger.Printf("[Reconcile] session %s: encode result: %v", s.SessionID(), err)
		return
	}
	eventbus.Publish(context.Background(), c.bus, eventbus.TopicPreviewResult, eventbus.SourceReconciler,
		eventbus.PreviewResultEvent{SessionID: s.SessionID(), ImageData: uri, Width: full.Width, Height: full.Height})
	body, err := json.Marshal(applyRequest{NodeID: s.SessionID(), ImageData: uri})
	if err != nil {
		c.logger.Printf("[Reconcile] session %s: marshal result: %v", s.SessionID(), err)
		return
	}

	resp, err := c.httpClient.Post(c.baseURL+"/image_preview/apply", "application/json", bytes.NewReader(body))
	if err != nil {
		c.logger.Printf("[Reconcile] session %s: deliver result: %v", s.SessionID(), err)
		return
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Printf("[Reconcile] session %s: deliver result: %s", s.SessionID(), resp.Status)
	}
}
