// Package server exposes the processor over HTTP and WebSocket: the
// ground-truth image processing endpoints the reconciliation client talks
// to, plus the push channel that carries finished frames to and from
// attached hosts.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/lanse6899/previewd/internal/eventbus"
	"github.com/lanse6899/previewd/internal/imaging"
	"github.com/lanse6899/previewd/internal/param"
	"github.com/lanse6899/previewd/internal/pipeline"
)

const maxRequestBytes = 64 << 20

// APIServer serves the processor HTTP API and owns the WebSocket hub.
type APIServer struct {
	addr     string
	logger   *log.Logger
	registry *pipeline.Registry
	hub      *Hub
	quality  int

	mu         sync.Mutex
	httpServer *http.Server
}

// Option customises an APIServer.
type Option func(*APIServer)

// WithLogger overrides the server logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *APIServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithJPEGQuality overrides the encode quality of processed responses.
func WithJPEGQuality(q int) Option {
	return func(s *APIServer) {
		if q > 0 && q <= 100 {
			s.quality = q
		}
	}
}

// New creates the API server. The bus may be nil; incoming frames are then
// only broadcast, never routed to local sessions.
func New(addr string, registry *pipeline.Registry, bus *eventbus.Bus, opts ...Option) *APIServer {
	s := &APIServer{
		addr:     addr,
		logger:   log.Default(),
		registry: registry,
		quality:  imaging.DefaultJPEGQuality,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = newHub(bus, s.logger)
	return s
}

// Hub exposes the WebSocket hub for frame broadcasting.
func (s *APIServer) Hub() *Hub { return s.hub }

// Handler builds the route table. Exposed so tests can drive the server
// through httptest without binding a port.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.hub.HandleWebSocket)
	mux.HandleFunc("/image_preview/process", s.handleProcess)
	mux.HandleFunc("/image_preview/process_chain", s.handleProcessChain)
	mux.HandleFunc("/image_preview/apply", s.handleApply)
	return mux
}

// Start runs the hub loop and serves HTTP until Shutdown.
func (s *APIServer) Start() error {
	go s.hub.Run()

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Printf("[APIServer] listening on %s", s.addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server and the hub.
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// processRequest mirrors the payload the reconciliation client posts.
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
	Success        bool    `json:"success"`
	ImageData      string  `json:"image_data"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	OriginalWidth  int     `json:"original_width,omitempty"`
	OriginalHeight int     `json:"original_height,omitempty"`
	ScaleFactor    float64 `json:"scale_factor,omitempty"`
}

// chainStep is one node in a process_chain request, most-upstream first.
type chainStep struct {
	Type   string         `json:"type"`
	Params param.Snapshot `json:"params"`
}

type chainRequest struct {
	ImageData string      `json:"image_data"`
	Chain     []chainStep `json:"chain"`
}

// handleProcess applies one node's parameters to the submitted image and
// returns the processed JPEG. The declared node type is consulted first;
// parameter inference covers unrecognised types.
func (s *APIServer) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req processRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	buf, err := imaging.DecodeDataURI(req.ImageData)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("decode image: %v", err))
		return
	}

	out := s.apply(buf, req.NodeType, req.Params)
	uri, err := imaging.EncodeDataURI(out, s.quality)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("encode result: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, processResponse{
		Success:        true,
		ImageData:      uri,
		Width:          out.Width,
		Height:         out.Height,
		OriginalWidth:  req.OriginalWidth,
		OriginalHeight: req.OriginalHeight,
		ScaleFactor:    req.ScaleFactor,
	})
}

// handleProcessChain runs the submitted image through a node chain, most
// upstream first. Steps that resolve to nothing are skipped rather than
// failing the whole chain.
func (s *APIServer) handleProcessChain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req chainRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if len(req.Chain) == 0 {
		writeError(w, http.StatusBadRequest, "empty node chain")
		return
	}

	buf, err := imaging.DecodeDataURI(req.ImageData)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("decode image: %v", err))
		return
	}

	for _, step := range req.Chain {
		buf = s.apply(buf, step.Type, step.Params)
	}

	uri, err := imaging.EncodeDataURI(buf, s.quality)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("encode result: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, processResponse{
		Success:   true,
		ImageData: uri,
		Width:     buf.Width,
		Height:    buf.Height,
	})
}

// handleApply accepts final frame deliveries. Kept as an acknowledging
// no-op for compatibility with hosts that post their resolved frames back.
func (s *APIServer) handleApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	io.Copy(io.Discard, http.MaxBytesReader(w, r.Body, maxRequestBytes))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// apply resolves the processing for one node: declared type first, then
// parameter inference, then the generic magnitude fallback. An image with
// nothing applicable passes through unchanged.
func (s *APIServer) apply(buf *imaging.Buffer, nodeType string, snap param.Snapshot) *imaging.Buffer {
	if s.registry != nil && nodeType != "" {
		if op, ok := s.registry.Resolve(nodeType); ok {
			return op.Apply(buf, snap)
		}
	}
	return pipeline.Render(buf, snap)
}
