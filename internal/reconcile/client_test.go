package reconcile

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/lanse6899/previewd/internal/imaging"
	"github.com/lanse6899/previewd/internal/param"
)

type fakeSession struct {
	mu        sync.Mutex
	id        string
	orig      *imaging.Buffer
	lastSent  param.Snapshot
	destroyed bool
	displayed chan *imaging.Buffer
}

func newFakeSession(id string) *fakeSession {
	buf := imaging.NewBuffer(8, 6)
	for i := range buf.Pix {
		buf.Pix[i] = uint8(i * 7)
	}
	return &fakeSession{id: id, orig: buf, displayed: make(chan *imaging.Buffer, 16)}
}

func (s *fakeSession) SessionID() string       { return s.id }
func (s *fakeSession) SourceTypeName() string  { return "ColorAdjust" }
func (s *fakeSession) OriginalImage() *imaging.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orig
}

func (s *fakeSession) LastSentSnapshot() param.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSent
}

func (s *fakeSession) RecordSentSnapshot(snap param.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSent = snap
}

func (s *fakeSession) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

func (s *fakeSession) destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
}

func (s *fakeSession) Display(buf *imaging.Buffer) {
	s.displayed <- buf
}

func (s *fakeSession) waitDisplay(t *testing.T) *imaging.Buffer {
	t.Helper()
	select {
	case buf := <-s.displayed:
		return buf
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for display")
		return nil
	}
}

// processorState records what the fake processor saw.
type processorState struct {
	mu       sync.Mutex
	requests []processRequest
	applies  int
	fail     bool
}

func (p *processorState) processCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *processorState) lastRequest() processRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

func (p *processorState) setFail(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = fail
}

func newProcessor(t *testing.T) (*httptest.Server, *processorState) {
	t.Helper()
	state := &processorState{}
	mux := http.NewServeMux()
	mux.HandleFunc("/image_preview/process", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req processRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad process request: %v", err)
		}
		state.mu.Lock()
		state.requests = append(state.requests, req)
		fail := state.fail
		state.mu.Unlock()
		if fail {
			json.NewEncoder(w).Encode(processResponse{Success: false, Error: "processor unavailable"})
			return
		}
		out := imaging.NewBuffer(req.Width, req.Height)
		for i := range out.Pix {
			out.Pix[i] = 200
		}
		uri, err := imaging.EncodeDataURI(out, 85)
		if err != nil {
			t.Errorf("encode response: %v", err)
		}
		json.NewEncoder(w).Encode(processResponse{Success: true, ImageData: uri, Width: out.Width, Height: out.Height})
	})
	mux.HandleFunc("/image_preview/apply", func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		state.mu.Lock()
		state.applies++
		state.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]bool{"success": true})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, state
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithLogger(log.New(io.Discard, "", 0)),
		WithThrottleWindow(40 * time.Millisecond),
	}
	return New(srv.URL, append(base, opts...)...)
}

func TestRequestDeduplicatesIdenticalSnapshots(t *testing.T) {
	srv, state := newProcessor(t)
	c := newTestClient(t, srv)
	sess := newFakeSession("node-1")

	snap := param.Snapshot{"brightness": 1.2}
	c.RequestAuthoritative(sess, snap, false)
	sess.waitDisplay(t)

	// Same values again: the dedup check against the last sent snapshot
	// must suppress the round trip entirely.
	c.RequestAuthoritative(sess, param.Snapshot{"brightness": 1.2}, false)
	time.Sleep(150 * time.Millisecond)

	if got := state.processCount(); got != 1 {
		t.Fatalf("process calls = %d, want 1", got)
	}
}

func TestRequestCarriesWireContract(t *testing.T) {
	srv, state := newProcessor(t)
	c := newTestClient(t, srv)
	sess := newFakeSession("node-2")

	c.RequestAuthoritative(sess, param.Snapshot{"contrast": 1.1}, false)
	displayed := sess.waitDisplay(t)

	req := state.lastRequest()
	if req.NodeType != "ColorAdjust" {
		t.Fatalf("node_type = %q", req.NodeType)
	}
	if req.OriginalWidth != 8 || req.OriginalHeight != 6 {
		t.Fatalf("original dims = %dx%d", req.OriginalWidth, req.OriginalHeight)
	}
	if req.ScaleFactor != 1.0 {
		t.Fatalf("scale_factor = %v for image under the cap", req.ScaleFactor)
	}
	if v, ok := req.Params["contrast"].(float64); !ok || v != 1.1 {
		t.Fatalf("params = %v", req.Params)
	}
	// The response is upsampled back to the original dimensions.
	if displayed.Width != 8 || displayed.Height != 6 {
		t.Fatalf("displayed dims = %dx%d", displayed.Width, displayed.Height)
	}
	if !sess.LastSentSnapshot().Equal(param.Snapshot{"contrast": 1.1}) {
		t.Fatal("successful request was not recorded as sent")
	}
}

func TestFailureFallsBackToOriginalAndRetries(t *testing.T) {
	srv, state := newProcessor(t)
	c := newTestClient(t, srv, WithThrottleWindow(time.Millisecond))
	sess := newFakeSession("node-3")
	state.setFail(true)

	snap := param.Snapshot{"saturation": 0.5}
	c.RequestAuthoritative(sess, snap, false)
	displayed := sess.waitDisplay(t)

	if displayed != sess.OriginalImage() {
		t.Fatal("failed request should display the unmodified original")
	}
	if sess.LastSentSnapshot() != nil {
		t.Fatal("failed request must not be recorded as sent")
	}

	// The snapshot was never marked sent, so the same values retry cleanly
	// once the processor recovers.
	state.setFail(false)
	time.Sleep(10 * time.Millisecond)
	c.RequestAuthoritative(sess, snap, false)
	sess.waitDisplay(t)

	if got := state.processCount(); got != 2 {
		t.Fatalf("process calls = %d, want 2", got)
	}
	if !sess.LastSentSnapshot().Equal(snap) {
		t.Fatal("recovered request was not recorded as sent")
	}
}

func TestThrottleCollapsesBurstToLatest(t *testing.T) {
	srv, state := newProcessor(t)
	c := newTestClient(t, srv, WithThrottleWindow(80*time.Millisecond))
	sess := newFakeSession("node-4")

	// First request fires immediately; the burst behind it collapses into
	// one trailing request carrying the last snapshot.
	c.RequestAuthoritative(sess, param.Snapshot{"brightness": 1.1}, false)
	sess.waitDisplay(t)
	for i := 2; i <= 5; i++ {
		c.RequestAuthoritative(sess, param.Snapshot{"brightness": 1.0 + float64(i)/10}, false)
	}
	sess.waitDisplay(t)
	time.Sleep(120 * time.Millisecond)

	if got := state.processCount(); got != 2 {
		t.Fatalf("process calls = %d, want 2", got)
	}
	if v := state.lastRequest().Params["brightness"].(float64); v != 1.5 {
		t.Fatalf("trailing request brightness = %v, want 1.5", v)
	}
}

func TestDragRequestsBypassThrottle(t *testing.T) {
	srv, state := newProcessor(t)
	c := newTestClient(t, srv, WithThrottleWindow(10*time.Second))
	sess := newFakeSession("node-5")

	c.RequestAuthoritative(sess, param.Snapshot{"hue": 30.0}, true)
	sess.waitDisplay(t)

	if got := state.processCount(); got != 1 {
		t.Fatalf("process calls = %d, want 1", got)
	}
}

func TestCancelPendingDropsQueuedRequest(t *testing.T) {
	srv, state := newProcessor(t)
	c := newTestClient(t, srv, WithThrottleWindow(60*time.Millisecond))
	sess := newFakeSession("node-6")

	c.RequestAuthoritative(sess, param.Snapshot{"tint": 5.0}, false)
	sess.waitDisplay(t)
	c.RequestAuthoritative(sess, param.Snapshot{"tint": 9.0}, false)
	c.CancelPending(sess)
	time.Sleep(150 * time.Millisecond)

	if got := state.processCount(); got != 1 {
		t.Fatalf("process calls = %d, want 1 after cancel", got)
	}
}

func TestDestroyedSessionNeverTouchesTarget(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/image_preview/process", func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		<-release
		out := imaging.NewBuffer(4, 4)
		uri, _ := imaging.EncodeDataURI(out, 85)
		json.NewEncoder(w).Encode(processResponse{Success: true, ImageData: uri, Width: 4, Height: 4})
	})
	mux.HandleFunc("/image_preview/apply", func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv)
	sess := newFakeSession("node-7")

	c.RequestAuthoritative(sess, param.Snapshot{"exposure": 0.5}, false)
	time.Sleep(30 * time.Millisecond) // request is now in flight
	sess.destroy()
	close(release)
	time.Sleep(100 * time.Millisecond)

	select {
	case <-sess.displayed:
		t.Fatal("response for a destroyed session reached the render target")
	default:
	}
	if sess.LastSentSnapshot() != nil {
		t.Fatal("response for a destroyed session was recorded as sent")
	}
}
