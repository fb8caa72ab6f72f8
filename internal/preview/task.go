package preview

import (
	"sync"
	"time"
)

// delayedTask is a restartable one-shot timer. Reschedule replaces any
// pending fire; Cancel guarantees the callback will not run afterwards
// even if the underlying timer already expired. The generation counter
// keeps a stale timer that lost the Stop race from firing on behalf of a
// newer schedule.
type delayedTask struct {
	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	pending bool
}

func (t *delayedTask) Reschedule(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	t.pending = true
	gen := t.gen
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		if !t.pending || t.gen != gen {
			t.mu.Unlock()
			return
		}
		t.pending = false
		t.mu.Unlock()
		fn()
	})
}

func (t *delayedTask) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.pending = false
}

func (t *delayedTask) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}
