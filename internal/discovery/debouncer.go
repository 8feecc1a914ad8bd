package discovery

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// changeDebouncer collapses rapid discovered-list changes into batched
// listener notifications. A burst of SSDP announcements within the
// window results in a single callback.
type changeDebouncer struct {
	window   time.Duration
	clk      clock.Clock
	callback func()

	mu      sync.Mutex
	pending bool
	timer   *clock.Timer
	stopped bool
}

// newChangeDebouncer creates a debouncer with the given window.
func newChangeDebouncer(window time.Duration, clk clock.Clock, callback func()) *changeDebouncer {
	return &changeDebouncer{
		window:   window,
		clk:      clk,
		callback: callback,
	}
}

// Trigger records a list change. The callback is deferred until the
// window elapses without further triggers.
func (d *changeDebouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.pending = true

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.clk.AfterFunc(d.window, d.flush)
}

// flush fires the callback if a change is pending.
func (d *changeDebouncer) flush() {
	d.mu.Lock()
	fire := d.pending && !d.stopped
	d.pending = false
	d.mu.Unlock()

	if fire && d.callback != nil {
		d.callback()
	}
}

// Stop prevents any further callbacks from firing.
func (d *changeDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = false
}
