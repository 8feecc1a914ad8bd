package discovery

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestDebouncerRapidTriggersCollapseToOne(t *testing.T) {
	var calls int32
	mk := clock.NewMock()

	d := newChangeDebouncer(50*time.Millisecond, mk, func() { atomic.AddInt32(&calls, 1) })
	defer d.Stop()

	// Fire 10 rapid triggers
	for i := 0; i < 10; i++ {
		d.Trigger()
	}

	mk.Add(100 * time.Millisecond)

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected 1 callback, got %d", got)
	}
}

func TestDebouncerSeparateWindowsFireIndependently(t *testing.T) {
	var calls int32
	mk := clock.NewMock()

	d := newChangeDebouncer(50*time.Millisecond, mk, func() { atomic.AddInt32(&calls, 1) })
	defer d.Stop()

	d.Trigger()
	mk.Add(100 * time.Millisecond)

	d.Trigger()
	mk.Add(100 * time.Millisecond)

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 callbacks, got %d", got)
	}
}

func TestDebouncerTriggerResetsWindow(t *testing.T) {
	var calls int32
	mk := clock.NewMock()

	d := newChangeDebouncer(50*time.Millisecond, mk, func() { atomic.AddInt32(&calls, 1) })
	defer d.Stop()

	d.Trigger()
	mk.Add(30 * time.Millisecond)
	d.Trigger() // resets the window
	mk.Add(30 * time.Millisecond)

	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Fatalf("callback fired before the window elapsed, calls = %d", got)
	}

	mk.Add(30 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected 1 callback after the window, got %d", got)
	}
}

func TestDebouncerStopSuppressesCallbacks(t *testing.T) {
	var calls int32
	mk := clock.NewMock()

	d := newChangeDebouncer(50*time.Millisecond, mk, func() { atomic.AddInt32(&calls, 1) })

	d.Trigger()
	d.Stop()
	mk.Add(time.Second)

	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("expected no callbacks after Stop, got %d", got)
	}

	d.Trigger() // no-op once stopped
	mk.Add(time.Second)
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("trigger after Stop fired, calls = %d", got)
	}
}
