package discovery

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

// fakeSession is a controllable Session for coordinator tests.
type fakeSession struct {
	mu        sync.Mutex
	starts    int
	stops     int
	destroyed bool
	onAddress func(addr, location string)
}

func (s *fakeSession) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrSessionDestroyed
	}
	s.starts++
	return nil
}

func (s *fakeSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
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

func (s *fakeSession) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

// announce simulates an address-observed event from the transport.
func (s *fakeSession) announce(addr, location string) {
	s.onAddress(addr, location)
}

// testHarness wires a coordinator to fake sessions, a mock clock and a
// controllable resolver.
type testHarness struct {
	mk       *clock.Mock
	coord    *Coordinator
	sessions []*fakeSession

	mu       sync.Mutex
	names    map[string]string
	resolveC chan string // when non-nil, resolutions block until released
	changes  int
}

func newHarness() *testHarness {
	h := &testHarness{
		mk:    clock.NewMock(),
		names: make(map[string]string),
	}

	factory := func(onAddress func(addr, location string)) Session {
		s := &fakeSession{onAddress: onAddress}
		h.sessions = append(h.sessions, s)
		return s
	}

	resolve := func(addr, location string) (string, error) {
		if h.resolveC != nil {
			<-h.resolveC
		}
		h.mu.Lock()
		name, ok := h.names[addr]
		h.mu.Unlock()
		if !ok {
			return "", fmt.Errorf("no name for %s", addr)
		}
		return name, nil
	}

	h.coord = NewCoordinator(factory, resolve, h.mk, func() {
		h.mu.Lock()
		h.changes++
		h.mu.Unlock()
	})

	return h
}

func (h *testHarness) setName(addr, name string) {
	h.mu.Lock()
	h.names[addr] = name
	h.mu.Unlock()
}

// settle gives resolution goroutines time to finish and fires pending
// debounce timers.
func (h *testHarness) settle() {
	time.Sleep(20 * time.Millisecond)
	h.mk.Add(time.Second)
	time.Sleep(20 * time.Millisecond)
}

func (h *testHarness) changeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.changes
}

func TestDiscoveredListEmptyIsNil(t *testing.T) {
	h := newHarness()
	if got := h.coord.DiscoveredList(); got != nil {
		t.Fatalf("expected nil list, got %v", got)
	}
}

func TestStartSearchingDefersSessionStart(t *testing.T) {
	h := newHarness()
	h.coord.StartSearching()

	if len(h.sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(h.sessions))
	}
	// The start is deferred to the next scheduling opportunity, after
	// the address subscription is in place.
	if got := h.sessions[0].startCount(); got != 0 {
		t.Fatalf("session started before the deferred step, starts = %d", got)
	}

	h.mk.Add(time.Millisecond)
	if got := h.sessions[0].startCount(); got != 1 {
		t.Fatalf("starts = %d, want 1", got)
	}
}

func TestStartSearchingIdempotentWhileSearching(t *testing.T) {
	h := newHarness()
	h.coord.StartSearching()
	h.coord.StartSearching()
	h.coord.StartSearching()
	h.mk.Add(time.Millisecond)

	if len(h.sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(h.sessions))
	}
	if got := h.sessions[0].startCount(); got != 1 {
		t.Fatalf("starts = %d, want 1", got)
	}
}

func TestDiscoveredListLedBySentinel(t *testing.T) {
	h := newHarness()
	h.setName("192.168.1.77", "Living Room")
	h.coord.StartSearching()
	h.mk.Add(time.Millisecond)

	h.sessions[0].announce("192.168.1.77", "http://192.168.1.77:8080/description.xml")
	h.settle()

	got := h.coord.DiscoveredList()
	want := []Option{
		{Label: SentinelLabel, Value: ""},
		{Label: "Living Room", Value: "192.168.1.77"},
	}
	if len(got) != len(want) {
		t.Fatalf("list = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("list[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if h.changeCount() == 0 {
		t.Error("expected a change notification")
	}
}

func TestResolutionFailureFallsBackToAddress(t *testing.T) {
	h := newHarness()
	h.coord.StartSearching()
	h.mk.Add(time.Millisecond)

	// No name registered for this address; resolution fails.
	h.sessions[0].announce("10.0.0.9", "")
	h.settle()

	got := h.coord.DiscoveredList()
	if len(got) != 2 {
		t.Fatalf("list length = %d, want 2", len(got))
	}
	if got[1].Label != "10.0.0.9" || got[1].Value != "10.0.0.9" {
		t.Errorf("fallback entry = %v, want address for both fields", got[1])
	}
}

func TestRepeatObservationsDeduplicated(t *testing.T) {
	h := newHarness()
	h.resolveC = make(chan string)
	h.setName("192.168.1.50", "Den")
	h.coord.StartSearching()
	h.mk.Add(time.Millisecond)

	// Two observations before the first resolution completes, plus one
	// after it; the pending marker must collapse all of them.
	h.sessions[0].announce("192.168.1.50", "")
	h.sessions[0].announce("192.168.1.50", "")
	close(h.resolveC)
	h.settle()
	h.sessions[0].announce("192.168.1.50", "")
	h.settle()

	got := h.coord.DiscoveredList()
	if len(got) != 2 {
		t.Fatalf("list = %v, want sentinel plus one entry", got)
	}
}

func TestRestartClearsDiscoveredSet(t *testing.T) {
	h := newHarness()
	h.setName("192.168.1.50", "Den")
	h.coord.StartSearching()
	h.mk.Add(time.Millisecond)
	h.sessions[0].announce("192.168.1.50", "")
	h.settle()

	if got := h.coord.DiscoveredList(); len(got) != 2 {
		t.Fatalf("precondition: list = %v", got)
	}

	h.coord.StopSearching()
	h.coord.StartSearching()
	h.mk.Add(time.Millisecond)

	if got := h.coord.DiscoveredList(); got != nil {
		t.Fatalf("expected cleared list after restart, got %v", got)
	}

	// Same session object is reused; stop must not have destroyed it.
	if len(h.sessions) != 1 {
		t.Fatalf("expected session reuse, got %d sessions", len(h.sessions))
	}
	if got := h.sessions[0].startCount(); got != 2 {
		t.Errorf("starts = %d, want 2", got)
	}
}

func TestStaleResolutionDroppedAfterRestart(t *testing.T) {
	h := newHarness()
	h.resolveC = make(chan string)
	h.setName("192.168.1.50", "Den")
	h.coord.StartSearching()
	h.mk.Add(time.Millisecond)

	h.sessions[0].announce("192.168.1.50", "")

	// Restart while the resolution is still in flight.
	h.coord.StopSearching()
	h.coord.StartSearching()
	h.mk.Add(time.Millisecond)

	close(h.resolveC)
	h.settle()

	if got := h.coord.DiscoveredList(); got != nil {
		t.Fatalf("stale resolution leaked into new generation: %v", got)
	}
}

func TestDestroyedSessionReplacedOnNextStart(t *testing.T) {
	h := newHarness()
	h.coord.StartSearching()
	h.mk.Add(time.Millisecond)

	h.sessions[0].destroy()
	h.coord.StartSearching()
	h.mk.Add(time.Millisecond)

	if len(h.sessions) != 2 {
		t.Fatalf("expected replacement session, got %d sessions", len(h.sessions))
	}
	if got := h.sessions[1].startCount(); got != 1 {
		t.Errorf("replacement starts = %d, want 1", got)
	}
}

func TestStopSearchingWithoutSessionIsNoop(t *testing.T) {
	h := newHarness()
	h.coord.StopSearching() // must not panic
	if len(h.sessions) != 0 {
		t.Fatalf("no session should exist, got %d", len(h.sessions))
	}
}
