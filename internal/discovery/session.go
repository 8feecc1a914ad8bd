// Package discovery finds network AV receivers via SSDP and maintains
// the list of discovered receivers served to configuration UIs.
package discovery

import (
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koron/go-ssdp"
	"github.com/rs/zerolog/log"
)

// searchTarget is the UPnP device type receivers announce.
const searchTarget = "urn:schemas-upnp-org:device:MediaRenderer:1"

// searchInterval is how often an active search is re-issued while a
// session is searching.
const searchInterval = 30 * time.Second

// searchWaitSec is the MX value for active SSDP searches.
const searchWaitSec = 2

// State is a discovery session's lifecycle position.
type State int32

const (
	// StateCreated is the initial state before the first Start.
	StateCreated State = iota
	// StateSearching means the session is actively listening.
	StateSearching
	// StateStopped means searching is paused; Start may be called again.
	StateStopped
	// StateDestroyed is terminal. A destroyed session must be replaced.
	StateDestroyed
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSearching:
		return "searching"
	case StateStopped:
		return "stopped"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// ErrSessionDestroyed is returned when Start is called on a session
// that has reached its terminal state.
var ErrSessionDestroyed = fmt.Errorf("discovery session destroyed")

// Session is one discovery listener. Stop pauses it; Destroy is
// terminal, after which the owner must construct a replacement.
type Session interface {
	Start() error
	Stop()
	Destroyed() bool
}

// SSDPSession discovers receivers by listening for SSDP alive
// announcements and periodically issuing active searches. Observed
// addresses are reported through the callback supplied at construction,
// which is registered before the transport starts so no announcement
// can be lost to a subscribe-after-emit race.
type SSDPSession struct {
	id        string
	onAddress func(addr, location string)

	mu      sync.Mutex
	state   State
	monitor *ssdp.Monitor
	stop    chan struct{}
}

// NewSSDPSession creates a session in StateCreated. onAddress is
// invoked once per SSDP announcement with the announcing host and its
// description URL; de-duplication is the caller's concern.
func NewSSDPSession(onAddress func(addr, location string)) *SSDPSession {
	return &SSDPSession{
		id:        uuid.NewString(),
		onAddress: onAddress,
	}
}

// Start begins listening and searching. It is a no-op while already
// searching and fails with ErrSessionDestroyed after destruction.
func (s *SSDPSession) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateDestroyed:
		return ErrSessionDestroyed
	case StateSearching:
		return nil
	}

	monitor := &ssdp.Monitor{
		Alive: func(m *ssdp.AliveMessage) {
			if m.Type != searchTarget {
				return
			}
			s.report(m.Location, m.From)
		},
	}
	if err := monitor.Start(); err != nil {
		// The transport could not be brought up; this session is done.
		s.state = StateDestroyed
		log.Error().Err(err).Str("session", s.id).Msg("Discovery transport failed, session destroyed")
		return fmt.Errorf("start ssdp monitor: %w", err)
	}

	s.monitor = monitor
	s.stop = make(chan struct{})
	s.state = StateSearching

	go s.searchLoop(s.stop)

	log.Info().Str("session", s.id).Msg("Discovery searching")
	return nil
}

// Stop pauses the session. The session stays usable; a later Start
// resumes searching. Destruction is a separate, terminal transition.
func (s *SSDPSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateSearching {
		return
	}

	s.teardownLocked()
	s.state = StateStopped
	log.Info().Str("session", s.id).Msg("Discovery stopped")
}

// Destroy moves the session to its terminal state.
func (s *SSDPSession) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDestroyed {
		return
	}
	if s.state == StateSearching {
		s.teardownLocked()
	}
	s.state = StateDestroyed
	log.Info().Str("session", s.id).Msg("Discovery session destroyed")
}

// Destroyed reports whether the session has reached its terminal state.
func (s *SSDPSession) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateDestroyed
}

// State returns the session's current lifecycle state.
func (s *SSDPSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// teardownLocked stops the transport. Caller holds s.mu.
func (s *SSDPSession) teardownLocked() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	if s.monitor != nil {
		s.monitor.Close()
		s.monitor = nil
	}
}

// searchLoop issues active searches until the session stops.
func (s *SSDPSession) searchLoop(stop chan struct{}) {
	ticker := time.NewTicker(searchInterval)
	defer ticker.Stop()

	for {
		s.search()
		select {
		case <-ticker.C:
		case <-stop:
			return
		}
	}
}

// search performs one active SSDP search round.
func (s *SSDPSession) search() {
	services, err := ssdp.Search(searchTarget, searchWaitSec, "")
	if err != nil {
		log.Warn().Err(err).Str("session", s.id).Msg("SSDP search failed")
		return
	}
	for i := range services {
		s.report(services[i].Location, nil)
	}
}

// report extracts the announcing host and hands it to the subscriber.
func (s *SSDPSession) report(location string, from net.Addr) {
	addr := hostFromLocation(location)
	if addr == "" && from != nil {
		if h, _, err := net.SplitHostPort(from.String()); err == nil {
			addr = h
		}
	}
	if addr == "" {
		return
	}
	s.onAddress(addr, location)
}

// hostFromLocation pulls the device host out of a description URL.
func hostFromLocation(location string) string {
	if location == "" {
		return ""
	}
	u, err := url.Parse(location)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
