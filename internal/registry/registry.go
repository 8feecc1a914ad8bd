// Package registry owns the set of live receiver connections and the
// control-to-receiver associations. Both stores are injected into the
// lifecycle controller; nothing here is process-global.
package registry

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/mthiel/denon-receiver-network-control/internal/avr"
)

// DefaultLinger is how long an unreferenced connection is kept warm
// before it is torn down. Deck page switches produce rapid
// disappear/reappear cycles; the linger avoids reconnect churn.
const DefaultLinger = 30 * time.Second

// Connection is the slice of a receiver session the registry and
// controller need. *avr.Connection satisfies it.
type Connection interface {
	Host() string
	Name() string
	Status() string
	Events() <-chan avr.Event
	Close() error

	SetPower(on bool) error
	TogglePower() error
	SetVolume(level int) error
	StepVolume(ticks int) error
	SetMute(mute bool) error
	ToggleMute() error
	SelectSource(source string) error
}

// Dialer constructs a new receiver session. It is injected so tests
// can substitute fakes for real TCP sessions.
type Dialer func(host, nameHint string) (Connection, error)

// EventSink receives every event from every registered connection.
// The registry wires it up exactly once per created connection.
type EventSink func(host string, ev avr.Event)

// entry is one registered connection plus its reference count.
type entry struct {
	conn   Connection
	refs   int
	linger *clock.Timer
}

// Registry keeps at most one live connection per host. Creation is
// idempotent under concurrent first reference, creation failures are
// not cached, and connections are reference counted: a connection is
// torn down once its last association is released and the linger
// window passes without a new acquisition.
type Registry struct {
	dial   Dialer
	sink   EventSink
	clk    clock.Clock
	linger time.Duration

	mu    sync.Mutex
	conns map[string]*entry
	group singleflight.Group
}

// NewRegistry creates an empty registry. sink may be nil.
func NewRegistry(dial Dialer, sink EventSink, clk clock.Clock, linger time.Duration) *Registry {
	return &Registry{
		dial:   dial,
		sink:   sink,
		clk:    clk,
		linger: linger,
		conns:  make(map[string]*entry),
	}
}

// Acquire returns the connection for host, creating it on first
// reference, and takes one reference on it. Concurrent first
// references for the same host observe the same connection; the
// displayNameHint is ignored when the connection already exists. A
// creation failure leaves nothing cached, so a later Acquire retries.
func (r *Registry) Acquire(host, nameHint string) (Connection, error) {
	for {
		v, err, _ := r.group.Do(host, func() (interface{}, error) {
			r.mu.Lock()
			e, ok := r.conns[host]
			r.mu.Unlock()
			if ok {
				return e, nil
			}

			conn, err := r.dial(host, nameHint)
			if err != nil {
				return nil, err
			}

			e = &entry{conn: conn}
			r.mu.Lock()
			r.conns[host] = e
			r.mu.Unlock()

			go r.forward(host, conn)

			log.Info().Str("host", host).Msg("Receiver connection registered")
			return e, nil
		})
		if err != nil {
			return nil, err
		}

		e := v.(*entry)
		r.mu.Lock()
		if r.conns[host] != e {
			// The linger teardown won the race; try again.
			r.mu.Unlock()
			continue
		}
		e.refs++
		if e.linger != nil {
			e.linger.Stop()
			e.linger = nil
		}
		r.mu.Unlock()

		return e.conn, nil
	}
}

// Release drops one reference on host's connection. When the last
// reference is gone, teardown is scheduled after the linger window; a
// new Acquire within the window cancels it. Releasing an unknown host
// is a no-op.
func (r *Registry) Release(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[host]
	if !ok {
		return
	}

	if e.refs > 0 {
		e.refs--
	}
	if e.refs > 0 || e.linger != nil {
		return
	}

	e.linger = r.clk.AfterFunc(r.linger, func() {
		r.expire(host, e)
	})
}

// expire tears down a connection whose linger window elapsed with no
// remaining references.
func (r *Registry) expire(host string, e *entry) {
	r.mu.Lock()
	if r.conns[host] != e || e.refs > 0 || e.linger == nil {
		r.mu.Unlock()
		return
	}
	delete(r.conns, host)
	r.mu.Unlock()

	if err := e.conn.Close(); err != nil {
		log.Warn().Err(err).Str("host", host).Msg("Receiver teardown failed")
	}
	log.Info().Str("host", host).Msg("Receiver connection torn down")
}

// Peek returns the connection for host without creating one or taking
// a reference.
func (r *Registry) Peek(host string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[host]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Refs reports the current reference count for host.
func (r *Registry) Refs(host string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.conns[host]; ok {
		return e.refs
	}
	return 0
}

// forward pumps one connection's events into the shared sink. It ends
// when the connection closes its event channel.
func (r *Registry) forward(host string, conn Connection) {
	for ev := range conn.Events() {
		if r.sink != nil {
			r.sink(host, ev)
		}
	}
}

// Close tears down every registered connection. Used at shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := make(map[string]*entry, len(r.conns))
	for host, e := range r.conns {
		if e.linger != nil {
			e.linger.Stop()
		}
		entries[host] = e
	}
	r.conns = make(map[string]*entry)
	r.mu.Unlock()

	for host, e := range entries {
		if err := e.conn.Close(); err != nil {
			log.Warn().Err(err).Str("host", host).Msg("Receiver close failed")
		}
	}
}
