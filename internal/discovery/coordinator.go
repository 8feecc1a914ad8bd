package discovery

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

// SentinelLabel heads every non-empty discovered list served to the UI.
const SentinelLabel = "Select a receiver"

// changeWindow is the debounce window for list-changed notifications.
const changeWindow = 250 * time.Millisecond

// Option is one entry of the discovered list served to the UI.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// SessionFactory constructs a replacement discovery session with the
// given address-observed subscriber already registered.
type SessionFactory func(onAddress func(addr, location string)) Session

// Coordinator owns the process's single discovery session and the
// current list of discovered receivers. It replaces a destroyed
// session transparently on the next start and clears the discovered
// set each time searching (re)starts.
type Coordinator struct {
	newSession SessionFactory
	resolve    Resolver
	clk        clock.Clock

	mu        sync.Mutex
	session   Session
	searching bool
	gen       uint64
	pending   map[string]bool
	found     []Option

	notify *changeDebouncer
}

// NewCoordinator creates a coordinator. onChange, if non-nil, is
// invoked (debounced) after the discovered list changes.
func NewCoordinator(factory SessionFactory, resolve Resolver, clk clock.Clock, onChange func()) *Coordinator {
	c := &Coordinator{
		newSession: factory,
		resolve:    resolve,
		clk:        clk,
		pending:    make(map[string]bool),
	}
	c.notify = newChangeDebouncer(changeWindow, clk, onChange)
	return c
}

// StartSearching brings discovery up. Calling it while already
// searching is a no-op. A missing or destroyed session is replaced,
// with the address subscriber registered before the transport starts;
// the actual start is deferred one scheduling step so no observation
// can race the subscription.
func (c *Coordinator) StartSearching() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.searching && c.session != nil && !c.session.Destroyed() {
		return
	}

	if c.session == nil || c.session.Destroyed() {
		c.session = c.newSession(c.observed)
		log.Info().Msg("Discovery session created")
	}

	// Restarting rebuilds the discovered set from scratch.
	c.gen++
	c.found = nil
	c.pending = make(map[string]bool)
	c.searching = true

	sess := c.session
	c.clk.AfterFunc(0, func() {
		if err := sess.Start(); err != nil {
			log.Warn().Err(err).Msg("Discovery start failed")
		}
	})
}

// StopSearching pauses discovery. The session is kept for a later
// restart; only the session itself decides when it is destroyed.
func (c *Coordinator) StopSearching() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return
	}
	c.session.Stop()
	c.searching = false
}

// observed handles one address-observed report. A pending-resolution
// marker per address fully de-duplicates repeat observations, including
// ones arriving before the first name resolution completes.
func (c *Coordinator) observed(addr, location string) {
	c.mu.Lock()
	if !c.searching || c.pending[addr] {
		c.mu.Unlock()
		return
	}
	c.pending[addr] = true
	gen := c.gen
	c.mu.Unlock()

	go c.resolveAndAdd(addr, location, gen)
}

// resolveAndAdd resolves a display name for addr and appends the entry,
// unless discovery restarted while the resolution was in flight.
func (c *Coordinator) resolveAndAdd(addr, location string, gen uint64) {
	name, err := c.resolve(addr, location)
	if err != nil || name == "" {
		// Resolution failure degrades to showing the raw address.
		log.Debug().Err(err).Str("addr", addr).Msg("Name resolution failed, using address")
		name = addr
	}

	c.mu.Lock()
	if c.gen != gen {
		// Stale resolution from before a restart; drop it.
		c.mu.Unlock()
		return
	}
	c.found = append(c.found, Option{Label: name, Value: addr})
	c.mu.Unlock()

	log.Info().Str("addr", addr).Str("name", name).Msg("Discovered receiver")
	c.notify.Trigger()
}

// DiscoveredList returns the sentinel-led list of discovered receivers
// in discovery order, or nil when nothing has been discovered yet.
func (c *Coordinator) DiscoveredList() []Option {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.found) == 0 {
		return nil
	}

	list := make([]Option, 0, len(c.found)+1)
	list = append(list, Option{Label: SentinelLabel, Value: ""})
	list = append(list, c.found...)
	return list
}

// Close stops discovery and suppresses further notifications.
func (c *Coordinator) Close() {
	c.StopSearching()
	c.notify.Stop()
}
