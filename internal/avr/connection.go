package avr

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// ControlPort is the receiver's telnet control port.
const ControlPort = "23"

// eventBuffer bounds the session event channel. Telemetry arriving
// while the consumer is behind is dropped with a warning rather than
// blocking the reader.
const eventBuffer = 16

// Connection is one live control session to a receiver. It dials in
// the background: New returns immediately with status "Connecting...",
// and the session reports EventConnected or EventClosed once the dial
// resolves. All bound controls share one Connection per host.
type Connection struct {
	host string

	mu     sync.RWMutex
	conn   net.Conn
	name   string
	status string
	power  bool
	volume int
	mute   bool
	source string
	closed bool

	events    chan Event
	closeOnce sync.Once
}

// New starts a session to the receiver at host. The returned
// connection is usable immediately; commands fail until the session
// reports EventConnected. An empty or unresolvable host is rejected.
func New(host, nameHint string) (*Connection, error) {
	if strings.TrimSpace(host) == "" {
		return nil, fmt.Errorf("receiver host is empty")
	}
	if _, err := net.ResolveTCPAddr("tcp", controlAddr(host)); err != nil {
		return nil, fmt.Errorf("invalid receiver host %q: %w", host, err)
	}

	name := nameHint
	if name == "" {
		name = host
	}

	c := &Connection{
		host:   host,
		name:   name,
		status: "Connecting...",
		events: make(chan Event, eventBuffer),
	}

	go c.run()

	return c, nil
}

// Host returns the session's stable identity key.
func (c *Connection) Host() string {
	return c.host
}

// Name returns the receiver's display name.
func (c *Connection) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Status returns the current session status text.
func (c *Connection) Status() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// State returns a snapshot of the receiver's reported state.
func (c *Connection) State() (power bool, volume int, mute bool, source string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.power, c.volume, c.mute, c.source
}

// Events returns the session's event stream. The channel is closed
// after EventClosed is delivered.
func (c *Connection) Events() <-chan Event {
	return c.events
}

// run dials the receiver and pumps telemetry until the session ends.
func (c *Connection) run() {
	addr := controlAddr(c.host)
	log.Info().Str("addr", addr).Msg("Connecting to receiver")

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		log.Warn().Err(err).Str("host", c.host).Msg("Receiver dial failed")
		c.shutdown("Disconnected")
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.status = "Connected"
	c.mu.Unlock()

	c.emit(Event{Kind: EventConnected, Status: "Connected"})

	// Ask for the current state so the snapshot converges quickly.
	for _, q := range []string{"PW?", "MV?", "MU?", "SI?"} {
		if err := c.send(q); err != nil {
			break
		}
	}

	scanner := bufio.NewScanner(conn)
	scanner.Split(scanCR)
	for scanner.Scan() {
		c.handleLine(scanner.Text())
	}

	c.shutdown("Disconnected")
}

// handleLine folds one telemetry line into the snapshot and emits the
// matching event.
func (c *Connection) handleLine(line string) {
	t := parseLine(line)
	if !t.ok {
		return
	}

	c.mu.Lock()
	switch t.kind {
	case EventPowerChanged:
		c.power = t.power
	case EventVolumeChanged:
		c.volume = t.volume
	case EventMuteChanged:
		c.mute = t.mute
	case eventNone:
		c.source = t.source
	}
	c.mu.Unlock()

	switch t.kind {
	case EventPowerChanged:
		c.emit(Event{Kind: EventPowerChanged, Power: t.power})
	case EventVolumeChanged:
		c.emit(Event{Kind: EventVolumeChanged, Volume: t.volume})
	case EventMuteChanged:
		c.emit(Event{Kind: EventMuteChanged, Mute: t.mute})
	}
}

// emit delivers an event without ever blocking the reader.
func (c *Connection) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		log.Warn().
			Str("host", c.host).
			Str("event", ev.Kind.String()).
			Msg("Receiver event dropped, consumer behind")
	}
}

// shutdown moves the session to its terminal state exactly once.
func (c *Connection) shutdown(status string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.status = status
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		if conn != nil {
			conn.Close()
		}

		// Terminal event; the channel drains and closes behind it.
		select {
		case c.events <- Event{Kind: EventClosed, Status: status}:
		default:
		}
		close(c.events)

		log.Info().Str("host", c.host).Msg("Receiver session closed")
	})
}

// Close ends the session. Safe to call at any time, including while
// the dial is still in flight.
func (c *Connection) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		// Unblocks the reader, which drives shutdown.
		conn.Close()
		return nil
	}

	c.shutdown("Disconnected")
	return nil
}

// send writes one protocol command terminated by CR.
func (c *Connection) send(cmd string) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("receiver %s: not connected", c.host)
	}

	if _, err := conn.Write([]byte(cmd + "\r")); err != nil {
		return fmt.Errorf("receiver %s: send %q: %w", c.host, cmd, err)
	}
	return nil
}

// SetPower turns the receiver on or puts it in standby.
func (c *Connection) SetPower(on bool) error {
	if on {
		return c.send("PWON")
	}
	return c.send("PWSTANDBY")
}

// TogglePower flips power based on the last reported state.
func (c *Connection) TogglePower() error {
	c.mu.RLock()
	on := c.power
	c.mu.RUnlock()
	return c.SetPower(!on)
}

// SetVolume sets the master volume (0-98).
func (c *Connection) SetVolume(level int) error {
	if level < 0 || level > 98 {
		return fmt.Errorf("receiver %s: volume %d out of range", c.host, level)
	}
	return c.send(fmt.Sprintf("MV%02d", level))
}

// StepVolume nudges the master volume by one step per tick.
func (c *Connection) StepVolume(ticks int) error {
	cmd := "MVUP"
	if ticks < 0 {
		cmd = "MVDOWN"
		ticks = -ticks
	}
	for i := 0; i < ticks; i++ {
		if err := c.send(cmd); err != nil {
			return err
		}
	}
	return nil
}

// SetMute mutes or unmutes the receiver.
func (c *Connection) SetMute(mute bool) error {
	if mute {
		return c.send("MUON")
	}
	return c.send("MUOFF")
}

// ToggleMute flips mute based on the last reported state.
func (c *Connection) ToggleMute() error {
	c.mu.RLock()
	muted := c.mute
	c.mu.RUnlock()
	return c.SetMute(!muted)
}

// SelectSource switches the receiver input ("TV", "DVD", "SAT/CBL", ...).
func (c *Connection) SelectSource(source string) error {
	if source == "" {
		return fmt.Errorf("receiver %s: source is empty", c.host)
	}
	return c.send("SI" + strings.ToUpper(source))
}

// controlAddr returns the dial address for a host, which may already
// carry an explicit port.
func controlAddr(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, ControlPort)
}

// scanCR splits receiver telemetry on carriage returns.
func scanCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\r' || b == '\n' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
