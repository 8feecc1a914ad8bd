// Package controller orchestrates control-surface lifecycle events
// against the connection registry, association table and discovery
// coordinator, and fans receiver state back out to bound controls.
package controller

import (
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mthiel/denon-receiver-network-control/internal/avr"
	"github.com/mthiel/denon-receiver-network-control/internal/discovery"
	"github.com/mthiel/denon-receiver-network-control/internal/registry"
	"github.com/mthiel/denon-receiver-network-control/internal/surface"
)

// Action suffixes routing key and dial input to receiver commands.
const (
	actionPower  = ".power"
	actionVolume = ".volume"
	actionMute   = ".mute"
)

// Status messages surfaced on controls.
const (
	statusNoReceiver  = "No receiver configured"
	statusConnectFail = "Unable to connect"
)

// inspectorEventDiscovered is the message pushed to an open
// configuration UI when the discovered-receiver list changes or is
// requested.
const inspectorEventDiscovered = "discoveredReceivers"

// Inspector message names accepted from the configuration UI.
const (
	msgUserChoseReceiver      = "userChoseReceiver"
	msgGetDiscoveredReceivers = "getDiscoveredReceivers"
)

// Surface is the slice of the deck session the controller writes to.
type Surface interface {
	SetSettings(controlID string, settings surface.Settings) error
	SendToPropertyInspector(controlID string, payload interface{}) error
}

// discoveredPayload carries the receiver list to the configuration UI.
type discoveredPayload struct {
	Event     string             `json:"event"`
	Receivers []discovery.Option `json:"receivers"`
}

// Controller is the lifecycle controller. It owns no store of its own
// beyond a per-control settings cache; the registry, association table
// and coordinator are injected so tests can isolate them.
type Controller struct {
	registry *registry.Registry
	assoc    *registry.AssociationTable
	disco    *discovery.Coordinator
	deck     Surface

	mu        sync.Mutex
	settings  map[string]surface.Settings
	inspector string // control whose configuration UI is open, if any
}

// New creates a controller over the injected stores. Wire the
// registry's event sink to ReceiverEvent and the coordinator's change
// notification to DiscoveredChanged.
func New(reg *registry.Registry, assoc *registry.AssociationTable, disco *discovery.Coordinator, deck Surface) *Controller {
	return &Controller{
		registry: reg,
		assoc:    assoc,
		disco:    disco,
		deck:     deck,
		settings: make(map[string]surface.Settings),
	}
}

// HandleEvent dispatches one inbound deck event.
func (c *Controller) HandleEvent(ev surface.Event) {
	switch ev.Event {
	case surface.EventWillAppear:
		p, err := ev.ParsePayload()
		if err != nil {
			log.Warn().Err(err).Str("control", ev.Context).Msg("Bad willAppear payload")
			return
		}
		c.willAppear(ev.Context, p.Settings)

	case surface.EventWillDisappear:
		c.willDisappear(ev.Context)

	case surface.EventInspectorDidAppear:
		c.inspectorDidAppear(ev.Context)

	case surface.EventInspectorDidDisappear:
		c.inspectorDidDisappear(ev.Context)

	case surface.EventDidReceiveSettings:
		p, err := ev.ParsePayload()
		if err != nil {
			log.Warn().Err(err).Str("control", ev.Context).Msg("Bad settings payload")
			return
		}
		c.mu.Lock()
		c.settings[ev.Context] = p.Settings
		c.mu.Unlock()

	case surface.EventSendToPlugin:
		c.inspectorMessage(ev)

	case surface.EventKeyDown:
		c.keyDown(ev.Context, ev.Action)

	case surface.EventDialRotate:
		p, err := ev.ParsePayload()
		if err != nil {
			log.Warn().Err(err).Str("control", ev.Context).Msg("Bad dialRotate payload")
			return
		}
		c.dialRotate(ev.Context, p.Ticks)

	default:
		log.Warn().Str("event", ev.Event).Str("control", ev.Context).Msg("Unknown deck event")
	}
}

// willAppear handles a control being rendered on the surface. A
// configured host is bound, reusing the existing association when the
// settings have not changed; an unconfigured control stays unbound.
func (c *Controller) willAppear(controlID string, s surface.Settings) {
	c.mu.Lock()
	c.settings[controlID] = s
	c.mu.Unlock()

	if s.Host == "" {
		log.Debug().Str("control", controlID).Msg("Control has no receiver configured")
		c.writeStatus(controlID, statusNoReceiver)
		return
	}

	// Fast path: the control is already associated with this host.
	if cur, ok := c.assoc.HostOf(controlID); ok && cur == s.Host {
		if conn, ok := c.registry.Peek(s.Host); ok {
			c.writeStatus(controlID, conn.Status())
			return
		}
	}

	c.bind(controlID, s.Host, s.Name)
}

// bind runs the bind procedure: get-or-create the connection, then
// atomically replace the control's association, releasing the
// reference held on any previously bound host.
func (c *Controller) bind(controlID, host, nameHint string) {
	conn, err := c.registry.Acquire(host, nameHint)
	if err != nil {
		log.Warn().Err(err).Str("control", controlID).Str("host", host).Msg("Receiver binding failed")
		if prev, existed := c.assoc.Unbind(controlID); existed {
			c.registry.Release(prev)
		}
		c.writeStatus(controlID, statusConnectFail)
		return
	}

	prev, rebound := c.assoc.Bind(controlID, host)
	if rebound {
		c.registry.Release(prev)
	}

	log.Info().Str("control", controlID).Str("host", host).Msg("Control bound to receiver")
	c.writeStatus(controlID, conn.Status())
}

// willDisappear handles a control leaving the surface. Its association
// goes away; the connection itself is released, not torn down, since
// other controls may share it.
func (c *Controller) willDisappear(controlID string) {
	if host, existed := c.assoc.Unbind(controlID); existed {
		c.registry.Release(host)
		log.Debug().Str("control", controlID).Str("host", host).Msg("Control unbound")
	}

	c.mu.Lock()
	delete(c.settings, controlID)
	if c.inspector == controlID {
		c.inspector = ""
	}
	c.mu.Unlock()
}

// inspectorDidAppear handles a control's configuration UI opening:
// discovery starts and the control's current status is pushed.
func (c *Controller) inspectorDidAppear(controlID string) {
	c.mu.Lock()
	c.inspector = controlID
	c.mu.Unlock()

	c.disco.StartSearching()

	if host, ok := c.assoc.HostOf(controlID); ok {
		if conn, ok := c.registry.Peek(host); ok {
			c.writeStatus(controlID, conn.Status())
		}
	}
}

// inspectorDidDisappear stops discovery and clears the control's
// persisted status text.
func (c *Controller) inspectorDidDisappear(controlID string) {
	c.mu.Lock()
	if c.inspector == controlID {
		c.inspector = ""
	}
	c.mu.Unlock()

	c.disco.StopSearching()
	c.writeStatus(controlID, "")
}

// inspectorMessage handles a message from the configuration UI.
func (c *Controller) inspectorMessage(ev surface.Event) {
	msg, err := ev.ParseInspectorMessage()
	if err != nil {
		log.Warn().Err(err).Str("control", ev.Context).Msg("Bad inspector message")
		return
	}

	switch msg.Event {
	case msgUserChoseReceiver:
		c.userChoseReceiver(ev.Context, msg.Settings)

	case msgGetDiscoveredReceivers:
		c.pushDiscovered(ev.Context)

	default:
		log.Warn().Str("event", msg.Event).Str("control", ev.Context).Msg("Unknown inspector event")
	}
}

// userChoseReceiver re-runs the bind procedure with the user's explicit
// choice, superseding any prior binding.
func (c *Controller) userChoseReceiver(controlID string, s surface.Settings) {
	c.mu.Lock()
	cached := c.settings[controlID]
	cached.Host = s.Host
	cached.Name = s.Name
	c.settings[controlID] = cached
	c.mu.Unlock()

	if s.Host == "" {
		if prev, existed := c.assoc.Unbind(controlID); existed {
			c.registry.Release(prev)
		}
		c.writeStatus(controlID, statusNoReceiver)
		return
	}

	c.bind(controlID, s.Host, s.Name)
}

// pushDiscovered serves the current discovered list to the control's
// configuration UI. Nothing is sent while the list is empty.
func (c *Controller) pushDiscovered(controlID string) {
	list := c.disco.DiscoveredList()
	if list == nil {
		return
	}

	payload := discoveredPayload{Event: inspectorEventDiscovered, Receivers: list}
	if err := c.deck.SendToPropertyInspector(controlID, payload); err != nil {
		log.Warn().Err(err).Str("control", controlID).Msg("Failed to push discovered list")
	}
}

// DiscoveredChanged pushes the updated discovered list to whichever
// configuration UI is currently open. Wire it as the coordinator's
// change notification.
func (c *Controller) DiscoveredChanged() {
	c.mu.Lock()
	inspector := c.inspector
	c.mu.Unlock()

	if inspector == "" {
		return
	}
	c.pushDiscovered(inspector)
}

// ReceiverEvent is the single dispatch point for receiver telemetry.
// Status-bearing events update the persisted status text of every
// control bound to the host; value-change events are display hooks and
// are not propagated further here.
func (c *Controller) ReceiverEvent(host string, ev avr.Event) {
	if !ev.StatusBearing() {
		log.Debug().
			Str("host", host).
			Str("event", ev.Kind.String()).
			Msg("Receiver state changed")
		return
	}

	for _, controlID := range c.assoc.ControlsBoundTo(host) {
		c.writeStatus(controlID, ev.Status)
	}
}

// keyDown routes a key press to the bound receiver by action kind.
func (c *Controller) keyDown(controlID, action string) {
	conn, ok := c.boundConnection(controlID)
	if !ok {
		return
	}

	var err error
	switch {
	case strings.HasSuffix(action, actionPower):
		err = conn.TogglePower()
	case strings.HasSuffix(action, actionMute):
		err = conn.ToggleMute()
	default:
		log.Debug().Str("action", action).Str("control", controlID).Msg("Key press with no receiver command")
		return
	}

	if err != nil {
		log.Warn().Err(err).Str("control", controlID).Str("action", action).Msg("Receiver command failed")
	}
}

// dialRotate routes dial movement to the bound receiver's volume.
func (c *Controller) dialRotate(controlID string, ticks int) {
	conn, ok := c.boundConnection(controlID)
	if !ok || ticks == 0 {
		return
	}

	if err := conn.StepVolume(ticks); err != nil {
		log.Warn().Err(err).Str("control", controlID).Msg("Volume step failed")
	}
}

// boundConnection resolves which connection a control should drive.
func (c *Controller) boundConnection(controlID string) (registry.Connection, bool) {
	host, ok := c.assoc.HostOf(controlID)
	if !ok {
		log.Debug().Str("control", controlID).Msg("Input on unbound control")
		return nil, false
	}
	conn, ok := c.registry.Peek(host)
	if !ok {
		log.Debug().Str("control", controlID).Str("host", host).Msg("Bound host has no live connection")
		return nil, false
	}
	return conn, true
}

// writeStatus persists a control's display status text via the deck.
func (c *Controller) writeStatus(controlID, text string) {
	c.mu.Lock()
	s := c.settings[controlID]
	s.StatusMsg = text
	c.settings[controlID] = s
	c.mu.Unlock()

	if err := c.deck.SetSettings(controlID, s); err != nil {
		log.Warn().Err(err).Str("control", controlID).Msg("Failed to persist status text")
	}
}
