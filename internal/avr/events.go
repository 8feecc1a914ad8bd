// Package avr provides a persistent control session to a network AV
// receiver speaking the Denon/Marantz line protocol.
package avr

// EventKind identifies what changed on a receiver session.
type EventKind int

// eventNone marks telemetry that updates session state without
// emitting an event (source selection reports).
const eventNone EventKind = -1

const (
	// EventStatus reports a change to the session's status text.
	EventStatus EventKind = iota
	// EventConnected fires once the TCP session is established.
	EventConnected
	// EventClosed fires when the session ends, for any reason.
	EventClosed
	// EventPowerChanged fires when the receiver reports a power transition.
	EventPowerChanged
	// EventVolumeChanged fires when the receiver reports a master volume change.
	EventVolumeChanged
	// EventMuteChanged fires when the receiver reports a mute transition.
	EventMuteChanged
)

// String returns the event kind's wire-ish name, used in logs.
func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventConnected:
		return "connected"
	case EventClosed:
		return "closed"
	case EventPowerChanged:
		return "powerChanged"
	case EventVolumeChanged:
		return "volumeChanged"
	case EventMuteChanged:
		return "muteChanged"
	default:
		return "unknown"
	}
}

// Event is a single receiver notification. Kind selects which of the
// remaining fields are meaningful: Status carries the session status
// text for EventStatus, EventConnected and EventClosed; Power, Volume
// and Mute carry the new value for their respective change events.
type Event struct {
	Kind   EventKind
	Status string
	Power  bool
	Volume int
	Mute   bool
}

// StatusBearing reports whether the event carries session status text
// that should be reflected on bound controls.
func (e Event) StatusBearing() bool {
	switch e.Kind {
	case EventStatus, EventConnected, EventClosed:
		return true
	}
	return false
}
