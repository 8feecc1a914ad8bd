// Package surface is the boundary to the control-surface software. It
// speaks the deck's local websocket protocol: registration, inbound
// control lifecycle events and outbound settings/inspector messages.
package surface

import "encoding/json"

// Inbound event names from the deck software.
const (
	EventWillAppear            = "willAppear"
	EventWillDisappear         = "willDisappear"
	EventInspectorDidAppear    = "propertyInspectorDidAppear"
	EventInspectorDidDisappear = "propertyInspectorDidDisappear"
	EventSendToPlugin          = "sendToPlugin"
	EventDidReceiveSettings    = "didReceiveSettings"
	EventKeyDown               = "keyDown"
	EventDialRotate            = "dialRotate"
)

// Outbound event names to the deck software.
const (
	eventSetSettings             = "setSettings"
	eventSendToPropertyInspector = "sendToPropertyInspector"
	eventLogMessage              = "logMessage"
)

// Settings is a control's persisted configuration, stored by the deck
// software keyed by control instance. Host is the configured receiver
// address; Name is its display name; StatusMsg is the display text the
// controller writes back.
type Settings struct {
	Host      string `json:"host"`
	Name      string `json:"name"`
	StatusMsg string `json:"statusMsg"`
}

// Event is one inbound message from the deck software. Context is the
// control instance id; Payload's shape depends on Event.
type Event struct {
	Action  string          `json:"action,omitempty"`
	Event   string          `json:"event"`
	Context string          `json:"context,omitempty"`
	Device  string          `json:"device,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventPayload is the common payload shape for lifecycle and input
// events. Ticks is only present on dial rotation.
type EventPayload struct {
	Settings Settings `json:"settings"`
	Ticks    int      `json:"ticks,omitempty"`
}

// ParsePayload decodes the event's payload. A missing payload decodes
// to the zero value.
func (e Event) ParsePayload() (EventPayload, error) {
	var p EventPayload
	if len(e.Payload) == 0 {
		return p, nil
	}
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// InspectorMessage is the payload of a sendToPlugin event: a message
// from a control's configuration UI.
type InspectorMessage struct {
	Event    string   `json:"event"`
	Settings Settings `json:"settings"`
}

// ParseInspectorMessage decodes a sendToPlugin payload.
func (e Event) ParseInspectorMessage() (InspectorMessage, error) {
	var m InspectorMessage
	if len(e.Payload) == 0 {
		return m, nil
	}
	err := json.Unmarshal(e.Payload, &m)
	return m, err
}
