package surface

import (
	"encoding/json"
	"testing"
)

func TestParsePayload(t *testing.T) {
	raw := []byte(`{"settings":{"host":"192.168.1.50","name":"Den","statusMsg":"Connected"},"ticks":-2}`)
	ev := Event{Event: EventDialRotate, Context: "ctx-1", Payload: raw}

	p, err := ev.ParsePayload()
	if err != nil {
		t.Fatalf("ParsePayload failed: %v", err)
	}
	if p.Settings.Host != "192.168.1.50" || p.Settings.Name != "Den" {
		t.Errorf("settings = %+v", p.Settings)
	}
	if p.Ticks != -2 {
		t.Errorf("ticks = %d, want -2", p.Ticks)
	}
}

func TestParsePayloadMissingIsZero(t *testing.T) {
	ev := Event{Event: EventWillDisappear, Context: "ctx-1"}

	p, err := ev.ParsePayload()
	if err != nil {
		t.Fatalf("ParsePayload failed: %v", err)
	}
	if p.Settings.Host != "" || p.Ticks != 0 {
		t.Errorf("expected zero payload, got %+v", p)
	}
}

func TestParseInspectorMessage(t *testing.T) {
	raw := []byte(`{"event":"userChoseReceiver","settings":{"host":"192.168.1.60","name":"Bedroom"}}`)
	ev := Event{Event: EventSendToPlugin, Context: "ctx-1", Payload: raw}

	m, err := ev.ParseInspectorMessage()
	if err != nil {
		t.Fatalf("ParseInspectorMessage failed: %v", err)
	}
	if m.Event != "userChoseReceiver" {
		t.Errorf("event = %q", m.Event)
	}
	if m.Settings.Host != "192.168.1.60" {
		t.Errorf("host = %q", m.Settings.Host)
	}
}

func TestEventDecodesFromDeckJSON(t *testing.T) {
	raw := []byte(`{
		"action": "com.mthiel.denon.power",
		"event": "willAppear",
		"context": "ABC123",
		"device": "DEV1",
		"payload": {"settings": {"host": "192.168.1.50"}}
	}`)

	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if ev.Event != EventWillAppear || ev.Context != "ABC123" {
		t.Errorf("event = %+v", ev)
	}

	p, err := ev.ParsePayload()
	if err != nil {
		t.Fatal(err)
	}
	if p.Settings.Host != "192.168.1.50" {
		t.Errorf("host = %q", p.Settings.Host)
	}
}

func TestSettingsRoundTripKeepsStatus(t *testing.T) {
	s := Settings{Host: "192.168.1.50", Name: "Den", StatusMsg: "Connected"}

	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	var got Settings
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got != s {
		t.Errorf("round trip = %+v, want %+v", got, s)
	}
}
