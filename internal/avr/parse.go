package avr

import (
	"strconv"
	"strings"
)

// telemetry is the decoded form of one protocol line from the receiver.
// Lines the session does not track decode to a telemetry with ok=false.
type telemetry struct {
	ok     bool
	kind   EventKind
	power  bool
	volume int
	mute   bool
	source string
}

// parseLine decodes one line of receiver telemetry. The protocol is
// line-oriented ASCII terminated by CR: "PWON", "PWSTANDBY", "MV55",
// "MV555" (55.5, reported as 55), "MUON", "MUOFF", "SITV" and so on.
// Responses like "MVMAX 80" and unrecognized prefixes are ignored.
func parseLine(line string) telemetry {
	line = strings.TrimSpace(line)

	switch {
	case line == "PWON":
		return telemetry{ok: true, kind: EventPowerChanged, power: true}
	case line == "PWSTANDBY" || line == "PWOFF":
		return telemetry{ok: true, kind: EventPowerChanged, power: false}
	case line == "MUON":
		return telemetry{ok: true, kind: EventMuteChanged, mute: true}
	case line == "MUOFF":
		return telemetry{ok: true, kind: EventMuteChanged, mute: false}
	case strings.HasPrefix(line, "MVMAX"):
		return telemetry{}
	case strings.HasPrefix(line, "MV"):
		vol, ok := parseVolume(line[2:])
		if !ok {
			return telemetry{}
		}
		return telemetry{ok: true, kind: EventVolumeChanged, volume: vol}
	case strings.HasPrefix(line, "SI"):
		src := line[2:]
		if src == "" {
			return telemetry{}
		}
		// Source changes update session state but have no dedicated
		// event kind; the session folds them into its snapshot only.
		return telemetry{ok: true, kind: eventNone, source: src}
	}

	return telemetry{}
}

// parseVolume decodes the numeric part of an MV line. Two digits are a
// whole level (0-98); a third digit is a half step and is truncated.
func parseVolume(s string) (int, bool) {
	if len(s) == 0 || len(s) > 3 {
		return 0, false
	}
	if len(s) == 3 {
		s = s[:2]
	}
	vol, err := strconv.Atoi(s)
	if err != nil || vol < 0 || vol > 98 {
		return 0, false
	}
	return vol, true
}
