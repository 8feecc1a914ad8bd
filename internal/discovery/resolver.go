package discovery

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Resolver turns a discovered address into a display name. location is
// the device description URL from the SSDP announcement and may be
// empty. Failures are non-fatal; callers fall back to the raw address.
type Resolver func(addr, location string) (string, error)

// maxDescriptionBytes bounds how much of a device description is read.
const maxDescriptionBytes = 64 << 10

// deviceDescription is the slice of a UPnP device description we need.
type deviceDescription struct {
	Device struct {
		FriendlyName string `xml:"friendlyName"`
	} `xml:"device"`
}

// ResolveDisplayName fetches the device description XML advertised at
// location and returns its friendly name.
func ResolveDisplayName(addr, location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("no description URL for %s", addr)
	}

	resp, err := http.Get(location)
	if err != nil {
		return "", fmt.Errorf("fetch device description: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch device description: status %s", resp.Status)
	}

	var desc deviceDescription
	if err := xml.NewDecoder(io.LimitReader(resp.Body, maxDescriptionBytes)).Decode(&desc); err != nil {
		return "", fmt.Errorf("decode device description: %w", err)
	}
	if desc.Device.FriendlyName == "" {
		return "", fmt.Errorf("device description for %s has no friendly name", addr)
	}

	log.Debug().Str("addr", addr).Str("name", desc.Device.FriendlyName).Msg("Resolved receiver name")
	return desc.Device.FriendlyName, nil
}
