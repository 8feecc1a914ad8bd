package surface

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Client is the websocket session to the deck software. Reads are
// delivered as Events on a channel; writes are serialized internally.
type Client struct {
	conn       *websocket.Conn
	pluginUUID string

	writeMu sync.Mutex
	events  chan Event
}

// outbound is the envelope for messages sent to the deck software.
type outbound struct {
	Event   string      `json:"event"`
	Action  string      `json:"action,omitempty"`
	Context string      `json:"context,omitempty"`
	UUID    string      `json:"uuid,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// Dial connects to the deck software on the given local port and
// performs the registration handshake.
func Dial(port int, pluginUUID, registerEvent string) (*Client, error) {
	u := url.URL{
		Scheme: "ws",
		Host:   fmt.Sprintf("127.0.0.1:%d", port),
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial deck software: %w", err)
	}

	c := &Client{
		conn:       conn,
		pluginUUID: pluginUUID,
		events:     make(chan Event, 32),
	}

	if err := c.write(outbound{Event: registerEvent, UUID: pluginUUID}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("register plugin: %w", err)
	}

	log.Info().Int("port", port).Str("uuid", pluginUUID).Msg("Registered with deck software")
	return c, nil
}

// Run reads inbound events until the connection or context ends, then
// closes the event channel.
func (c *Client) Run(ctx context.Context) {
	defer close(c.events)

	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()

	for {
		var ev Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Deck connection lost")
			}
			return
		}
		c.events <- ev
	}
}

// Events returns the inbound event stream.
func (c *Client) Events() <-chan Event {
	return c.events
}

// SetSettings persists a control's settings in the deck software.
func (c *Client) SetSettings(controlID string, settings Settings) error {
	return c.write(outbound{
		Event:   eventSetSettings,
		Context: controlID,
		Payload: settings,
	})
}

// SendToPropertyInspector delivers a payload to a control's open
// configuration UI.
func (c *Client) SendToPropertyInspector(controlID string, payload interface{}) error {
	return c.write(outbound{
		Event:   eventSendToPropertyInspector,
		Context: controlID,
		Payload: payload,
	})
}

// LogMessage writes a line into the deck software's log.
func (c *Client) LogMessage(message string) error {
	return c.write(outbound{
		Event:   eventLogMessage,
		Payload: map[string]string{"message": message},
	})
}

// Close ends the session.
func (c *Client) Close() error {
	return c.conn.Close()
}

// write sends one message, serializing concurrent writers.
func (c *Client) write(msg outbound) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Event, err)
	}
	return nil
}
