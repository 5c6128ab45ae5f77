package agentkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one agent event delivered over the stream.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Source    string          `json:"source,omitempty"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return errors.New("event has no data")
	}
	return json.Unmarshal(e.Data, v)
}

// Stream delivers every agent event to fn until ctx is cancelled, the server
// closes the connection, or fn returns an error. Cancellation returns nil.
func (c *Client) Stream(ctx context.Context, fn func(Event) error) error {
	scheme := "ws"
	if c.baseURL.Scheme == "https" {
		scheme = "wss"
	}
	query := url.Values{}
	header := http.Header{}
	if token := c.AccessToken(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.endpoint(scheme, "/ws", query).String(), header)
	if err != nil {
		if resp != nil {
			return &APIError{StatusCode: resp.StatusCode, Message: "websocket handshake failed"}
		}
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		var evt Event
		if err := conn.ReadJSON(&evt); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}
