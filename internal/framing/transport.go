// Package framing implements pkg/broker.Transport over a websocket
// connection: it is the only place in the broker that speaks the wire
// protocol, so the rest of the call path deals exclusively in
// broker.Envelope values.
package framing

import (
	"context"
	"fmt"

	"github.com/MrWong99/callbroker/pkg/broker"
	"github.com/coder/websocket"
)

// WSTransport adapts a *websocket.Conn to broker.Transport, carrying
// envelopes as JSON text frames.
type WSTransport struct {
	conn *websocket.Conn
}

// NewWSTransport wraps an already-accepted or already-dialed connection.
func NewWSTransport(conn *websocket.Conn) *WSTransport {
	return &WSTransport{conn: conn}
}

var _ broker.Transport = (*WSTransport)(nil)

// Send marshals env and writes it as a single text frame.
func (t *WSTransport) Send(ctx context.Context, env broker.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("framing: send: %w", err)
	}
	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("framing: send: %w", err)
	}
	return nil
}

// Recv blocks for the next text frame and decodes it as an envelope.
func (t *WSTransport) Recv(ctx context.Context) (broker.Envelope, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		return broker.Envelope{}, fmt.Errorf("framing: recv: %w", err)
	}
	env, err := broker.DecodeEnvelope(data)
	if err != nil {
		return broker.Envelope{}, fmt.Errorf("framing: recv: %w", err)
	}
	return env, nil
}

// Close closes the underlying connection with a normal closure code. Safe
// to call more than once; the second call observes websocket's own
// already-closed error and swallows it.
func (t *WSTransport) Close() error {
	err := t.conn.Close(websocket.StatusNormalClosure, "leg closed")
	if err != nil && websocket.CloseStatus(err) != -1 {
		return nil
	}
	return err
}

// CloseWithError closes the underlying connection with an internal-error
// status, used when the leg is torn down due to a protocol violation rather
// than a clean detach.
func (t *WSTransport) CloseWithError(reason string) error {
	return t.conn.Close(websocket.StatusInternalError, reason)
}
