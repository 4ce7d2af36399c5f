// Package wsconn adapts nhooyr.io/websocket connections to relay.Channel.
package wsconn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"unicode/utf8"

	"github.com/park285/cheese-relay/internal/relay"
	"github.com/park285/cheese-relay/pkg/relaydto"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Close codes used by the relay in addition to the standard ones.
const (
	StatusBadRequest websocket.StatusCode = 4000
	StatusForbidden  websocket.StatusCode = 4003
	StatusNotFound   websocket.StatusCode = 4004
)

// Conn wraps a websocket.Conn as a relay.Channel carrying JSON envelopes.
type Conn struct {
	conn       *websocket.Conn
	remoteAddr string

	closeOnce sync.Once
	closeErr  error
}

func New(conn *websocket.Conn, remoteAddr string) *Conn {
	return &Conn{conn: conn, remoteAddr: remoteAddr}
}

var _ relay.Channel = (*Conn)(nil)

func (c *Conn) Send(ctx context.Context, env relaydto.Envelope) error {
	if err := wsjson.Write(ctx, c.conn, env); err != nil {
		if isClosed(err) {
			return fmt.Errorf("%w: %v", relay.ErrChannelClosed, err)
		}
		return err
	}
	return nil
}

// Receive reads one text frame and decodes it as an envelope. Frames that
// fail to decode are reported as relay.ErrMalformed and the connection stays open.
func (c *Conn) Receive(ctx context.Context) (relaydto.Envelope, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		if isClosed(err) {
			return relaydto.Envelope{}, fmt.Errorf("%w: %v", relay.ErrChannelClosed, err)
		}
		return relaydto.Envelope{}, err
	}
	var env relaydto.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return relaydto.Envelope{}, fmt.Errorf("%w: %v", relay.ErrMalformed, err)
	}
	if env.Type == "" {
		return relaydto.Envelope{}, fmt.Errorf("%w: missing type", relay.ErrMalformed)
	}
	return env, nil
}

// Close sends a normal closure. Later calls are no-ops.
func (c *Conn) Close(reason string) error {
	return c.CloseWith(websocket.StatusNormalClosure, reason)
}

// CloseWith closes with an explicit status code.
func (c *Conn) CloseWith(code websocket.StatusCode, reason string) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close(code, truncateReason(reason))
	})
	return c.closeErr
}

func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// SetReadLimit bounds the size of a single inbound frame.
func (c *Conn) SetReadLimit(n int64) {
	if n > 0 {
		c.conn.SetReadLimit(n)
	}
}

func isClosed(err error) bool {
	if websocket.CloseStatus(err) != -1 {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled)
}

// close reasons are limited to 123 bytes by the protocol. The cut backs off
// to a rune boundary so the reason stays valid UTF-8.
func truncateReason(s string) string {
	const max = 123
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
