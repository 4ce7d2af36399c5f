// Package relay fans realtime room traffic out to the connected players.
package relay

import (
	"context"
	"errors"

	"github.com/park285/cheese-relay/pkg/relaydto"
)

var (
	// ErrChannelClosed is returned by a Channel whose peer went away.
	ErrChannelClosed = errors.New("channel closed")
	// ErrMalformed marks a frame that could not be decoded into a known message.
	ErrMalformed = errors.New("malformed message")
)

// Channel is one live bidirectional connection to a player.
// Send may be called concurrently with Receive; Receive is called from a
// single goroutine.
type Channel interface {
	Send(ctx context.Context, env relaydto.Envelope) error
	// Receive blocks for the next frame. A closed peer yields ErrChannelClosed;
	// an undecodable frame yields an error wrapping ErrMalformed.
	Receive(ctx context.Context) (relaydto.Envelope, error)
	Close(reason string) error
}
