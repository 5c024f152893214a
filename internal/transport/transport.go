package transport

import (
	"context"
	"errors"

	"coordsync/internal/wire"
)

// ErrClosed is returned by operations on a closed listener or connection.
var ErrClosed = errors.New("transport closed")

// Network creates listeners and outbound connections.
type Network interface {
	Listen(addr string) (Listener, error)
	Dial(ctx context.Context, addr string) (Conn, error)
}

// Listener accepts inbound connections.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() string
	Close() error
}

// Conn is one bidirectional link to a peer. Send is safe for concurrent
// use; Recv must be called from a single goroutine.
type Conn interface {
	ID() string
	RemoteAddr() string
	Send(ctx context.Context, env wire.Envelope) error
	// Recv blocks for the next envelope. It returns io.EOF once the link
	// is gone.
	Recv() (wire.Envelope, error)
	Close() error
}
