package node

import (
	"context"
	"time"

	"coordsync/internal/transport"
	"coordsync/internal/wire"
)

const sendTimeout = 5 * time.Second

// link is one live connection. Its context ends when the connection does.
type link struct {
	conn   transport.Conn
	from   string
	ctx    context.Context
	cancel context.CancelFunc

	// peerID is set once the remote side has been validated.
	peerID string
}

func newLink(parent context.Context, conn transport.Conn, from string) *link {
	ctx, cancel := context.WithCancel(parent)
	l := &link{conn: conn, from: from, ctx: ctx, cancel: cancel}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	return l
}

func (l *link) send(event string, payload any) error {
	env, err := wire.NewEnvelope(event, l.from, payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(l.ctx, sendTimeout)
	defer cancel()
	return l.conn.Send(ctx, env)
}

func (l *link) close() {
	l.cancel()
}
