package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"coordsync/internal/wire"
)

const memoryBuffer = 256

// Memory is an in-process Network. Addresses are arbitrary host:port
// strings; port 0 picks a free one.
type Memory struct {
	mu        sync.Mutex
	listeners map[string]*memListener
	nextPort  int
}

var _ Network = (*Memory)(nil)

// NewMemory creates an empty in-process network.
func NewMemory() *Memory {
	return &Memory{
		listeners: make(map[string]*memListener),
		nextPort:  40000,
	}
}

func (m *Memory) Listen(addr string) (Listener, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if port == "0" {
		for {
			m.nextPort++
			addr = net.JoinHostPort(host, strconv.Itoa(m.nextPort))
			if _, used := m.listeners[addr]; !used {
				break
			}
		}
	}
	if _, used := m.listeners[addr]; used {
		return nil, fmt.Errorf("failed to listen on %s: address in use", addr)
	}

	l := &memListener{
		net:    m,
		addr:   addr,
		accept: make(chan *memConn),
		closed: make(chan struct{}),
		conns:  make(map[*memConn]bool),
	}
	m.listeners[addr] = l
	return l, nil
}

func (m *Memory) Dial(ctx context.Context, addr string) (Conn, error) {
	m.mu.Lock()
	l, ok := m.listeners[addr]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("failed to connect to %s: connection refused", addr)
	}

	client, server := newMemPair(addr)
	select {
	case l.accept <- server:
		l.track(server)
		return client, nil
	case <-l.closed:
		return nil, fmt.Errorf("failed to connect to %s: connection refused", addr)
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, ctx.Err())
	}
}

func (m *Memory) remove(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, addr)
}

type memListener struct {
	net    *Memory
	addr   string
	accept chan *memConn

	mu     sync.Mutex
	conns  map[*memConn]bool
	once   sync.Once
	closed chan struct{}
}

func (l *memListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *memListener) Addr() string {
	return l.addr
}

// Close stops accepting and drops every accepted connection.
func (l *memListener) Close() error {
	l.once.Do(func() {
		close(l.closed)
		l.net.remove(l.addr)

		l.mu.Lock()
		conns := l.conns
		l.conns = nil
		l.mu.Unlock()
		for c := range conns {
			c.Close()
		}
	})
	return nil
}

func (l *memListener) track(c *memConn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conns == nil {
		c.Close()
		return
	}
	l.conns[c] = true
}

// memPipe is shared by both ends; closing either end closes it.
type memPipe struct {
	once sync.Once
	done chan struct{}
}

func (p *memPipe) close() {
	p.once.Do(func() { close(p.done) })
}

type memConn struct {
	id     string
	remote string
	in     chan wire.Envelope
	peer   *memConn
	pipe   *memPipe
}

func newMemPair(addr string) (*memConn, *memConn) {
	pipe := &memPipe{done: make(chan struct{})}
	client := &memConn{id: uuid.NewString(), remote: addr, in: make(chan wire.Envelope, memoryBuffer), pipe: pipe}
	server := &memConn{id: uuid.NewString(), remote: "mem-" + client.id[:8], in: make(chan wire.Envelope, memoryBuffer), pipe: pipe}
	client.peer = server
	server.peer = client
	return client, server
}

func (c *memConn) ID() string         { return c.id }
func (c *memConn) RemoteAddr() string { return c.remote }

func (c *memConn) Send(ctx context.Context, env wire.Envelope) error {
	select {
	case <-c.pipe.done:
		return ErrClosed
	default:
	}
	env.Payload = append([]byte(nil), env.Payload...)

	select {
	case c.peer.in <- env:
		return nil
	case <-c.pipe.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv drains envelopes already delivered before reporting io.EOF.
func (c *memConn) Recv() (wire.Envelope, error) {
	select {
	case env := <-c.in:
		return env, nil
	case <-c.pipe.done:
		select {
		case env := <-c.in:
			return env, nil
		default:
			return wire.Envelope{}, io.EOF
		}
	}
}

func (c *memConn) Close() error {
	c.pipe.close()
	return nil
}
