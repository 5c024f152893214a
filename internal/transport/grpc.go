package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"coordsync/internal/wire"
)

const channelMethod = "/coordsync.v1.Sync/Channel"

// channelServer is implemented by the listener registered on the server.
type channelServer interface {
	Channel(stream grpc.ServerStream) error
}

var syncServiceDesc = grpc.ServiceDesc{
	ServiceName: "coordsync.v1.Sync",
	HandlerType: (*channelServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Channel",
			Handler:       channelHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "coordsync/v1/sync.proto",
}

func channelHandler(srv any, stream grpc.ServerStream) error {
	return srv.(channelServer).Channel(stream)
}

// GRPC is a Network over gRPC bidirectional streams using the envelope
// codec.
type GRPC struct {
	ServerOptions []grpc.ServerOption
	DialOptions   []grpc.DialOption
}

var _ Network = (*GRPC)(nil)

// NewGRPC creates a gRPC network with insecure transport credentials.
func NewGRPC() *GRPC {
	return &GRPC{}
}

// Listen starts a gRPC server on addr.
func (g *GRPC) Listen(addr string) (Listener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	l := &grpcListener{
		lis:    lis,
		server: grpc.NewServer(g.ServerOptions...),
		accept: make(chan *grpcConn),
		closed: make(chan struct{}),
	}
	l.server.RegisterService(&syncServiceDesc, l)

	go func() {
		// Serve returns once Stop is called.
		_ = l.server.Serve(lis)
	}()
	return l, nil
}

// Dial opens a stream to addr. ctx bounds connection establishment only.
func (g *GRPC) Dial(ctx context.Context, addr string) (Conn, error) {
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(wire.CodecName)),
	}, g.DialOptions...)

	cc, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", addr, err)
	}
	if err := waitReady(ctx, cc); err != nil {
		cc.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	stream, err := cc.NewStream(streamCtx, &syncServiceDesc.Streams[0], channelMethod)
	if err != nil {
		cancel()
		cc.Close()
		return nil, fmt.Errorf("failed to open stream to %s: %w", addr, err)
	}

	c := newGRPCConn(stream, addr)
	c.onClose = func() {
		stream.CloseSend()
		cancel()
		cc.Close()
	}
	return c, nil
}

// waitReady connects cc and waits until it is ready. A transient failure
// is reported immediately rather than retried.
func waitReady(ctx context.Context, cc *grpc.ClientConn) error {
	cc.Connect()
	for {
		state := cc.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.TransientFailure, connectivity.Shutdown:
			return fmt.Errorf("connection state %s", state)
		}
		if !cc.WaitForStateChange(ctx, state) {
			return ctx.Err()
		}
	}
}

type grpcListener struct {
	lis    net.Listener
	server *grpc.Server
	accept chan *grpcConn

	closeOnce sync.Once
	closed    chan struct{}
}

func (l *grpcListener) Channel(stream grpc.ServerStream) error {
	remote := ""
	if p, ok := peer.FromContext(stream.Context()); ok && p.Addr != nil {
		remote = p.Addr.String()
	}
	c := newGRPCConn(stream, remote)

	select {
	case l.accept <- c:
	case <-l.closed:
		return status.Error(codes.Unavailable, "listener closed")
	case <-stream.Context().Done():
		return nil
	}

	select {
	case <-c.done:
	case <-l.closed:
	case <-stream.Context().Done():
	}
	return nil
}

func (l *grpcListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *grpcListener) Addr() string {
	return l.lis.Addr().String()
}

func (l *grpcListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.server.Stop()
	})
	return nil
}

// grpcConn adapts a client or server stream. grpc.ClientStream and
// grpc.ServerStream share SendMsg/RecvMsg.
type grpcConn struct {
	id     string
	remote string
	stream interface {
		SendMsg(m any) error
		RecvMsg(m any) error
	}

	sendMu    sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
	onClose   func()
}

func newGRPCConn(stream interface {
	SendMsg(m any) error
	RecvMsg(m any) error
}, remote string) *grpcConn {
	return &grpcConn{
		id:     uuid.NewString(),
		remote: remote,
		stream: stream,
		done:   make(chan struct{}),
	}
}

func (c *grpcConn) ID() string         { return c.id }
func (c *grpcConn) RemoteAddr() string { return c.remote }

// Send writes env to the stream. A stream still blocked when ctx ends is
// closed, which releases the write.
func (c *grpcConn) Send(ctx context.Context, env wire.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.stream.SendMsg(&env); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("send %s: %w", env.Event, ctxErr)
		}
		return fmt.Errorf("send %s: %w", env.Event, normalize(err))
	}
	return nil
}

func (c *grpcConn) Recv() (wire.Envelope, error) {
	var env wire.Envelope
	if err := c.stream.RecvMsg(&env); err != nil {
		return wire.Envelope{}, normalize(err)
	}
	return env, nil
}

func (c *grpcConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.onClose != nil {
			c.onClose()
		}
	})
	return nil
}

// normalize maps the ways a stream ends to io.EOF.
func normalize(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	switch status.Code(err) {
	case codes.Canceled, codes.Unavailable:
		return io.EOF
	}
	return err
}
