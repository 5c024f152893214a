package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"coordsync/internal/adapter"
	"coordsync/internal/catchup"
	"coordsync/internal/changelog"
	"coordsync/internal/config"
	"coordsync/internal/discovery"
	"coordsync/internal/logging"
	"coordsync/internal/quorum"
	"coordsync/internal/registry"
	"coordsync/internal/syncerr"
	"coordsync/internal/syncloop"
	"coordsync/internal/transport"
)

var (
	// ErrStarted is returned by Define once the node is running.
	ErrStarted = errors.New("node already started")
	// ErrNotReady is returned by Propagate when the node holds no role
	// that can replicate.
	ErrNotReady = errors.New("node not ready")
)

// Options wires a node to its collaborators.
type Options struct {
	Config    config.Config
	Network   transport.Network
	Discovery discovery.Discoverer
	ChangeLog changelog.Store
	Logger    *logging.Logger
	// NodeID overrides the generated identity.
	NodeID string
}

// Node is one member of a sync cluster.
type Node struct {
	id     string
	cfg    config.Config
	net    transport.Network
	disc   discovery.Discoverer
	log    changelog.Store
	logger *logging.Logger

	quorum   *quorum.Broadcaster
	catchup  *catchup.Protocol
	registry *registry.Registry
	loop     *syncloop.Loop

	mu            sync.Mutex
	phase         Phase
	order         []string
	sources       map[string]adapter.DataSource
	roleCtx       context.Context
	links         map[string]*link // coordinator: peer id -> participant link
	upstream      *link            // participant: validated link to the coordinator
	coordinatorID string
	reserved      map[string]int64 // collection -> highest id handed out
	started       bool

	// roleWG tracks goroutines belonging to the current role.
	roleWG sync.WaitGroup

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a node. It does nothing until Start.
func New(opts Options) (*Node, error) {
	if opts.Network == nil {
		return nil, fmt.Errorf("network cannot be nil")
	}
	if opts.Discovery == nil {
		return nil, fmt.Errorf("discovery cannot be nil")
	}
	if opts.ChangeLog == nil {
		return nil, fmt.Errorf("change log cannot be nil")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, syncerr.NewValidationError(syncerr.OpDefine, err)
	}

	id := opts.NodeID
	if id == "" {
		id = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithNode(id)

	n := &Node{
		id:       id,
		cfg:      opts.Config,
		net:      opts.Network,
		disc:     opts.Discovery,
		log:      opts.ChangeLog,
		logger:   logger.WithComponent(logging.ComponentNode),
		quorum:   quorum.NewBroadcaster(opts.Config.PollInterval),
		catchup:  catchup.New(opts.ChangeLog, logger),
		registry: registry.New(),
		sources:  make(map[string]adapter.DataSource),
		links:    make(map[string]*link),
		reserved: make(map[string]int64),
	}
	n.loop = syncloop.New(opts.Config.SyncInterval, n, n.collections, logger)
	return n, nil
}

// ID returns the node's identity.
func (n *Node) ID() string {
	return n.id
}

// Phase returns the current role.
func (n *Node) Phase() Phase {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.phase
}

// CoordinatorID returns the id of the coordinator this participant is
// validated with, or the node's own id while coordinating.
func (n *Node) CoordinatorID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.phase == Coordinator {
		return n.id
	}
	return n.coordinatorID
}

// Peers returns the registry in join order.
func (n *Node) Peers() []registry.Peer {
	return n.registry.Snapshot()
}

// Addr returns the address this node listens on while coordinating.
func (n *Node) Addr() string {
	return net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.SyncPort))
}

// Define registers a collection. It must be called before Start.
func (n *Node) Define(collection string, ds adapter.DataSource) error {
	if collection == "" {
		return syncerr.NewAdapterError(syncerr.OpDefine, collection, errors.New("collection name cannot be empty"))
	}
	if err := adapter.Check(collection, ds); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.started {
		return syncerr.NewAdapterError(syncerr.OpDefine, collection, ErrStarted)
	}
	if _, dup := n.sources[collection]; dup {
		return syncerr.NewAdapterError(syncerr.OpDefine, collection, errors.New("collection already defined"))
	}
	n.sources[collection] = ds
	n.order = append(n.order, collection)
	return nil
}

// Source returns the data source of collection.
func (n *Node) Source(collection string) (adapter.DataSource, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ds, ok := n.sources[collection]
	return ds, ok
}

// Start resolves a role and keeps the node in the cluster until Stop or
// until ctx is done.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return ErrStarted
	}
	n.started = true
	n.ctx, n.cancel = context.WithCancel(ctx)
	n.mu.Unlock()

	n.loop.Start(n.ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.run(n.ctx)
	}()

	n.logger.Info("node started", "service", n.cfg.ServiceName, "addr", n.Addr())
	return nil
}

// Stop cancels every wait, closes connections and waits for goroutines.
func (n *Node) Stop() {
	n.mu.Lock()
	cancel := n.cancel
	n.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	n.loop.Stop()
	n.wg.Wait()
	n.logger.Info("node stopped")
}

// run alternates sessions until ctx is done. Each session resolves a role
// and returns when a full restart is needed.
func (n *Node) run(ctx context.Context) {
	for ctx.Err() == nil {
		roleCtx, cancel := context.WithCancel(ctx)
		n.mu.Lock()
		n.roleCtx = roleCtx
		n.mu.Unlock()

		n.session(roleCtx, cancel)

		cancel()
		n.roleWG.Wait()
		n.reset()
	}
}

func (n *Node) session(ctx context.Context, cancel context.CancelFunc) {
	n.setPhase(Electing)
	if svc, ok := n.discover(ctx); ok {
		n.runParticipant(ctx, svc)
		return
	}
	n.runCoordinator(ctx, cancel)
}

// reset clears connection state ahead of a new election.
func (n *Node) reset() {
	n.mu.Lock()
	for _, l := range n.links {
		l.close()
	}
	n.links = make(map[string]*link)
	if n.upstream != nil {
		n.upstream.close()
	}
	n.upstream = nil
	n.coordinatorID = ""
	n.reserved = make(map[string]int64)
	n.phase = Unresolved
	n.mu.Unlock()

	n.registry.Clear()
}

func (n *Node) setPhase(p Phase) {
	n.mu.Lock()
	prev := n.phase
	n.phase = p
	n.mu.Unlock()

	if prev != p {
		n.logger.Info("phase changed", "from", prev.String(), "to", p.String())
	}
}

// collections returns the defined collections in definition order.
func (n *Node) collections() []syncloop.Collection {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]syncloop.Collection, 0, len(n.order))
	for _, name := range n.order {
		out = append(out, syncloop.Collection{Name: name, Source: n.sources[name]})
	}
	return out
}

// Ready reports whether local mutations can be replicated.
func (n *Node) Ready() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.phase == Coordinator || (n.phase == Participant && n.upstream != nil)
}
