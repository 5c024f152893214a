package it

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"coordsync/internal/adapter"
	"coordsync/internal/changelog"
	"coordsync/internal/config"
	"coordsync/internal/discovery"
	"coordsync/internal/logging"
	"coordsync/internal/node"
	"coordsync/internal/transport"
)

// Collection is the collection every harness node defines.
const Collection = "messages"

// Cluster represents an in-process test cluster sharing one network and
// one discovery hub.
type Cluster struct {
	nodes    []*Node
	net      transport.Network
	hub      *discovery.Hub
	logDir   string
	durable  bool
	nextPort int
	mu       sync.Mutex
}

// Node represents a single node in the test cluster.
type Node struct {
	ID     string
	Port   int
	Node   *node.Node
	Source *adapter.Memory
	Log    changelog.Store

	logFile *os.File
	dataDir string
	stopped bool
}

// Option customizes a cluster.
type Option func(*Cluster)

// WithGRPC runs the cluster over loopback gRPC instead of the in-process
// network.
func WithGRPC() Option {
	return func(c *Cluster) { c.net = transport.NewGRPC() }
}

// WithSQLite gives every node a SQLite change log in its own temporary
// directory.
func WithSQLite() Option {
	return func(c *Cluster) { c.durable = true }
}

// NewCluster creates a new test cluster harness.
func NewCluster(opts ...Option) (*Cluster, error) {
	logDir := filepath.Join(".local", "it-logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	c := &Cluster{
		net:      transport.NewMemory(),
		hub:      discovery.NewHub(),
		logDir:   logDir,
		nextPort: 7300,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the fast-timing configuration used for harness nodes.
func Config(port int) config.Config {
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.SyncPort = port
	cfg.DiscoveryTimeout = 200 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	cfg.SyncInterval = 10 * time.Millisecond
	cfg.FailoverRetries = 20
	cfg.FailoverDelay = 50 * time.Millisecond
	cfg.RestartDelay = 50 * time.Millisecond
	cfg.ConnectTimeout = 500 * time.Millisecond
	cfg.LogLevel = "debug"
	return cfg
}

// StartNode starts a node with a fresh in-memory source.
func (c *Cluster) StartNode(ctx context.Context, nodeID string) (*Node, error) {
	return c.StartNodeWith(ctx, nodeID, adapter.NewMemory())
}

// StartNodeWith starts a node over src, which may already hold records.
func (c *Cluster) StartNodeWith(ctx context.Context, nodeID string, src *adapter.Memory) (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	port, err := c.allocPort()
	if err != nil {
		return nil, err
	}
	cfg := Config(port)

	logPath := filepath.Join(c.logDir, fmt.Sprintf("%s.log", nodeID))
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	logger := logging.New(logging.Config{Enabled: true, Level: cfg.LogLevel, Format: "text", Output: logFile})

	var store changelog.Store = changelog.NewMemoryStore()
	var dataDir string
	if c.durable {
		dataDir, err = os.MkdirTemp("", "coordsync-it-")
		if err != nil {
			logFile.Close()
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		store, err = changelog.Open("sqlite", filepath.Join(dataDir, nodeID+".db"))
		if err != nil {
			logFile.Close()
			return nil, err
		}
	}

	n, err := node.New(node.Options{
		Config:    cfg,
		Network:   c.net,
		Discovery: c.hub,
		ChangeLog: store,
		Logger:    logger,
		NodeID:    nodeID,
	})
	if err == nil {
		err = n.Define(Collection, src)
	}
	if err == nil {
		err = n.Start(ctx)
	}
	if err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("failed to start node %s: %w", nodeID, err)
	}

	tn := &Node{ID: nodeID, Port: port, Node: n, Source: src, Log: store, logFile: logFile, dataDir: dataDir}
	c.nodes = append(c.nodes, tn)
	return tn, nil
}

// allocPort picks the next sync port. Over gRPC it asks the kernel for a
// free one.
func (c *Cluster) allocPort() (int, error) {
	if _, ok := c.net.(*transport.GRPC); !ok {
		c.nextPort++
		return c.nextPort, nil
	}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to find free port: %w", err)
	}
	defer lis.Close()
	return lis.Addr().(*net.TCPAddr).Port, nil
}

// GetNode returns the node with id, or nil.
func (c *Cluster) GetNode(id string) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// Running returns the nodes that have not been stopped.
func (c *Cluster) Running() []*Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		if !n.stopped {
			out = append(out, n)
		}
	}
	return out
}

// Coordinator returns the running node currently coordinating, if exactly
// one is.
func (c *Cluster) Coordinator() *Node {
	var found *Node
	for _, n := range c.Running() {
		if n.Node.Phase() == node.Coordinator {
			if found != nil {
				return nil
			}
			found = n
		}
	}
	return found
}

// Settled reports whether one node coordinates and every other running
// node is a participant of it.
func (c *Cluster) Settled() bool {
	coord := c.Coordinator()
	if coord == nil {
		return false
	}
	for _, n := range c.Running() {
		if n == coord {
			continue
		}
		if n.Node.Phase() != node.Participant || n.Node.CoordinatorID() != coord.ID {
			return false
		}
	}
	return true
}

// Converged reports whether every running node holds the same records
// and has nothing left to push.
func (c *Cluster) Converged() bool {
	nodes := c.Running()
	if len(nodes) == 0 {
		return true
	}
	want := fingerprint(nodes[0].Source.Snapshot())
	for _, n := range nodes {
		if n.Source.PendingCount() > 0 || fingerprint(n.Source.Snapshot()) != want {
			return false
		}
	}
	return true
}

// WaitFor polls cond until it holds or timeout passes.
func WaitFor(ctx context.Context, timeout time.Duration, cond func() bool) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if cond() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop stops all nodes in the cluster.
func (c *Cluster) Stop() {
	for _, n := range c.Running() {
		n.Stop()
	}
}

// Stop stops a single node.
func (n *Node) Stop() {
	if n.stopped {
		return
	}
	n.stopped = true
	n.Node.Stop()
	n.Log.Close()
	if n.logFile != nil {
		n.logFile.Close()
	}
	if n.dataDir != "" {
		os.RemoveAll(n.dataDir)
	}
}

func fingerprint(records []adapter.Record) string {
	out := ""
	for _, r := range records {
		out += fmt.Sprintf("%d=%s;", r.ExternalID, r.Data)
	}
	return out
}
