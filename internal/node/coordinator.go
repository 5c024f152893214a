package node

import (
	"context"
	"fmt"

	"coordsync/internal/registry"
	"coordsync/internal/syncerr"
	"coordsync/internal/transport"
	"coordsync/internal/wire"
)

// serveParticipant runs the receive loop of one inbound connection.
func (n *Node) serveParticipant(ctx context.Context, conn transport.Conn) {
	l := newLink(ctx, conn, n.id)
	defer n.dropParticipant(l)

	n.logger.Debug("participant connected", "conn", conn.ID(), "remote", conn.RemoteAddr())
	for {
		env, err := conn.Recv()
		if err != nil {
			return
		}
		if !n.dispatchCoordinator(l, env) {
			return
		}
	}
}

// dispatchCoordinator handles one message from a participant. It returns
// false when the link must be closed.
func (n *Node) dispatchCoordinator(l *link, env wire.Envelope) bool {
	if env.Event == wire.EventValidate {
		return n.validate(l, env)
	}
	if l.peerID == "" {
		n.logger.Warn("message before validation dropped", "event", env.Event, "conn", l.conn.ID())
		return true
	}

	switch {
	case env.Event == wire.EventGetClients:
		if err := l.send(wire.EventSetClients, wire.PeerList(n.registry.Snapshot())); err != nil {
			n.logger.Debug("set_clients send failed", "peer", l.peerID, "error", err)
		}
	case wire.IsRequest(env.Event):
		n.roleWG.Add(1)
		go func() {
			defer n.roleWG.Done()
			n.relay(l, env)
		}()
	case wire.IsResponse(env.Event):
		n.acknowledge(l.peerID, env)
	case env.Event == wire.EventGetData:
		n.handleGetData(l, env)
	case env.Event == wire.EventSetData:
		n.handleSetData(l, env)
	case env.Event == wire.EventDisconnect:
		return false
	default:
		n.logger.Warn("unknown event", "event", env.Event, "peer", l.peerID)
	}
	return true
}

// validate admits a participant whose service name matches.
func (n *Node) validate(l *link, env wire.Envelope) bool {
	var req wire.Validate
	if err := env.Decode(&req); err != nil {
		n.reject(l, syncerr.NewProtocolError(syncerr.OpValidate, err))
		return false
	}
	if req.ServiceName != n.cfg.ServiceName {
		n.reject(l, syncerr.NewValidationError(syncerr.OpValidate,
			fmt.Errorf("service name mismatch: got %q, want %q", req.ServiceName, n.cfg.ServiceName)))
		return false
	}
	if req.NodeID == "" || req.NodeID == n.id {
		n.reject(l, syncerr.NewValidationError(syncerr.OpValidate, fmt.Errorf("invalid node id %q", req.NodeID)))
		return false
	}

	n.mu.Lock()
	if prev, ok := n.links[req.NodeID]; ok && prev != l {
		// A reconnecting peer replaces its stale link.
		prev.close()
	}
	n.links[req.NodeID] = l
	l.peerID = req.NodeID
	n.mu.Unlock()

	if err := l.send(wire.EventValidated, wire.Validated{NodeID: n.id}); err != nil {
		n.logger.Debug("valid_server send failed", "peer", req.NodeID, "error", err)
		return false
	}
	n.registry.Add(registry.Peer{ID: req.NodeID, Host: req.Host, Port: req.Port, Connected: true})
	n.logger.Info("peer validated", "peer", req.NodeID, "addr", l.conn.RemoteAddr())

	n.broadcastPeers()
	n.startCatchUp(l)
	return true
}

func (n *Node) reject(l *link, err *syncerr.SyncError) {
	n.logger.LogError(l.ctx, err, "peer rejected", "conn", l.conn.ID())
	if sendErr := l.send(wire.EventDisconnect, wire.Rejected{Reason: err.Err.Error()}); sendErr != nil {
		n.logger.Debug("disconnect send failed", "error", sendErr)
	}
}

// dropParticipant forgets a validated participant once its link is gone.
func (n *Node) dropParticipant(l *link) {
	l.close()
	if l.peerID == "" {
		return
	}

	n.mu.Lock()
	current := n.links[l.peerID] == l
	if current {
		delete(n.links, l.peerID)
	}
	n.mu.Unlock()
	if !current {
		return
	}

	n.registry.Remove(l.peerID)
	n.quorum.Forget(l.peerID)
	n.logger.Info("peer disconnected", "peer", l.peerID)
	n.broadcastPeers()
}

// broadcastPeers pushes the registry to every validated participant.
func (n *Node) broadcastPeers() {
	peers := wire.PeerList(n.registry.Snapshot())
	for _, l := range n.participantLinks() {
		if err := l.send(wire.EventSetClients, peers); err != nil {
			n.logger.Debug("set_clients send failed", "peer", l.peerID, "error", err)
		}
	}
}

// startCatchUp asks a new participant for its state of every collection.
func (n *Node) startCatchUp(l *link) {
	for _, c := range n.collections() {
		req, err := n.catchup.Request(l.ctx, c.Name, c.Source)
		if err != nil {
			n.logger.LogError(l.ctx, err, "catch-up request failed", "collection", c.Name)
			continue
		}
		if err := l.send(wire.EventGetData, req); err != nil {
			n.logger.Debug("get_data send failed", "peer", l.peerID, "error", err)
			return
		}
	}
}

func (n *Node) participantLinks() []*link {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]*link, 0, len(n.links))
	for _, l := range n.links {
		out = append(out, l)
	}
	return out
}
