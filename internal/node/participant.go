package node

import (
	"context"
	"fmt"

	"coordsync/internal/adapter"
	"coordsync/internal/changelog"
	"coordsync/internal/syncerr"
	"coordsync/internal/transport"
	"coordsync/internal/wire"
)

// serveUpstream runs the handshake and the receive loop on a connection
// to a coordinator. It returns true when the coordinator rejected this
// node.
func (n *Node) serveUpstream(ctx context.Context, conn transport.Conn) (rejected bool) {
	l := newLink(ctx, conn, n.id)
	defer func() {
		l.close()
		n.mu.Lock()
		if n.upstream == l {
			n.upstream = nil
		}
		n.mu.Unlock()
	}()

	hello := wire.Validate{
		ServiceName: n.cfg.ServiceName,
		NodeID:      n.id,
		Host:        n.cfg.Host,
		Port:        n.cfg.SyncPort,
	}
	if err := l.send(wire.EventValidate, hello); err != nil {
		n.logger.LogError(ctx, syncerr.NewTransportError(syncerr.OpSend, err), "handshake failed", "addr", conn.RemoteAddr())
		return false
	}

	for {
		env, err := conn.Recv()
		if err != nil {
			if ctx.Err() == nil {
				n.logger.Warn("coordinator link lost", "coordinator", l.peerID, "error", err)
			}
			return false
		}

		switch {
		case env.Event == wire.EventValidated:
			n.accepted(l, env)
		case env.Event == wire.EventDisconnect:
			var why wire.Rejected
			_ = env.Decode(&why)
			err := syncerr.NewValidationError(syncerr.OpValidate, fmt.Errorf("rejected by coordinator: %s", why.Reason))
			n.logger.LogError(ctx, err, "coordinator refused this node")
			return true
		case l.peerID == "":
			n.logger.Warn("message before validation dropped", "event", env.Event)
		case env.Event == wire.EventSetClients:
			var peers wire.PeerList
			if err := env.Decode(&peers); err != nil {
				n.logger.LogError(ctx, syncerr.NewProtocolError(syncerr.OpValidate, err), "bad peer list")
				continue
			}
			n.registry.Replace(peers)
		case wire.IsRequest(env.Event):
			n.applyRequest(l, env)
		case wire.IsResponse(env.Event):
			n.acknowledge(l.peerID, env)
		case env.Event == wire.EventGetData:
			n.handleGetData(l, env)
		case env.Event == wire.EventSetData:
			n.handleSetData(l, env)
		default:
			n.logger.Warn("unknown event", "event", env.Event)
		}
	}
}

// accepted completes the handshake once the coordinator admits this node.
func (n *Node) accepted(l *link, env wire.Envelope) {
	var ok wire.Validated
	if err := env.Decode(&ok); err != nil {
		n.logger.LogError(l.ctx, syncerr.NewProtocolError(syncerr.OpValidate, err), "bad valid_server")
		return
	}
	l.peerID = ok.NodeID

	n.mu.Lock()
	n.upstream = l
	n.coordinatorID = ok.NodeID
	n.mu.Unlock()

	if err := l.send(wire.EventGetClients, struct{}{}); err != nil {
		n.logger.Debug("get_clients send failed", "error", err)
	}
	n.setPhase(Participant)
	n.logger.Info("joined coordinator", "coordinator", ok.NodeID, "addr", l.conn.RemoteAddr())
}

// applyRequest applies a mutation relayed by the coordinator and answers
// it. A participant has no one downstream, so the round completes here.
func (n *Node) applyRequest(l *link, env wire.Envelope) {
	ctx := l.ctx
	typ := changelog.ChangeType(wire.ChangeTypeOf(env.Event))

	var req wire.Request
	if err := env.Decode(&req); err != nil {
		n.logger.LogError(ctx, syncerr.NewProtocolError(syncerr.OpPropagate, err), "bad request", "event", env.Event)
		return
	}
	ds, ok := n.Source(req.Identifier)
	if !ok {
		n.logger.Warn("request for unknown collection", "collection", req.Identifier)
		return
	}

	rec := req.Data
	id := req.ExternalID
	if id == 0 {
		id = rec.ExternalID
	}
	rec.ExternalID = id

	apply, err := decide(ctx, ds, typ, rec)
	if err != nil {
		n.logger.LogError(ctx, syncerr.NewAdapterError(syncerr.OpPropagate, req.Identifier, err), "decide failed", "id", id)
		return
	}
	if typ == changelog.Insert {
		apply, err = absent(ctx, ds, id)
		if err != nil {
			n.logger.LogError(ctx, syncerr.NewAdapterError(syncerr.OpPropagate, req.Identifier, err), "lookup failed", "id", id)
			return
		}
	}

	if apply {
		if err := applyRecord(ctx, ds, typ, rec); err != nil {
			n.logger.LogError(ctx, syncerr.NewAdapterError(syncerr.OpPropagate, req.Identifier, err), "apply failed", "id", id)
			return
		}
		if err := n.appendChange(ctx, req.Identifier, typ, id); err != nil {
			n.logger.LogError(ctx, err, "change append failed", "id", id)
			return
		}
	} else {
		n.logger.Debug("mutation vetoed", "collection", req.Identifier, "type", string(typ), "id", id)
	}

	if err := l.send(wire.ResponseEvent(string(typ)), wire.Response{Identifier: req.Identifier, ExternalID: id}); err != nil {
		n.logger.Debug("response send failed", "error", err)
	}
}

// absent reports whether no record with id is stored. A repeated insert
// request is answered without applying it twice.
func absent(ctx context.Context, ds adapter.DataSource, id int64) (bool, error) {
	existing, err := ds.Records(ctx, id, id)
	if err != nil {
		return false, err
	}
	return len(existing) == 0, nil
}
