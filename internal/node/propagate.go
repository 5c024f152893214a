package node

import (
	"context"
	"errors"
	"fmt"

	"coordsync/internal/adapter"
	"coordsync/internal/changelog"
	"coordsync/internal/quorum"
	"coordsync/internal/syncerr"
	"coordsync/internal/wire"
)

// Propagate replicates one local mutation and returns its final external
// id. The mutation is already applied to the local source; only the
// change record is appended here. Inserts take a fresh id, updates and
// deletes carry the record's own.
func (n *Node) Propagate(ctx context.Context, collection string, typ changelog.ChangeType, rec adapter.Record) (int64, error) {
	ds, ok := n.Source(collection)
	if !ok {
		return 0, syncerr.NewAdapterError(syncerr.OpPropagate, collection, errors.New("collection not defined"))
	}

	n.mu.Lock()
	phase := n.phase
	up := n.upstream
	coordinatorID := n.coordinatorID
	roleCtx := n.roleCtx
	n.mu.Unlock()

	switch {
	case phase == Coordinator:
		return n.originate(ctx, roleCtx, collection, typ, rec, ds)
	case phase == Participant && up != nil:
		return n.propose(ctx, up, coordinatorID, collection, typ, rec, ds)
	default:
		return 0, syncerr.NewProtocolError(syncerr.OpPropagate, fmt.Errorf("%w: phase %s", ErrNotReady, phase))
	}
}

// originate broadcasts a coordinator-side mutation to every participant.
func (n *Node) originate(ctx, roleCtx context.Context, collection string, typ changelog.ChangeType,
	rec adapter.Record, ds adapter.DataSource) (int64, error) {
	id := rec.ExternalID
	if typ == changelog.Insert {
		var err error
		if id, err = n.reserveID(ctx, collection, ds, 0); err != nil {
			return 0, err
		}
		rec.ExternalID = id
	}

	key := quorum.Key{Collection: collection, ExternalID: id}
	p := n.quorum.Open(key, quorum.Responders(true, n.registry.IDs(), "", ""))
	defer n.quorum.Close(p)

	n.fanOut(collection, typ, rec, "")

	wctx, cancel := mergeDone(ctx, roleCtx)
	defer cancel()
	res, err := n.quorum.Await(wctx, p)
	if err != nil {
		n.logger.Warn("broadcast incomplete", "key", key.String(), "waiting", n.quorum.Waiting(p))
		return 0, syncerr.NewProtocolError(syncerr.OpPropagate, err)
	}

	if err := n.appendChange(ctx, collection, typ, res.FinalID); err != nil {
		return 0, err
	}
	n.logger.Debug("mutation propagated", "collection", collection, "type", string(typ), "id", res.FinalID, "acks", res.Acks)
	return res.FinalID, nil
}

// propose sends a participant-side mutation to the coordinator and adopts
// the id it settles on.
func (n *Node) propose(ctx context.Context, up *link, coordinatorID, collection string, typ changelog.ChangeType,
	rec adapter.Record, ds adapter.DataSource) (int64, error) {
	id := rec.ExternalID
	if typ == changelog.Insert {
		var err error
		if id, err = n.reserveID(ctx, collection, ds, 0); err != nil {
			return 0, err
		}
		rec.ExternalID = id
	}

	key := quorum.Key{Collection: collection, ExternalID: id}
	p := n.quorum.Open(key, quorum.Responders(false, nil, coordinatorID, ""))
	defer n.quorum.Close(p)

	req := wire.Request{Identifier: collection, Data: rec, ExternalID: id}
	if err := up.send(wire.RequestEvent(string(typ)), req); err != nil {
		return 0, syncerr.NewTransportError(syncerr.OpSend, err)
	}

	// The wait is tied to the upstream link so a lost coordinator fails
	// the round instead of stalling it.
	wctx, cancel := mergeDone(ctx, up.ctx)
	defer cancel()
	res, err := n.quorum.Await(wctx, p)
	if err != nil {
		return 0, syncerr.NewProtocolError(syncerr.OpPropagate, err)
	}
	if res.Vetoed {
		// Nothing was applied cluster-wide, so there is no change to log.
		n.logger.Info("coordinator vetoed mutation", "collection", collection, "type", string(typ), "id", res.FinalID)
		return res.FinalID, nil
	}

	if res.FinalID != id {
		n.logger.Info("coordinator re-issued id", "collection", collection, "proposed", id, "final", res.FinalID)
	}
	if err := n.appendChange(ctx, collection, typ, res.FinalID); err != nil {
		return 0, err
	}
	return res.FinalID, nil
}

// relay runs the coordinator side of a participant's mutation: arbitrate
// the id, broadcast to the other participants, apply, and answer the
// origin.
func (n *Node) relay(l *link, env wire.Envelope) {
	ctx := l.ctx
	typ := changelog.ChangeType(wire.ChangeTypeOf(env.Event))

	var req wire.Request
	if err := env.Decode(&req); err != nil {
		n.logger.LogError(ctx, syncerr.NewProtocolError(syncerr.OpPropagate, err), "bad request", "event", env.Event, "peer", l.peerID)
		return
	}
	ds, ok := n.Source(req.Identifier)
	if !ok {
		n.logger.Warn("request for unknown collection", "collection", req.Identifier, "peer", l.peerID)
		return
	}

	rec := req.Data
	proposed := req.ExternalID
	if proposed == 0 {
		proposed = rec.ExternalID
	}
	id := proposed
	if typ == changelog.Insert {
		var err error
		if id, err = n.reserveID(ctx, req.Identifier, ds, proposed); err != nil {
			n.logger.LogError(ctx, err, "id reservation failed", "collection", req.Identifier)
			return
		}
	}
	rec.ExternalID = id

	vetoed := false
	if typ != changelog.Insert {
		apply, err := decide(ctx, ds, typ, rec)
		if err != nil {
			n.logger.LogError(ctx, syncerr.NewAdapterError(syncerr.OpPropagate, req.Identifier, err), "decide failed", "id", id)
			return
		}
		vetoed = !apply
	}

	key := quorum.Key{Collection: req.Identifier, ExternalID: id}
	if vetoed {
		n.logger.Debug("mutation vetoed", "key", key.String(), "type", string(typ))
	} else {
		p := n.quorum.Open(key, quorum.Responders(true, n.registry.IDs(), "", l.peerID))
		n.fanOut(req.Identifier, typ, rec, l.peerID)
		_, err := n.quorum.Await(ctx, p)
		waiting := n.quorum.Waiting(p)
		n.quorum.Close(p)
		switch {
		case errors.Is(err, quorum.ErrSuperseded):
			// A newer round for the same record owns the outcome.
			n.logger.Debug("relay superseded", "key", key.String())
			vetoed = true
		case err != nil:
			n.logger.LogError(ctx, syncerr.NewProtocolError(syncerr.OpPropagate, err), "relay aborted",
				"key", key.String(), "waiting", waiting)
			return
		}
	}

	if !vetoed {
		if err := applyRecord(ctx, ds, typ, rec); err != nil {
			n.logger.LogError(ctx, syncerr.NewAdapterError(syncerr.OpPropagate, req.Identifier, err), "apply failed", "id", id)
			return
		}
		if err := n.appendChange(ctx, req.Identifier, typ, id); err != nil {
			n.logger.LogError(ctx, err, "change append failed", "id", id)
			return
		}
	}

	resp := wire.Response{Identifier: req.Identifier, ExternalID: id, Vetoed: vetoed}
	if proposed != id {
		resp.ProposedID = proposed
	}
	if err := l.send(wire.ResponseEvent(string(typ)), resp); err != nil {
		n.logger.Debug("response send failed", "peer", l.peerID, "error", err)
	}
}

// fanOut sends a mutation request to every participant except origin.
func (n *Node) fanOut(collection string, typ changelog.ChangeType, rec adapter.Record, origin string) {
	req := wire.Request{Identifier: collection, Data: rec, ExternalID: rec.ExternalID}
	event := wire.RequestEvent(string(typ))
	for _, l := range n.participantLinks() {
		if l.peerID == origin {
			continue
		}
		if err := l.send(event, req); err != nil {
			// The disconnect handler forgets the peer.
			n.logger.Debug("request send failed", "peer", l.peerID, "event", event, "error", err)
		}
	}
}

// acknowledge matches a response to the pending broadcast it answers.
func (n *Node) acknowledge(peerID string, env wire.Envelope) {
	var resp wire.Response
	if err := env.Decode(&resp); err != nil {
		n.logger.LogError(context.Background(), syncerr.NewProtocolError(syncerr.OpPropagate, err), "bad response", "peer", peerID)
		return
	}
	id := resp.ProposedID
	if id == 0 {
		id = resp.ExternalID
	}
	key := quorum.Key{Collection: resp.Identifier, ExternalID: id}
	var matched bool
	if resp.Vetoed {
		matched = n.quorum.Veto(key, peerID, resp.ExternalID)
	} else {
		matched = n.quorum.Ack(key, peerID, resp.ExternalID)
	}
	if !matched {
		n.logger.Debug("unmatched response", "key", key.String(), "peer", peerID)
	}
}

// reserveID hands out the next external id of collection. A proposed id
// above everything stored and reserved is kept.
func (n *Node) reserveID(ctx context.Context, collection string, ds adapter.DataSource, proposed int64) (int64, error) {
	latest, err := ds.LatestExternalID(ctx)
	if err != nil {
		return 0, syncerr.NewAdapterError(syncerr.OpPropagate, collection, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	next := max(latest, n.reserved[collection]) + 1
	if proposed > next {
		next = proposed
	}
	n.reserved[collection] = next
	return next, nil
}

func (n *Node) appendChange(ctx context.Context, collection string, typ changelog.ChangeType, id int64) error {
	if _, err := n.log.Append(ctx, changelog.Change{Collection: collection, ExternalID: id, Type: typ}); err != nil {
		return syncerr.NewStorageError(syncerr.OpAppend, err)
	}
	return nil
}

func decide(ctx context.Context, ds adapter.DataSource, typ changelog.ChangeType, rec adapter.Record) (bool, error) {
	switch typ {
	case changelog.Update:
		return ds.DecideUpdate(ctx, rec)
	case changelog.Delete:
		return ds.DecideDelete(ctx, rec)
	default:
		return true, nil
	}
}

func applyRecord(ctx context.Context, ds adapter.DataSource, typ changelog.ChangeType, rec adapter.Record) error {
	switch typ {
	case changelog.Insert:
		return ds.Insert(ctx, rec, rec.ExternalID)
	case changelog.Update:
		return ds.Update(ctx, rec)
	case changelog.Delete:
		return ds.Delete(ctx, rec)
	default:
		return fmt.Errorf("unknown change type %q", typ)
	}
}

// mergeDone returns a context that ends when either a or b does.
func mergeDone(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
