package node

import (
	"coordsync/internal/syncerr"
	"coordsync/internal/wire"
)

// handleGetData answers a catch-up request on l.
func (n *Node) handleGetData(l *link, env wire.Envelope) {
	var req wire.DataRequest
	if err := env.Decode(&req); err != nil {
		n.logger.LogError(l.ctx, syncerr.NewProtocolError(syncerr.OpCatchUp, err), "bad get_data")
		return
	}
	ds, ok := n.Source(req.Identifier)
	if !ok {
		n.logger.Warn("catch-up for unknown collection", "collection", req.Identifier)
		return
	}

	reply, err := n.catchup.Respond(l.ctx, req, ds)
	if err != nil {
		n.logger.LogError(l.ctx, err, "catch-up answer failed", "collection", req.Identifier)
		return
	}
	if reply.Serve != nil {
		if err := l.send(wire.EventSetData, *reply.Serve); err != nil {
			n.logger.Debug("set_data send failed", "error", err)
			return
		}
	}
	if reply.TurnAround != nil {
		if err := l.send(wire.EventGetData, *reply.TurnAround); err != nil {
			n.logger.Debug("get_data send failed", "error", err)
		}
	}
}

// handleSetData merges a catch-up data set into the local collection.
func (n *Node) handleSetData(l *link, env wire.Envelope) {
	var set wire.DataSet
	if err := env.Decode(&set); err != nil {
		n.logger.LogError(l.ctx, syncerr.NewProtocolError(syncerr.OpCatchUp, err), "bad set_data")
		return
	}
	ds, ok := n.Source(set.Identifier)
	if !ok {
		n.logger.Warn("catch-up for unknown collection", "collection", set.Identifier)
		return
	}

	stats, err := n.catchup.Apply(l.ctx, set, ds)
	if err != nil {
		n.logger.LogError(l.ctx, err, "catch-up apply failed", "collection", set.Identifier)
		return
	}
	n.logger.Info("caught up",
		"collection", set.Identifier,
		"inserted", stats.Inserted,
		"updated", stats.Updated,
		"deleted", stats.Deleted,
		"changes", stats.Changes)
}
