package node

import (
	"context"
	"fmt"
	"time"

	"coordsync/internal/discovery"
	"coordsync/internal/syncerr"
	"coordsync/internal/transport"
)

// discover browses for a coordinator of the service for the discovery
// timeout.
func (n *Node) discover(ctx context.Context) (discovery.Service, bool) {
	bctx, cancel := context.WithTimeout(ctx, n.cfg.DiscoveryTimeout)
	defer cancel()

	ch, err := n.disc.Browse(bctx, n.cfg.ServiceName)
	if err != nil {
		n.logger.LogError(ctx, syncerr.NewTransportError(syncerr.OpDiscover, err), "browse failed")
		return discovery.Service{}, false
	}

	for {
		select {
		case <-bctx.Done():
			return discovery.Service{}, false
		case svc, ok := <-ch:
			if !ok {
				return discovery.Service{}, false
			}
			if n.isSelf(svc) {
				continue
			}
			n.logger.Info("coordinator found", "coordinator", svc.NodeID, "addr", svc.Addr())
			return svc, true
		}
	}
}

func (n *Node) isSelf(svc discovery.Service) bool {
	return svc.NodeID == n.id || svc.Addr() == n.Addr()
}

// runCoordinator listens on the sync port, announces the service and
// serves participants until ctx is done. A bind failure waits for the
// restart delay and returns.
func (n *Node) runCoordinator(ctx context.Context, cancel context.CancelFunc) {
	lis, err := n.net.Listen(n.Addr())
	if err != nil {
		n.logger.LogError(ctx, syncerr.NewTransportError(syncerr.OpListen, err), "failed to bind sync port")
		sleep(ctx, n.cfg.RestartDelay)
		return
	}
	defer lis.Close()

	n.setPhase(Coordinator)

	svc := discovery.Service{Name: n.cfg.ServiceName, NodeID: n.id, Host: n.cfg.Host, Port: n.cfg.SyncPort}
	if err := n.disc.Announce(ctx, svc); err != nil {
		n.logger.LogError(ctx, syncerr.NewTransportError(syncerr.OpDiscover, err), "announce failed")
	}
	n.watchRivals(ctx, cancel)

	for {
		conn, err := lis.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil {
				n.logger.LogError(ctx, syncerr.NewTransportError(syncerr.OpListen, err), "accept failed")
				sleep(ctx, n.cfg.RestartDelay)
			}
			return
		}

		n.roleWG.Add(1)
		go func() {
			defer n.roleWG.Done()
			n.serveParticipant(ctx, conn)
		}()
	}
}

// watchRivals ends the coordinator role when another coordinator of the
// same service with a lower id is announced while this one has no
// participants yet. It settles simultaneous elections.
func (n *Node) watchRivals(ctx context.Context, cancel context.CancelFunc) {
	ch, err := n.disc.Browse(ctx, n.cfg.ServiceName)
	if err != nil {
		return
	}

	n.roleWG.Add(1)
	go func() {
		defer n.roleWG.Done()
		for svc := range ch {
			if svc.NodeID == "" || n.isSelf(svc) || svc.NodeID > n.id {
				continue
			}
			if n.registry.Len() > 0 {
				continue
			}
			n.logger.Warn("yielding to rival coordinator", "rival", svc.NodeID, "addr", svc.Addr())
			cancel()
			return
		}
	}()
}

// runParticipant connects to the announced coordinator and stays
// attached, failing over through the registry when the link drops.
func (n *Node) runParticipant(ctx context.Context, svc discovery.Service) {
	conn, err := n.dial(ctx, svc.Addr())
	if err != nil {
		n.logger.LogError(ctx, err, "failed to reach coordinator", "addr", svc.Addr())
		sleep(ctx, n.cfg.RestartDelay)
		return
	}

	for {
		rejected := n.serveUpstream(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		if rejected {
			sleep(ctx, n.cfg.RestartDelay)
			return
		}

		n.setPhase(Disconnected)
		next, ok := n.failover(ctx)
		if !ok {
			n.logger.Warn("failover exhausted, restarting election")
			return
		}
		conn = next
	}
}

// failover walks the registry in join order looking for the new
// coordinator. The most senior participant, or one with an empty
// registry, restarts election instead.
func (n *Node) failover(ctx context.Context) (transport.Conn, bool) {
	if n.registry.Len() == 0 || n.registry.MostSenior(n.id) {
		return nil, false
	}

	for _, cand := range n.registry.Candidates(n.id) {
		for try := 1; try <= n.cfg.FailoverRetries; try++ {
			conn, err := n.dial(ctx, cand.Addr())
			if err == nil {
				n.logger.Info("failover connected", "candidate", cand.ID, "attempt", try)
				return conn, true
			}
			n.logger.Debug("failover attempt failed", "candidate", cand.ID, "attempt", try, "error", err)
			if !sleep(ctx, n.cfg.FailoverDelay) {
				return nil, false
			}
		}
	}
	return nil, false
}

func (n *Node) dial(ctx context.Context, addr string) (transport.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, n.cfg.ConnectTimeout)
	defer cancel()

	conn, err := n.net.Dial(dctx, addr)
	if err != nil {
		return nil, syncerr.NewTransportError(syncerr.OpDial, fmt.Errorf("%s: %w", addr, err))
	}
	return conn, nil
}

// sleep waits for d. It reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
