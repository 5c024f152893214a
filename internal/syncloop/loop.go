package syncloop

import (
	"context"
	"sync"
	"time"

	"coordsync/internal/adapter"
	"coordsync/internal/changelog"
	"coordsync/internal/logging"
)

// DefaultInterval is the default tick.
const DefaultInterval = 200 * time.Millisecond

// Propagator replicates one local mutation and returns its final
// external id.
type Propagator interface {
	// Ready reports whether the node can replicate right now.
	Ready() bool
	Propagate(ctx context.Context, collection string, typ changelog.ChangeType, rec adapter.Record) (int64, error)
}

// Collection is a named data source, pumped in the order given.
type Collection struct {
	Name   string
	Source adapter.DataSource
}

// Loop drives the pump.
type Loop struct {
	interval    time.Duration
	prop        Propagator
	collections func() []Collection
	logger      *logging.Logger

	cycle sync.Mutex

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a loop. collections is consulted on every cycle.
func New(interval time.Duration, prop Propagator, collections func() []Collection, logger *logging.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Loop{
		interval:    interval,
		prop:        prop,
		collections: collections,
		logger:      logger.WithComponent(logging.ComponentSyncLoop),
	}
}

// Start runs the loop until Stop or until parent is done.
func (l *Loop) Start(parent context.Context) {
	l.ctx, l.cancel = context.WithCancel(parent)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-l.ctx.Done():
				return
			case <-ticker.C:
				l.Tick(l.ctx)
			}
		}
	}()
}

// Stop stops the loop and waits for a running cycle to finish.
func (l *Loop) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

// Tick runs one cycle. It reports false when the node is not ready or a
// cycle is already running.
func (l *Loop) Tick(ctx context.Context) bool {
	if !l.prop.Ready() {
		return false
	}
	if !l.cycle.TryLock() {
		return false
	}
	defer l.cycle.Unlock()

	for _, c := range l.collections() {
		if ctx.Err() != nil {
			return true
		}
		if err := l.syncCollection(ctx, c); err != nil {
			l.logger.LogError(ctx, err, "sync cycle failed", "collection", c.Name)
		}
	}
	return true
}

func (l *Loop) syncCollection(ctx context.Context, c Collection) error {
	rec, err := c.Source.FetchPendingInsert(ctx)
	if err != nil {
		return err
	}
	if rec != nil {
		id, err := l.prop.Propagate(ctx, c.Name, changelog.Insert, *rec)
		if err != nil {
			return err
		}
		if err := c.Source.AfterInsert(ctx, *rec, id); err != nil {
			return err
		}
		l.logger.Debug("local insert replicated", "collection", c.Name, "id", id)
	}

	if us, ok := adapter.Updates(c.Source); ok {
		rec, err := us.FetchPendingUpdate(ctx)
		if err != nil {
			return err
		}
		if rec != nil {
			if _, err := l.prop.Propagate(ctx, c.Name, changelog.Update, *rec); err != nil {
				return err
			}
			if err := us.AfterUpdate(ctx, *rec); err != nil {
				return err
			}
			l.logger.Debug("local update replicated", "collection", c.Name, "id", rec.ExternalID)
		}
	}

	if ds, ok := adapter.Deletes(c.Source); ok {
		rec, err := ds.FetchPendingDelete(ctx)
		if err != nil {
			return err
		}
		if rec != nil {
			if _, err := l.prop.Propagate(ctx, c.Name, changelog.Delete, *rec); err != nil {
				return err
			}
			if err := ds.AfterDelete(ctx, *rec); err != nil {
				return err
			}
			l.logger.Debug("local delete replicated", "collection", c.Name, "id", rec.ExternalID)
		}
	}
	return nil
}
