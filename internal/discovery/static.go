package discovery

import (
	"context"
	"net"
	"time"
)

// Static treats a fixed seed list as standing announcements. Seeds with
// an empty Name match any service.
type Static struct {
	Seeds []Service
	// Interval re-emits the seeds while browsing. Zero emits them once.
	Interval time.Duration
	// Probe, when set, filters out seeds that are not accepting
	// connections, so that only a live coordinator counts as announced.
	Probe func(ctx context.Context, addr string) bool
}

var _ Discoverer = (*Static)(nil)

// NewStatic creates a static discoverer over seeds.
func NewStatic(seeds []Service) *Static {
	return &Static{Seeds: seeds}
}

// Announce is a no-op: the seed list is configured out of band.
func (s *Static) Announce(ctx context.Context, svc Service) error {
	return nil
}

func (s *Static) Browse(ctx context.Context, name string) (<-chan Service, error) {
	ch := make(chan Service, len(s.Seeds))

	go func() {
		defer close(ch)

		var tick <-chan time.Time
		if s.Interval > 0 {
			ticker := time.NewTicker(s.Interval)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			for _, seed := range s.Seeds {
				if seed.Name != "" && seed.Name != name {
					continue
				}
				seed.Name = name
				if s.Probe != nil && !s.Probe(ctx, seed.Addr()) {
					continue
				}
				select {
				case ch <- seed:
				case <-ctx.Done():
					return
				}
			}
			if tick == nil {
				<-ctx.Done()
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-tick:
			}
		}
	}()
	return ch, nil
}

// TCPProbe reports whether addr accepts a TCP connection within timeout.
func TCPProbe(timeout time.Duration) func(ctx context.Context, addr string) bool {
	return func(ctx context.Context, addr string) bool {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}
}
