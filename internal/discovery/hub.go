package discovery

import (
	"context"
	"sync"
)

// Hub is an in-process Discoverer. Browsers see every live announcement,
// including those made before they subscribed.
type Hub struct {
	mu        sync.Mutex
	announced map[*Service]bool
	browsers  map[*hubBrowser]bool
}

type hubBrowser struct {
	name string
	ch   chan Service
}

var _ Discoverer = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		announced: make(map[*Service]bool),
		browsers:  make(map[*hubBrowser]bool),
	}
}

func (h *Hub) Announce(ctx context.Context, svc Service) error {
	entry := &svc

	h.mu.Lock()
	h.announced[entry] = true
	for b := range h.browsers {
		b.offer(svc)
	}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.announced, entry)
		h.mu.Unlock()
	}()
	return nil
}

func (h *Hub) Browse(ctx context.Context, name string) (<-chan Service, error) {
	b := &hubBrowser{name: name, ch: make(chan Service, 16)}

	h.mu.Lock()
	h.browsers[b] = true
	for svc := range h.announced {
		b.offer(*svc)
	}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.browsers, b)
		close(b.ch)
		h.mu.Unlock()
	}()
	return b.ch, nil
}

// Announced returns the live announcements for name.
func (h *Hub) Announced(name string) []Service {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Service, 0)
	for svc := range h.announced {
		if svc.Name == name {
			out = append(out, *svc)
		}
	}
	return out
}

// offer delivers svc without blocking (must be called with hub lock held).
func (b *hubBrowser) offer(svc Service) {
	if svc.Name != b.name {
		return
	}
	select {
	case b.ch <- svc:
	default:
	}
}
