package quorum

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultPollInterval is how often Await re-checks a pending broadcast.
	DefaultPollInterval = 100 * time.Millisecond
)

// ErrSuperseded is returned by Await when another broadcast for the same
// key replaced the one being awaited.
var ErrSuperseded = errors.New("pending broadcast superseded")

// Key identifies a broadcast.
type Key struct {
	Collection string
	ExternalID int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Collection, k.ExternalID)
}

// Pending is an in-flight broadcast. All fields are guarded by the owning
// Broadcaster.
type Pending struct {
	Key Key

	expected   []string
	acked      map[string]bool
	finalID    int64
	vetoed     bool
	superseded bool
	closed     bool
}

// Result is the outcome of a completed broadcast.
type Result struct {
	// FinalID is the authoritative external id. It equals Key.ExternalID
	// unless a responder reported a different one.
	FinalID int64
	Acks    int
	Vetoed  bool
}

// Broadcaster owns the pending broadcasts of one node. It's thread-safe.
type Broadcaster struct {
	mu           sync.Mutex
	pending      map[Key]*Pending
	pollInterval time.Duration
}

// NewBroadcaster creates a broadcaster polling at pollInterval.
func NewBroadcaster(pollInterval time.Duration) *Broadcaster {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Broadcaster{
		pending:      make(map[Key]*Pending),
		pollInterval: pollInterval,
	}
}

// Open registers a broadcast awaiting every peer in expected. An existing
// broadcast for the same key is replaced.
func (b *Broadcaster) Open(key Key, expected []string) *Pending {
	p := &Pending{
		Key:      key,
		expected: dedupe(expected),
		acked:    make(map[string]bool),
		finalID:  key.ExternalID,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.pending[key]; ok {
		old.superseded = true
	}
	b.pending[key] = p
	return p
}

// Ack records peerID's acknowledgment for key. finalID, when non-zero, is
// the responder's authoritative id. It reports whether a matching
// broadcast was waiting on peerID. Repeated acks are idempotent.
func (b *Broadcaster) Ack(key Key, peerID string, finalID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pending[key]
	if !ok || !p.expects(peerID) {
		return false
	}
	p.acked[peerID] = true
	if finalID > 0 {
		p.finalID = finalID
	}
	return true
}

// Veto completes the broadcast for key without applying it. Like Ack,
// it only counts when the broadcast waits on peerID, and it reports
// whether it did.
func (b *Broadcaster) Veto(key Key, peerID string, finalID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pending[key]
	if !ok || !p.expects(peerID) {
		return false
	}
	p.vetoed = true
	if finalID > 0 {
		p.finalID = finalID
	}
	return true
}

// Forget stops waiting on peerID in every pending broadcast.
func (b *Broadcaster) Forget(peerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range b.pending {
		for i, id := range p.expected {
			if id == peerID {
				p.expected = append(p.expected[:i], p.expected[i+1:]...)
				delete(p.acked, peerID)
				break
			}
		}
	}
}

// Await polls until p is fully acknowledged or vetoed, ctx is done, or p
// is superseded.
func (b *Broadcaster) Await(ctx context.Context, p *Pending) (Result, error) {
	if res, done, err := b.check(p); done {
		return res, err
	}

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Result{}, fmt.Errorf("awaiting %s: %w", p.Key, ctx.Err())
		case <-ticker.C:
			if res, done, err := b.check(p); done {
				return res, err
			}
		}
	}
}

// Close removes p. Closing a superseded broadcast leaves its replacement
// in place.
func (b *Broadcaster) Close(p *Pending) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p.closed = true
	if cur, ok := b.pending[p.Key]; ok && cur == p {
		delete(b.pending, p.Key)
	}
}

// Outstanding returns the number of open broadcasts.
func (b *Broadcaster) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Waiting returns the peers p still waits on.
func (b *Broadcaster) Waiting(p *Pending) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(p.expected))
	for _, id := range p.expected {
		if !p.acked[id] {
			out = append(out, id)
		}
	}
	return out
}

func (b *Broadcaster) check(p *Pending) (Result, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case p.vetoed:
		return Result{FinalID: p.finalID, Vetoed: true}, true, nil
	case p.superseded:
		return Result{}, true, fmt.Errorf("awaiting %s: %w", p.Key, ErrSuperseded)
	case p.closed:
		return Result{}, true, fmt.Errorf("awaiting %s: broadcast closed", p.Key)
	}
	for _, id := range p.expected {
		if !p.acked[id] {
			return Result{}, false, nil
		}
	}
	return Result{FinalID: p.finalID, Acks: len(p.acked)}, true, nil
}

func (p *Pending) expects(peerID string) bool {
	for _, id := range p.expected {
		if id == peerID {
			return true
		}
	}
	return false
}

// Responders returns the peers a broadcast must wait on. A coordinator
// waits on every peer except the origin of the change; a participant
// waits only on its coordinator.
func Responders(isCoordinator bool, peers []string, coordinatorID, origin string) []string {
	if !isCoordinator {
		if coordinatorID == "" {
			return nil
		}
		return []string{coordinatorID}
	}
	out := make([]string, 0, len(peers))
	for _, id := range peers {
		if id != origin {
			out = append(out, id)
		}
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
