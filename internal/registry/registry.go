package registry

import (
	"fmt"
	"net"
	"strconv"
	"sync"
)

// Peer is a connected participant.
type Peer struct {
	ID        string `json:"id"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Connected bool   `json:"connected"`
}

// Addr returns the peer's dialable host:port.
func (p Peer) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

func (p Peer) String() string {
	return fmt.Sprintf("%s@%s", p.ID, p.Addr())
}

// Registry is an ordered set of peers keyed by id. Order is join order.
type Registry struct {
	mu    sync.RWMutex
	peers []Peer
	index map[string]int // id -> position in peers
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Add appends p, or updates it in place if its id is already present.
func (r *Registry) Add(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i, ok := r.index[p.ID]; ok {
		r.peers[i] = p
		return
	}
	r.index[p.ID] = len(r.peers)
	r.peers = append(r.peers, p)
}

// Remove drops the peer with id. It reports whether the peer was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[id]
	if !ok {
		return false
	}
	r.peers = append(r.peers[:i], r.peers[i+1:]...)
	r.reindexLocked()
	return true
}

// Replace swaps the whole list, keeping the given order. Later
// duplicates of an id are dropped.
func (r *Registry) Replace(peers []Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.peers = make([]Peer, 0, len(peers))
	r.index = make(map[string]int, len(peers))
	for _, p := range peers {
		if _, dup := r.index[p.ID]; dup {
			continue
		}
		r.index[p.ID] = len(r.peers)
		r.peers = append(r.peers, p)
	}
}

// Clear removes every peer.
func (r *Registry) Clear() {
	r.Replace(nil)
}

// Snapshot returns a copy of the peers in join order.
func (r *Registry) Snapshot() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// IDs returns the peer ids in join order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.peers))
	for i, p := range r.peers {
		ids[i] = p.ID
	}
	return ids
}

// Len returns the number of peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Candidates returns the failover order for selfID: every other peer in
// join order.
func (r *Registry) Candidates(selfID string) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		if p.ID != selfID {
			out = append(out, p)
		}
	}
	return out
}

// MostSenior reports whether selfID joined first.
func (r *Registry) MostSenior(selfID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers) > 0 && r.peers[0].ID == selfID
}

// snapshotLocked copies the peer list (must be called with lock held).
func (r *Registry) snapshotLocked() []Peer {
	out := make([]Peer, len(r.peers))
	copy(out, r.peers)
	return out
}

func (r *Registry) reindexLocked() {
	r.index = make(map[string]int, len(r.peers))
	for i, p := range r.peers {
		r.index[p.ID] = i
	}
}
