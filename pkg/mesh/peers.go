package mesh

import (
	"sort"
	"sync"
	"time"
)

// PeerTimeout is how long a peer stays active without being heard from
const PeerTimeout = 60 * time.Second

// PeerInfo describes a neighbour reachable through some transport
type PeerInfo struct {
	Address     string    `json:"address"`
	DisplayName string    `json:"display_name"`
	LastSeen    time.Time `json:"last_seen"`
}

// PeerRegistry tracks neighbours keyed by transport address
type PeerRegistry struct {
	peers   map[string]*PeerInfo
	timeout time.Duration
	now     func() time.Time
	mu      sync.RWMutex
}

// NewPeerRegistry creates an empty registry
func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{
		peers:   make(map[string]*PeerInfo),
		timeout: PeerTimeout,
		now:     time.Now,
	}
}

// AddPeer inserts or refreshes a peer. An empty name keeps the known one.
func (r *PeerRegistry) AddPeer(address, displayName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info, ok := r.peers[address]; ok {
		if displayName != "" {
			info.DisplayName = displayName
		}
		info.LastSeen = r.now()
		return
	}

	r.peers[address] = &PeerInfo{
		Address:     address,
		DisplayName: displayName,
		LastSeen:    r.now(),
	}
}

// Touch refreshes the last-seen time of a known peer
func (r *PeerRegistry) Touch(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.peers[address]
	if ok {
		info.LastSeen = r.now()
	}
	return ok
}

// RemovePeer removes a peer; removing an unknown peer is a no-op
func (r *PeerRegistry) RemovePeer(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, address)
}

// Get returns a copy of the peer's info
func (r *PeerRegistry) Get(address string) (PeerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.peers[address]
	if !ok {
		return PeerInfo{}, false
	}
	return *info, true
}

// ActivePeers returns the addresses heard from within the peer timeout, sorted
func (r *PeerRegistry) ActivePeers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := r.now().Add(-r.timeout)
	active := make([]string, 0, len(r.peers))
	for addr, info := range r.peers {
		if !info.LastSeen.Before(cutoff) {
			active = append(active, addr)
		}
	}
	sort.Strings(active)
	return active
}

// Peers returns a snapshot of every known peer, sorted by address
func (r *PeerRegistry) Peers() []PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]PeerInfo, 0, len(r.peers))
	for _, info := range r.peers {
		peers = append(peers, *info)
	}
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].Address < peers[j].Address
	})
	return peers
}

// IsActive reports whether a peer was heard from within the timeout
func (r *PeerRegistry) IsActive(address string) bool {
	info, ok := r.Get(address)
	return ok && r.now().Sub(info.LastSeen) <= r.timeout
}
