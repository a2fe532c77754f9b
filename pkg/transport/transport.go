// Package transport defines the contract every link adapter satisfies.
//
// The node only ever talks to a Transport, so tests can plug in the
// in-memory hub while production runs the LAN and radio adapters side by side.
package transport

import (
	"context"
	"time"
)

// PeerSighting is an already-normalised peer identity reported by an adapter
type PeerSighting struct {
	Address     string
	DisplayName string
	LastSeen    time.Time
}

// Handler receives inbound traffic and the peer-liveness feed.
// Adapters call it from their own goroutines.
type Handler interface {
	OnReceive(address string, data []byte)
	OnPeer(sighting PeerSighting)
	OnPeerLost(address string)
}

// Transport abstracts one link technology
type Transport interface {
	// Name identifies the adapter in logs and stats
	Name() string

	// Start launches the adapter's loops; they stop when ctx is done
	Start(ctx context.Context) error

	// Close releases sockets and waits for the loops to exit
	Close() error

	// SendUnicast delivers data to one peer
	SendUnicast(address string, data []byte) bool

	// SendBroadcast delivers data to every reachable peer
	SendBroadcast(data []byte) bool

	// MaxFrameSize is the largest payload one send accepts, 0 for unbounded
	MaxFrameSize() int

	SetHandler(h Handler)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Receive  func(address string, data []byte)
	Peer     func(sighting PeerSighting)
	PeerLost func(address string)
}

func (h HandlerFuncs) OnReceive(address string, data []byte) {
	if h.Receive != nil {
		h.Receive(address, data)
	}
}

func (h HandlerFuncs) OnPeer(sighting PeerSighting) {
	if h.Peer != nil {
		h.Peer(sighting)
	}
}

func (h HandlerFuncs) OnPeerLost(address string) {
	if h.PeerLost != nil {
		h.PeerLost(address)
	}
}
