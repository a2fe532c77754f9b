// Package memory provides an in-process transport for tests: endpoints
// attached to one Hub exchange bytes through buffered queues.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ZentaChain/echo-node/pkg/transport"
)

const inboxSize = 1024

var ErrAlreadyStarted = errors.New("endpoint already started")

type packet struct {
	from string
	data []byte
}

// Hub connects endpoints by address
type Hub struct {
	endpoints map[string]*Endpoint
	mu        sync.RWMutex
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{endpoints: make(map[string]*Endpoint)}
}

// Endpoint creates a transport reachable at address. A maxFrame of 0
// accepts any size.
func (h *Hub) Endpoint(address, displayName string, maxFrame int) *Endpoint {
	return &Endpoint{
		hub:         h,
		address:     address,
		displayName: displayName,
		maxFrame:    maxFrame,
		inbox:       make(chan packet, inboxSize),
		done:        make(chan struct{}),
	}
}

func (h *Hub) attach(e *Endpoint) []*Endpoint {
	h.mu.Lock()
	defer h.mu.Unlock()

	others := make([]*Endpoint, 0, len(h.endpoints))
	for _, other := range h.endpoints {
		others = append(others, other)
	}
	h.endpoints[e.address] = e
	return others
}

func (h *Hub) detach(e *Endpoint) []*Endpoint {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.endpoints, e.address)
	others := make([]*Endpoint, 0, len(h.endpoints))
	for _, other := range h.endpoints {
		others = append(others, other)
	}
	return others
}

func (h *Hub) lookup(address string) (*Endpoint, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.endpoints[address]
	return e, ok
}

func (h *Hub) peersOf(address string) []*Endpoint {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Endpoint, 0, len(h.endpoints))
	for addr, e := range h.endpoints {
		if addr != address {
			out = append(out, e)
		}
	}
	return out
}

// Endpoint is one node's attachment to a Hub
type Endpoint struct {
	hub         *Hub
	address     string
	displayName string
	maxFrame    int

	handler transport.Handler
	inbox   chan packet
	done    chan struct{}
	wg      sync.WaitGroup

	started   bool
	closeOnce sync.Once
	mu        sync.RWMutex
}

// Address returns the endpoint's hub address
func (e *Endpoint) Address() string { return e.address }

func (e *Endpoint) Name() string { return "memory" }

func (e *Endpoint) MaxFrameSize() int { return e.maxFrame }

func (e *Endpoint) SetHandler(h transport.Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

func (e *Endpoint) getHandler() transport.Handler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.handler == nil {
		return transport.HandlerFuncs{}
	}
	return e.handler
}

// Start attaches the endpoint to the hub and introduces it to every peer
func (e *Endpoint) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.deliverLoop(ctx)

	now := time.Now()
	for _, other := range e.hub.attach(e) {
		other.getHandler().OnPeer(transport.PeerSighting{Address: e.address, DisplayName: e.displayName, LastSeen: now})
		e.getHandler().OnPeer(transport.PeerSighting{Address: other.address, DisplayName: other.displayName, LastSeen: now})
	}
	return nil
}

func (e *Endpoint) deliverLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case p := <-e.inbox:
			e.getHandler().OnReceive(p.from, p.data)
		}
	}
}

// Close detaches the endpoint; remaining peers see it as lost
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		for _, other := range e.hub.detach(e) {
			other.getHandler().OnPeerLost(e.address)
		}
		close(e.done)
	})
	e.wg.Wait()
	return nil
}

func (e *Endpoint) enqueue(from string, data []byte) bool {
	select {
	case <-e.done:
		return false
	default:
	}

	select {
	case e.inbox <- packet{from: from, data: append([]byte(nil), data...)}:
		return true
	default:
		return false
	}
}

// SendUnicast queues data for the endpoint at address
func (e *Endpoint) SendUnicast(address string, data []byte) bool {
	if e.maxFrame > 0 && len(data) > e.maxFrame {
		return false
	}
	target, ok := e.hub.lookup(address)
	if !ok {
		return false
	}
	return target.enqueue(e.address, data)
}

// SendBroadcast queues data for every other endpoint on the hub
func (e *Endpoint) SendBroadcast(data []byte) bool {
	if e.maxFrame > 0 && len(data) > e.maxFrame {
		return false
	}
	sent := false
	for _, target := range e.hub.peersOf(e.address) {
		if target.enqueue(e.address, data) {
			sent = true
		}
	}
	return sent
}

var _ transport.Transport = (*Endpoint)(nil)
