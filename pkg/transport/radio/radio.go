// Package radio adapts a frame-limited broadcast radio link to the mesh.
// Outbound messages are cut into 31-byte frames; inbound frames are
// buffered until a message is whole. Advertisement parsing and connection
// management stay inside the Link.
package radio

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZentaChain/echo-node/pkg/fragment"
	"github.com/ZentaChain/echo-node/pkg/protocol"
	"github.com/ZentaChain/echo-node/pkg/transport"
)

// Link moves raw frames of at most fragment.MaxFrameSize bytes and reports
// peers already normalised to (address, display name, last seen).
type Link interface {
	Start(ctx context.Context) error
	Close() error
	SendUnicast(address string, frame []byte) bool
	SendBroadcast(frame []byte) bool
	SetHandler(h transport.Handler)
}

// Config holds radio adapter settings
type Config struct {
	Username      string
	ReassemblyAge time.Duration
}

// Stats counts frame-level outcomes
type Stats struct {
	FramesSent      uint64 `json:"frames_sent"`
	FramesReceived  uint64 `json:"frames_received"`
	BadFrames       uint64 `json:"bad_frames"`
	Reassembled     uint64 `json:"reassembled"`
	DroppedPartials uint64 `json:"dropped_partials"`
	PendingMessages int    `json:"pending_messages"`
}

type handlerRef struct {
	transport.Handler
}

// Transport is the radio adapter
type Transport struct {
	config      *Config
	link        Link
	ids         protocol.IDGenerator
	reassembler *fragment.Reassembler
	handler     atomic.Pointer[handlerRef]

	framesSent      atomic.Uint64
	framesReceived  atomic.Uint64
	badFrames       atomic.Uint64
	reassembled     atomic.Uint64
	droppedPartials atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// New wraps link. ids supplies the rolling 16-bit message ids.
func New(config *Config, link Link, ids protocol.IDGenerator) *Transport {
	if config == nil {
		config = &Config{}
	}
	t := &Transport{
		config:      config,
		link:        link,
		ids:         ids,
		reassembler: fragment.NewReassembler(config.ReassemblyAge),
	}
	t.SetHandler(nil)
	link.SetHandler(linkEvents{t})
	return t
}

func (t *Transport) Name() string { return "radio" }

// MaxFrameSize is the largest message that can be fragmented
func (t *Transport) MaxFrameSize() int { return fragment.MaxMessageSize }

func (t *Transport) SetHandler(h transport.Handler) {
	if h == nil {
		h = transport.HandlerFuncs{}
	}
	t.handler.Store(&handlerRef{h})
}

func (t *Transport) getHandler() transport.Handler {
	return t.handler.Load().Handler
}

// Start opens the link and runs the reassembly sweep
func (t *Transport) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	if err := t.link.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start radio link: %w", err)
	}

	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	t.wg.Add(1)
	go t.sweepLoop(ctx)

	log.Printf("✅ Radio transport started as %s", t.config.Username)
	return nil
}

func (t *Transport) sweepLoop(ctx context.Context) {
	defer t.wg.Done()

	interval := t.config.ReassemblyAge / 2
	if interval <= 0 {
		interval = fragment.DefaultMaxAge / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Sweep discards partial messages whose frames stopped arriving
func (t *Transport) Sweep() int {
	dropped := t.reassembler.Sweep()
	if dropped > 0 {
		t.droppedPartials.Add(uint64(dropped))
		log.Printf("🧹 Dropped %d incomplete radio messages", dropped)
	}
	return dropped
}

// Close stops the sweep and closes the link
func (t *Transport) Close() error {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
	return t.link.Close()
}

func (t *Transport) frames(data []byte) ([]fragment.Frame, bool) {
	frames, err := fragment.Fragment(data, t.config.Username, uint16(t.ids.Next()))
	if err != nil {
		log.Printf("⚠️  Cannot fragment %d bytes: %v", len(data), err)
		return nil, false
	}
	return frames, len(frames) > 0
}

// SendUnicast fragments data and writes every frame to address
func (t *Transport) SendUnicast(address string, data []byte) bool {
	frames, ok := t.frames(data)
	if !ok {
		return false
	}
	for i := range frames {
		if !t.link.SendUnicast(address, frames[i].Encode()) {
			return false
		}
		t.framesSent.Add(1)
	}
	return true
}

// SendBroadcast fragments data and advertises every frame
func (t *Transport) SendBroadcast(data []byte) bool {
	frames, ok := t.frames(data)
	if !ok {
		return false
	}
	for i := range frames {
		if !t.link.SendBroadcast(frames[i].Encode()) {
			return false
		}
		t.framesSent.Add(1)
	}
	return true
}

// Stats returns the frame counters
func (t *Transport) Stats() Stats {
	return Stats{
		FramesSent:      t.framesSent.Load(),
		FramesReceived:  t.framesReceived.Load(),
		BadFrames:       t.badFrames.Load(),
		Reassembled:     t.reassembled.Load(),
		DroppedPartials: t.droppedPartials.Load(),
		PendingMessages: t.reassembler.Pending(),
	}
}

func (t *Transport) receiveFrame(address string, raw []byte) {
	t.framesReceived.Add(1)

	f, err := fragment.DecodeFrame(raw)
	if err != nil {
		t.badFrames.Add(1)
		return
	}

	message, done, err := t.reassembler.Add(*f)
	if err != nil {
		t.droppedPartials.Add(1)
		return
	}
	if !done {
		return
	}

	t.reassembled.Add(1)
	t.getHandler().OnReceive(address, message)
}

// linkEvents receives the link's callbacks on the adapter's behalf
type linkEvents struct {
	t *Transport
}

func (e linkEvents) OnReceive(address string, frame []byte) {
	e.t.receiveFrame(address, frame)
}

func (e linkEvents) OnPeer(sighting transport.PeerSighting) {
	e.t.getHandler().OnPeer(sighting)
}

func (e linkEvents) OnPeerLost(address string) {
	e.t.getHandler().OnPeerLost(address)
}

var _ transport.Transport = (*Transport)(nil)
