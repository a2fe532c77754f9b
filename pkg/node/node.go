// Package node wires the router, the transfer engine and the peer registry
// to one or more transports, and exposes the operations an application
// (the CLI or the HTTP API) needs: send text, flood global chat, announce,
// send files and inspect peers.
package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ZentaChain/echo-node/pkg/mesh"
	"github.com/ZentaChain/echo-node/pkg/protocol"
	"github.com/ZentaChain/echo-node/pkg/storage"
	"github.com/ZentaChain/echo-node/pkg/transfer"
	"github.com/ZentaChain/echo-node/pkg/transport"
)

var (
	ErrAlreadyStarted = errors.New("node already started")
	ErrNotStarted     = errors.New("node not started")
	ErrUnknownPeer    = errors.New("unknown peer")
	ErrSendFailed     = errors.New("no transport accepted the message")
	ErrEmptyMessage   = errors.New("empty message")
)

// Config holds node settings
type Config struct {
	Username    string
	Fingerprint string
	OSType      string

	// MaintenanceInterval paces seen-table, transfer and journal cleanup
	MaintenanceInterval time.Duration

	// AnnounceDelay is the settle time before announcing to a newly seen peer
	AnnounceDelay time.Duration

	Transfer *transfer.Config
	IDs      protocol.IDGenerator
	Verbose  bool
}

// DefaultConfig returns the standard node settings
func DefaultConfig() *Config {
	return &Config{
		OSType:              runtime.GOOS,
		MaintenanceInterval: 60 * time.Second,
		AnnounceDelay:       2 * time.Second,
		Transfer:            transfer.DefaultConfig(),
		IDs:                 protocol.RandomIDs{},
	}
}

// Stats is a snapshot of node activity
type Stats struct {
	Username       string           `json:"username"`
	Fingerprint    string           `json:"fingerprint"`
	Transports     []string         `json:"transports"`
	Router         mesh.RouterStats `json:"router"`
	Received       uint64           `json:"received"`
	DecodeErrors   uint64           `json:"decode_errors"`
	Misaddressed   uint64           `json:"misaddressed"`
	Sent           uint64           `json:"sent"`
	SendFailures   uint64           `json:"send_failures"`
	Pongs          uint64           `json:"pongs"`
	KnownPeers     int              `json:"known_peers"`
	ActivePeers    int              `json:"active_peers"`
	ActiveReceives int              `json:"active_receives"`
	ActiveSends    int              `json:"active_sends"`
	StartedAt      time.Time        `json:"started_at"`
}

// Node is one participant in the mesh
type Node struct {
	config     *Config
	ids        protocol.IDGenerator
	router     *mesh.Router
	peers      *mesh.PeerRegistry
	engine     *transfer.Engine
	journal    *storage.Journal
	transports []transport.Transport

	// peer address -> transport it was heard on
	routes   map[string]transport.Transport
	routesMu sync.RWMutex

	onEvent func(Event)
	eventMu sync.RWMutex

	received     atomic.Uint64
	decodeErrors atomic.Uint64
	misaddressed atomic.Uint64
	sent         atomic.Uint64
	sendFailures atomic.Uint64
	pongs        atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	group     *errgroup.Group
	started   bool
	closing   bool
	startedAt time.Time
	lifeMu    sync.Mutex
}

// New creates a node over the given transports. The journal may be nil.
func New(config *Config, journal *storage.Journal, transports ...transport.Transport) *Node {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.OSType == "" {
		config.OSType = defaults.OSType
	}
	if config.MaintenanceInterval <= 0 {
		config.MaintenanceInterval = defaults.MaintenanceInterval
	}
	if config.AnnounceDelay < 0 {
		config.AnnounceDelay = 0
	}
	if config.Transfer == nil {
		config.Transfer = defaults.Transfer
	}
	if config.IDs == nil {
		config.IDs = defaults.IDs
	}

	n := &Node{
		config:     config,
		ids:        config.IDs,
		peers:      mesh.NewPeerRegistry(),
		journal:    journal,
		transports: transports,
		routes:     make(map[string]transport.Transport),
	}
	n.router = mesh.NewRouter(routerEvents{n})
	n.engine = transfer.NewEngine(config.Transfer, n.ids, transfer.SenderFunc(n.sendTo), nil, transferEvents{n})

	return n
}

// Username returns the local username
func (n *Node) Username() string { return n.config.Username }

// Fingerprint returns the local fingerprint
func (n *Node) Fingerprint() string { return n.config.Fingerprint }

// SetEventHandler installs the observer for messages, peers and transfers
func (n *Node) SetEventHandler(fn func(Event)) {
	n.eventMu.Lock()
	defer n.eventMu.Unlock()
	n.onEvent = fn
}

func (n *Node) emit(ev Event) {
	n.eventMu.RLock()
	fn := n.onEvent
	n.eventMu.RUnlock()

	if fn == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	fn(ev)
}

// Start launches every transport plus the maintenance loop, then announces
// the node once the transports have had time to discover neighbours.
func (n *Node) Start(ctx context.Context) error {
	n.lifeMu.Lock()
	if n.started {
		n.lifeMu.Unlock()
		return ErrAlreadyStarted
	}
	n.started = true
	n.startedAt = time.Now()
	ctx, n.cancel = context.WithCancel(ctx)
	n.group, n.ctx = errgroup.WithContext(ctx)
	n.lifeMu.Unlock()

	for i, t := range n.transports {
		t.SetHandler(&transportEvents{node: n, transport: t})
		if err := t.Start(n.ctx); err != nil {
			for _, started := range n.transports[:i] {
				started.Close()
			}
			n.cancel()
			return fmt.Errorf("failed to start %s transport: %w", t.Name(), err)
		}
		log.Printf("✅ %s transport started", t.Name())
	}

	n.group.Go(func() error {
		n.maintenanceLoop(n.ctx)
		return nil
	})
	n.spawnAfter(n.config.AnnounceDelay, func() {
		if err := n.Announce(); err != nil && n.config.Verbose {
			log.Printf("⚠️  Initial announce: %v", err)
		}
	})

	log.Printf("✅ Node %s started with %d transport(s)", n.config.Username, len(n.transports))
	return nil
}

// spawnAfter runs fn after delay on the node's worker group. Nothing runs
// once the node is closing.
func (n *Node) spawnAfter(delay time.Duration, fn func()) {
	n.lifeMu.Lock()
	defer n.lifeMu.Unlock()

	if n.group == nil || n.closing {
		return
	}

	ctx := n.ctx
	n.group.Go(func() error {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		fn()
		return nil
	})
}

func (n *Node) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(n.config.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.Maintain()
		}
	}
}

type sweeper interface {
	Sweep() int
}

// Maintain runs one round of housekeeping
func (n *Node) Maintain() {
	seen := n.router.CleanupOldMessages()
	stale := n.engine.CleanupStaleTransfers()

	partials := 0
	for _, t := range n.transports {
		if s, ok := t.(sweeper); ok {
			partials += s.Sweep()
		}
	}

	if n.journal != nil {
		if _, err := n.journal.Prune(); err != nil {
			log.Printf("⚠️  Journal prune failed: %v", err)
		}
	}

	if n.config.Verbose {
		log.Printf("🧹 Maintenance: %d seen ids, %d stale transfers, %d partial frames dropped", seen, stale, partials)
	}
}

// Close stops the workers and transports. It is safe to call more than once.
func (n *Node) Close() error {
	n.lifeMu.Lock()
	if n.closing {
		n.lifeMu.Unlock()
		return nil
	}
	n.closing = true
	cancel, group := n.cancel, n.group
	n.lifeMu.Unlock()

	if cancel != nil {
		cancel()
	}

	var errs []error
	for _, t := range n.transports {
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		}
	}

	if group != nil {
		if err := group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}

	log.Printf("🛑 Node %s stopped", n.config.Username)
	return errors.Join(errs...)
}

// Peers returns every known neighbour
func (n *Node) Peers() []mesh.PeerInfo {
	return n.peers.Peers()
}

// ActivePeers returns the addresses heard from within the liveness window
func (n *Node) ActivePeers() []string {
	return n.peers.ActivePeers()
}

// Transfers returns in-flight transfers, sends first
func (n *Node) Transfers() []transfer.Status {
	return append(n.engine.ActiveSends(), n.engine.ActiveReceives()...)
}

// History returns the newest journaled chat lines
func (n *Node) History(limit int) ([]*storage.ChatRecord, error) {
	if n.journal == nil {
		return nil, nil
	}
	return n.journal.RecentMessages(limit)
}

// TransferHistory returns the newest journaled transfer outcomes
func (n *Node) TransferHistory(limit int) ([]*storage.TransferRecord, error) {
	if n.journal == nil {
		return nil, nil
	}
	return n.journal.RecentTransfers(limit)
}

// Stats returns a snapshot of the node counters
func (n *Node) Stats() Stats {
	names := make([]string, 0, len(n.transports))
	for _, t := range n.transports {
		names = append(names, t.Name())
	}

	n.lifeMu.Lock()
	startedAt := n.startedAt
	n.lifeMu.Unlock()

	return Stats{
		Username:       n.config.Username,
		Fingerprint:    n.config.Fingerprint,
		Transports:     names,
		Router:         n.router.Stats(),
		Received:       n.received.Load(),
		DecodeErrors:   n.decodeErrors.Load(),
		Misaddressed:   n.misaddressed.Load(),
		Sent:           n.sent.Load(),
		SendFailures:   n.sendFailures.Load(),
		Pongs:          n.pongs.Load(),
		KnownPeers:     len(n.peers.Peers()),
		ActivePeers:    len(n.peers.ActivePeers()),
		ActiveReceives: len(n.engine.ActiveReceives()),
		ActiveSends:    len(n.engine.ActiveSends()),
		StartedAt:      startedAt,
	}
}

func (n *Node) setRoute(address string, t transport.Transport) {
	n.routesMu.Lock()
	n.routes[address] = t
	n.routesMu.Unlock()
}

func (n *Node) route(address string) (transport.Transport, bool) {
	n.routesMu.RLock()
	defer n.routesMu.RUnlock()
	t, ok := n.routes[address]
	return t, ok
}

func (n *Node) dropRoute(address string, t transport.Transport) {
	n.routesMu.Lock()
	if n.routes[address] == t {
		delete(n.routes, address)
	}
	n.routesMu.Unlock()
}
