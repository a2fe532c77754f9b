// Package lan carries mesh traffic over the local network. Nodes find each
// other through UDP presence broadcasts and exchange messages over short-lived
// TCP connections, one length-prefixed frame per connection.
package lan

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/ZentaChain/echo-node/pkg/transport"
)

const (
	// MaxFrameSize is the largest frame a receiver accepts
	MaxFrameSize = 65536

	frameHeaderSize = 4
)

var ErrAlreadyRunning = errors.New("lan transport already running")

// Config holds LAN transport settings
type Config struct {
	Username    string
	Fingerprint string

	// DiscoveryPort receives presence datagrams; 0 disables discovery
	DiscoveryPort int
	// TCPPort accepts frames; 0 picks a free port
	TCPPort int

	BroadcastAddr    string
	AnnounceInterval time.Duration
	PeerTimeout      time.Duration
	DialTimeout      time.Duration
	Verbose          bool
}

// DefaultConfig returns the standard ports and timings
func DefaultConfig() *Config {
	return &Config{
		DiscoveryPort:    48270,
		TCPPort:          48271,
		BroadcastAddr:    "255.255.255.255",
		AnnounceInterval: 2 * time.Second,
		PeerTimeout:      60 * time.Second,
		DialTimeout:      5 * time.Second,
	}
}

type handlerRef struct {
	transport.Handler
}

type lanPeer struct {
	username    string
	fingerprint string
	address     string
	hostPort    string
	lastSeen    time.Time
}

// Transport is the LAN adapter
type Transport struct {
	config *Config

	handler atomic.Pointer[handlerRef]
	verbose atomic.Bool

	listener  net.Listener
	presence  *ipv4.PacketConn
	announcer *net.UDPConn
	tcpPort   int

	peers map[string]*lanPeer // key: username
	conns map[net.Conn]struct{}
	mu    sync.RWMutex

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a LAN transport; nothing is bound until Start
func New(config *Config) *Transport {
	if config == nil {
		config = DefaultConfig()
	}
	t := &Transport{
		config: config,
		peers:  make(map[string]*lanPeer),
		conns:  make(map[net.Conn]struct{}),
	}
	t.SetHandler(nil)
	t.verbose.Store(config.Verbose)
	return t
}

func (t *Transport) Name() string { return "lan" }

func (t *Transport) MaxFrameSize() int { return MaxFrameSize }

func (t *Transport) SetHandler(h transport.Handler) {
	if h == nil {
		h = transport.HandlerFuncs{}
	}
	t.handler.Store(&handlerRef{h})
}

func (t *Transport) getHandler() transport.Handler {
	return t.handler.Load().Handler
}

// SetVerbose toggles per-frame logging
func (t *Transport) SetVerbose(on bool) {
	t.verbose.Store(on)
}

// TCPPort returns the bound stream port, valid after Start
func (t *Transport) TCPPort() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tcpPort
}

// Start binds the sockets and launches the accept, announce and presence loops
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return ErrAlreadyRunning
	}

	listener, err := net.Listen("tcp4", fmt.Sprintf(":%d", t.config.TCPPort))
	if err != nil {
		return fmt.Errorf("failed to listen on tcp %d: %w", t.config.TCPPort, err)
	}
	t.listener = listener
	t.tcpPort = listener.Addr().(*net.TCPAddr).Port

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.running = true

	if t.config.DiscoveryPort > 0 {
		if err := t.bindDiscovery(); err != nil {
			cancel()
			listener.Close()
			t.running = false
			return err
		}

		t.wg.Add(2)
		go t.presenceLoop(ctx)
		go t.announceLoop(ctx)
	}

	t.wg.Add(2)
	go t.acceptLoop()
	go func() {
		defer t.wg.Done()
		<-ctx.Done()
		t.closeSockets()
	}()

	log.Printf("✅ LAN transport listening on tcp %d (discovery port %d)", t.tcpPort, t.config.DiscoveryPort)
	return nil
}

func (t *Transport) bindDiscovery() error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: t.config.DiscoveryPort})
	if err != nil {
		return fmt.Errorf("failed to listen on udp %d: %w", t.config.DiscoveryPort, err)
	}
	t.presence = ipv4.NewPacketConn(conn)
	if err := t.presence.SetControlMessage(ipv4.FlagInterface, true); err != nil && t.verbose.Load() {
		log.Printf("⚠️  Interface info unavailable on presence socket: %v", err)
	}

	announcer, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open announce socket: %w", err)
	}
	// presence never leaves the local segment
	if err := ipv4.NewConn(announcer).SetTTL(1); err != nil {
		log.Printf("⚠️  Could not limit presence TTL: %v", err)
	}
	t.announcer = announcer
	return nil
}

func (t *Transport) closeSockets() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener != nil {
		t.listener.Close()
	}
	if t.presence != nil {
		t.presence.Close()
	}
	if t.announcer != nil {
		t.announcer.Close()
	}
	for conn := range t.conns {
		conn.Close()
	}
}

// Close stops every loop and waits for them to exit
func (t *Transport) Close() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	cancel := t.cancel
	t.mu.Unlock()

	cancel()
	t.wg.Wait()
	log.Println("🛑 LAN transport stopped")
	return nil
}

// ===== DISCOVERY =====

func (t *Transport) announceLoop(ctx context.Context) {
	defer t.wg.Done()

	interval := t.config.AnnounceInterval
	if interval <= 0 {
		interval = DefaultConfig().AnnounceInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.announce()
	for {
		select {
		case <-ticker.C:
			t.announce()
			t.expirePeers()
		case <-ctx.Done():
			return
		}
	}
}

func (t *Transport) announce() {
	p := &Presence{
		Username:    t.config.Username,
		Fingerprint: t.config.Fingerprint,
		TCPPort:     uint16(t.TCPPort()),
	}
	dst := &net.UDPAddr{IP: net.ParseIP(t.config.BroadcastAddr), Port: t.config.DiscoveryPort}
	if _, err := t.announcer.WriteToUDP(p.Encode(), dst); err != nil && t.verbose.Load() {
		log.Printf("⚠️  Presence broadcast failed: %v", err)
	}
}

func (t *Transport) presenceLoop(ctx context.Context) {
	defer t.wg.Done()

	buf := make([]byte, 1024)
	for {
		n, _, src, err := t.presence.ReadFrom(buf)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("⚠️  Presence read error: %v", err)
			}
			return
		}

		udpAddr, ok := src.(*net.UDPAddr)
		if !ok {
			continue
		}
		p, err := DecodePresence(buf[:n])
		if err != nil {
			if t.verbose.Load() {
				log.Printf("⚠️  Bad presence from %s: %v", src, err)
			}
			continue
		}
		t.handlePresence(p, udpAddr.IP)
	}
}

// handlePresence records a sighting; our own broadcasts are ignored
func (t *Transport) handlePresence(p *Presence, ip net.IP) {
	if p.Username == "" || p.Username == t.config.Username {
		return
	}

	address, err := PeerAddress(ip, int(p.TCPPort))
	if err != nil {
		return
	}

	now := time.Now()
	t.mu.Lock()
	peer, known := t.peers[p.Username]
	if !known {
		peer = &lanPeer{username: p.Username}
		t.peers[p.Username] = peer
	}
	moved := known && peer.address != address
	oldAddress := peer.address
	peer.fingerprint = p.Fingerprint
	peer.address = address
	peer.hostPort = net.JoinHostPort(ip.String(), strconv.Itoa(int(p.TCPPort)))
	peer.lastSeen = now
	t.mu.Unlock()

	if !known {
		log.Printf("🔗 Discovered %s at %s", p.Username, address)
	}
	if moved {
		t.getHandler().OnPeerLost(oldAddress)
	}
	t.getHandler().OnPeer(transport.PeerSighting{Address: address, DisplayName: p.Username, LastSeen: now})
}

func (t *Transport) expirePeers() {
	timeout := t.config.PeerTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().PeerTimeout
	}
	cutoff := time.Now().Add(-timeout)

	var lost []string
	t.mu.Lock()
	for name, peer := range t.peers {
		if peer.lastSeen.Before(cutoff) {
			delete(t.peers, name)
			lost = append(lost, peer.address)
		}
	}
	t.mu.Unlock()

	for _, address := range lost {
		log.Printf("🧹 Peer %s went quiet", address)
		t.getHandler().OnPeerLost(address)
	}
}

// ListPeers returns username -> ip:port for every discovered peer
func (t *Transport) ListPeers() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]string, len(t.peers))
	for name, peer := range t.peers {
		out[name] = peer.hostPort
	}
	return out
}

func (t *Transport) peerAddresses() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.peers))
	for _, peer := range t.peers {
		out = append(out, peer.address)
	}
	sort.Strings(out)
	return out
}

// addressForIP maps an inbound connection back to the sender's advertised address
func (t *Transport) addressForIP(ip net.IP) string {
	t.mu.RLock()
	for _, peer := range t.peers {
		host, _, err := net.SplitHostPort(peer.hostPort)
		if err == nil && host == ip.String() {
			t.mu.RUnlock()
			return peer.address
		}
	}
	t.mu.RUnlock()

	address, err := PeerAddress(ip, DefaultConfig().TCPPort)
	if err != nil {
		return ip.String()
	}
	return address
}

// ===== STREAM =====

func (t *Transport) acceptLoop() {
	defer t.wg.Done()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return
		}

		t.mu.Lock()
		if !t.running {
			t.mu.Unlock()
			conn.Close()
			return
		}
		t.conns[conn] = struct{}{}
		t.wg.Add(1)
		t.mu.Unlock()

		go t.handleConnection(conn)
	}
}

// handleConnection reads frames until EOF or a frame length outside 1..MaxFrameSize
func (t *Transport) handleConnection(conn net.Conn) {
	defer t.wg.Done()
	defer func() {
		conn.Close()
		t.mu.Lock()
		delete(t.conns, conn)
		t.mu.Unlock()
	}()

	var from string
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		from = t.addressForIP(tcpAddr.IP)
	} else {
		from = conn.RemoteAddr().String()
	}

	header := make([]byte, frameHeaderSize)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			if err != io.EOF && t.verbose.Load() {
				log.Printf("⚠️  Read error from %s: %v", from, err)
			}
			return
		}

		length := binary.BigEndian.Uint32(header)
		if length == 0 || length > MaxFrameSize {
			log.Printf("⚠️  Dropping connection from %s: frame length %d", from, length)
			return
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}

		if t.verbose.Load() {
			log.Printf("📬 %d bytes from %s", length, from)
		}
		t.getHandler().OnReceive(from, payload)
	}
}

// SendUnicast dials address, writes one frame and hangs up
func (t *Transport) SendUnicast(address string, data []byte) bool {
	if len(data) == 0 || len(data) > MaxFrameSize {
		return false
	}

	hostPort, err := DialAddress(address)
	if err != nil {
		log.Printf("⚠️  Cannot send to %q: %v", address, err)
		return false
	}

	timeout := t.config.DialTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().DialTimeout
	}
	conn, err := net.DialTimeout("tcp4", hostPort, timeout)
	if err != nil {
		if t.verbose.Load() {
			log.Printf("⚠️  Dial %s failed: %v", hostPort, err)
		}
		return false
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(timeout))

	frame := make([]byte, frameHeaderSize, frameHeaderSize+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	frame = append(frame, data...)

	if _, err := conn.Write(frame); err != nil {
		if t.verbose.Load() {
			log.Printf("⚠️  Write to %s failed: %v", hostPort, err)
		}
		return false
	}
	return true
}

// SendBroadcast sends data to every discovered peer
func (t *Transport) SendBroadcast(data []byte) bool {
	sent := false
	for _, address := range t.peerAddresses() {
		if t.SendUnicast(address, data) {
			sent = true
		}
	}
	return sent
}

var _ transport.Transport = (*Transport)(nil)
