package lan

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/echo-node/pkg/transport"
)

type recorder struct {
	mu       sync.Mutex
	received map[string][][]byte
	peers    []transport.PeerSighting
	lost     []string
}

func newRecorder() *recorder {
	return &recorder{received: make(map[string][][]byte)}
}

func (r *recorder) OnReceive(address string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received[address] = append(r.received[address], data)
}

func (r *recorder) OnPeer(s transport.PeerSighting) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers = append(r.peers, s)
}

func (r *recorder) OnPeerLost(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lost = append(r.lost, address)
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, frames := range r.received {
		n += len(frames)
	}
	return n
}

func (r *recorder) sightings() []transport.PeerSighting {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transport.PeerSighting(nil), r.peers...)
}

func streamOnlyConfig(name string) *Config {
	cfg := DefaultConfig()
	cfg.Username = name
	cfg.DiscoveryPort = 0
	cfg.TCPPort = 0
	cfg.DialTimeout = time.Second
	return cfg
}

func startTransport(t *testing.T, cfg *Config) (*Transport, *recorder) {
	t.Helper()
	tr := New(cfg)
	rec := newRecorder()
	tr.SetHandler(rec)
	require.NoError(t, tr.Start(context.Background()))
	t.Cleanup(func() { tr.Close() })
	return tr, rec
}

func localAddress(t *testing.T, port int) string {
	t.Helper()
	addr, err := PeerAddress(net.IPv4(127, 0, 0, 1), port)
	require.NoError(t, err)
	return addr
}

func TestPresenceEncodeDecode(t *testing.T) {
	p := &Presence{Username: "SwiftFox", Fingerprint: "ab12cd34", TCPPort: 48271}
	encoded := p.Encode()

	want := []byte{1, 8}
	want = append(want, "SwiftFox"...)
	want = append(want, 8)
	want = append(want, "ab12cd34"...)
	want = append(want, 0xBC, 0x8F)
	assert.Equal(t, want, encoded)

	decoded, err := DecodePresence(encoded)
	require.NoError(t, err)
	assert.Equal(t, p, decoded)
}

func TestDecodePresenceRejectsMalformed(t *testing.T) {
	valid := (&Presence{Username: "a", Fingerprint: "b", TCPPort: 1}).Encode()

	for i := 0; i < len(valid); i++ {
		_, err := DecodePresence(valid[:i])
		assert.ErrorIs(t, err, ErrBadPresence, "prefix %d", i)
	}

	wrongVersion := append([]byte{2}, valid[1:]...)
	_, err := DecodePresence(wrongVersion)
	assert.ErrorIs(t, err, ErrBadPresence)
}

func TestAddresses(t *testing.T) {
	addr, err := PeerAddress(net.ParseIP("192.168.1.20"), 48271)
	require.NoError(t, err)
	assert.Equal(t, "/ip4/192.168.1.20/tcp/48271", addr)

	hostPort, err := DialAddress(addr)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.20:48271", hostPort)

	_, err = PeerAddress(net.ParseIP("fe80::1"), 1)
	assert.ErrorIs(t, err, ErrBadAddress)

	for _, bad := range []string{"", "192.168.1.20:48271", "/ip4/10.0.0.1/udp/9", "/ip4/10.0.0.1"} {
		_, err := DialAddress(bad)
		assert.ErrorIs(t, err, ErrBadAddress, "address %q", bad)
	}
}

func TestStreamRoundTrip(t *testing.T) {
	b, bRec := startTransport(t, streamOnlyConfig("bob"))
	a := New(streamOnlyConfig("alice"))
	target := localAddress(t, b.TCPPort())

	big := make([]byte, MaxFrameSize)
	big[0], big[len(big)-1] = 1, 2

	assert.True(t, a.SendUnicast(target, []byte("hello over tcp")))
	assert.True(t, a.SendUnicast(target, big))
	assert.False(t, a.SendUnicast(target, make([]byte, MaxFrameSize+1)))
	assert.False(t, a.SendUnicast(target, nil))

	require.Eventually(t, func() bool { return bRec.total() == 2 }, 2*time.Second, 10*time.Millisecond)

	bRec.mu.Lock()
	defer bRec.mu.Unlock()
	for from, frames := range bRec.received {
		assert.Equal(t, localAddress(t, DefaultConfig().TCPPort), from)
		assert.Contains(t, frames, []byte("hello over tcp"))
	}
}

func TestSendToUnreachablePeer(t *testing.T) {
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	tr := New(streamOnlyConfig("alice"))
	assert.False(t, tr.SendUnicast(localAddress(t, port), []byte("anyone?")))
	assert.False(t, tr.SendUnicast("not-an-address", []byte("x")))
	assert.False(t, tr.SendBroadcast([]byte("no peers yet")))
}

func TestInvalidFrameLengthClosesConnection(t *testing.T) {
	b, rec := startTransport(t, streamOnlyConfig("bob"))

	for _, length := range []uint32{0, MaxFrameSize + 1} {
		conn, err := net.Dial("tcp4", "127.0.0.1:"+strconv.Itoa(b.TCPPort()))
		require.NoError(t, err)

		header := make([]byte, 4)
		binary.BigEndian.PutUint32(header, length)
		_, err = conn.Write(header)
		require.NoError(t, err)

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err = conn.Read(make([]byte, 1))
		assert.ErrorIs(t, err, io.EOF, "length %d", length)
		conn.Close()
	}

	assert.Zero(t, rec.total())
}

func TestSeveralFramesOnOneConnection(t *testing.T) {
	b, rec := startTransport(t, streamOnlyConfig("bob"))

	conn, err := net.Dial("tcp4", "127.0.0.1:"+strconv.Itoa(b.TCPPort()))
	require.NoError(t, err)
	defer conn.Close()

	for _, msg := range []string{"one", "two", "three"} {
		frame := binary.BigEndian.AppendUint32(nil, uint32(len(msg)))
		frame = append(frame, msg...)
		_, err := conn.Write(frame)
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return rec.total() == 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandlePresence(t *testing.T) {
	tr := New(streamOnlyConfig("alice"))
	rec := newRecorder()
	tr.SetHandler(rec)

	ip := net.ParseIP("10.1.2.3")
	tr.handlePresence(&Presence{Username: "alice", TCPPort: 1}, ip)
	assert.Empty(t, rec.sightings(), "own presence must be ignored")

	tr.handlePresence(&Presence{Username: "bob", Fingerprint: "fp", TCPPort: 5000}, ip)
	tr.handlePresence(&Presence{Username: "bob", Fingerprint: "fp", TCPPort: 5000}, ip)

	sightings := rec.sightings()
	require.Len(t, sightings, 2)
	assert.Equal(t, "/ip4/10.1.2.3/tcp/5000", sightings[0].Address)
	assert.Equal(t, "bob", sightings[0].DisplayName)
	assert.Equal(t, map[string]string{"bob": "10.1.2.3:5000"}, tr.ListPeers())
	assert.Equal(t, "/ip4/10.1.2.3/tcp/5000", tr.addressForIP(ip))

	// a new port retires the old address
	tr.handlePresence(&Presence{Username: "bob", TCPPort: 5001}, ip)
	rec.mu.Lock()
	assert.Equal(t, []string{"/ip4/10.1.2.3/tcp/5000"}, rec.lost)
	rec.mu.Unlock()
}

func TestExpirePeers(t *testing.T) {
	cfg := streamOnlyConfig("alice")
	cfg.PeerTimeout = time.Minute
	tr := New(cfg)
	rec := newRecorder()
	tr.SetHandler(rec)

	tr.handlePresence(&Presence{Username: "bob", TCPPort: 5000}, net.ParseIP("10.0.0.2"))
	tr.handlePresence(&Presence{Username: "carol", TCPPort: 5000}, net.ParseIP("10.0.0.3"))

	tr.mu.Lock()
	tr.peers["bob"].lastSeen = time.Now().Add(-2 * time.Minute)
	tr.mu.Unlock()

	tr.expirePeers()

	assert.Equal(t, map[string]string{"carol": "10.0.0.3:5000"}, tr.ListPeers())
	rec.mu.Lock()
	assert.Equal(t, []string{"/ip4/10.0.0.2/tcp/5000"}, rec.lost)
	rec.mu.Unlock()
}

func TestPresenceOverUDP(t *testing.T) {
	probe, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := probe.LocalAddr().(*net.UDPAddr).Port
	probe.Close()

	cfg := streamOnlyConfig("alice")
	cfg.DiscoveryPort = port
	cfg.BroadcastAddr = "127.0.0.1"
	cfg.AnnounceInterval = time.Hour
	_, rec := startTransport(t, cfg)

	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write((&Presence{Username: "bob", Fingerprint: "f00d", TCPPort: 6000}).Encode())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.sightings()) > 0 }, 2*time.Second, 10*time.Millisecond)

	s := rec.sightings()[0]
	assert.Equal(t, "bob", s.DisplayName)
	assert.Equal(t, "/ip4/127.0.0.1/tcp/6000", s.Address)
}

func TestStartTwice(t *testing.T) {
	tr, _ := startTransport(t, streamOnlyConfig("alice"))
	assert.ErrorIs(t, tr.Start(context.Background()), ErrAlreadyRunning)
	assert.NoError(t, tr.Close())
	assert.NoError(t, tr.Close())
}
