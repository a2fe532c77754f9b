package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/echo-node/pkg/transport"
)

type inbox struct {
	mu     sync.Mutex
	frames map[string][]string
	peers  []string
	lost   []string
}

func newInbox() *inbox {
	return &inbox{frames: make(map[string][]string)}
}

func (in *inbox) OnReceive(address string, data []byte) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.frames[address] = append(in.frames[address], string(data))
}

func (in *inbox) OnPeer(s transport.PeerSighting) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.peers = append(in.peers, s.DisplayName)
}

func (in *inbox) OnPeerLost(address string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.lost = append(in.lost, address)
}

func (in *inbox) count(from string) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.frames[from])
}

func startEndpoint(t *testing.T, hub *Hub, addr, name string, maxFrame int) (*Endpoint, *inbox) {
	t.Helper()
	e := hub.Endpoint(addr, name, maxFrame)
	in := newInbox()
	e.SetHandler(in)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { e.Close() })
	return e, in
}

func TestUnicastAndBroadcast(t *testing.T) {
	hub := NewHub()
	a, inA := startEndpoint(t, hub, "a", "Alice", 0)
	_, inB := startEndpoint(t, hub, "b", "Bob", 0)
	_, inC := startEndpoint(t, hub, "c", "Carol", 0)

	assert.True(t, a.SendUnicast("b", []byte("hi bob")))
	assert.False(t, a.SendUnicast("nobody", []byte("x")))
	assert.True(t, a.SendBroadcast([]byte("hi all")))

	assert.Eventually(t, func() bool { return inB.count("a") == 2 && inC.count("a") == 1 },
		time.Second, 5*time.Millisecond)
	assert.Zero(t, inA.count("a"), "broadcast must not loop back")

	inB.mu.Lock()
	assert.Equal(t, []string{"hi bob", "hi all"}, inB.frames["a"])
	inB.mu.Unlock()
}

func TestStartIntroducesPeers(t *testing.T) {
	hub := NewHub()
	_, inA := startEndpoint(t, hub, "a", "Alice", 0)
	b, inB := startEndpoint(t, hub, "b", "Bob", 0)

	inA.mu.Lock()
	assert.Equal(t, []string{"Bob"}, inA.peers)
	inA.mu.Unlock()
	inB.mu.Lock()
	assert.Equal(t, []string{"Alice"}, inB.peers)
	inB.mu.Unlock()

	require.NoError(t, b.Close())
	inA.mu.Lock()
	assert.Equal(t, []string{"b"}, inA.lost)
	inA.mu.Unlock()

	assert.ErrorIs(t, b.Start(context.Background()), ErrAlreadyStarted)
}

func TestMaxFrameSize(t *testing.T) {
	hub := NewHub()
	a, _ := startEndpoint(t, hub, "a", "A", 31)
	startEndpoint(t, hub, "b", "B", 31)

	assert.Equal(t, 31, a.MaxFrameSize())
	assert.True(t, a.SendUnicast("b", make([]byte, 31)))
	assert.False(t, a.SendUnicast("b", make([]byte, 32)))
	assert.False(t, a.SendBroadcast(make([]byte, 32)))
}

func TestSendToClosedEndpoint(t *testing.T) {
	hub := NewHub()
	a, _ := startEndpoint(t, hub, "a", "A", 0)
	b, _ := startEndpoint(t, hub, "b", "B", 0)

	require.NoError(t, b.Close())
	assert.False(t, a.SendUnicast("b", []byte("late")))
	assert.False(t, a.SendBroadcast([]byte("anyone?")))
}
