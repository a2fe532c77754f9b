package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/echo-node/pkg/protocol"
)

type recorder struct {
	delivered []*protocol.Message
	sources   []string
	forwarded []*protocol.Message
	excludes  [][]string
}

func (r *recorder) HandleDelivered(msg *protocol.Message, source string) {
	r.delivered = append(r.delivered, msg)
	r.sources = append(r.sources, source)
}

func (r *recorder) HandleForward(msg *protocol.Message, exclude []string) {
	r.forwarded = append(r.forwarded, msg)
	r.excludes = append(r.excludes, exclude)
}

func newMsg(t protocol.MessageType, id uint32, ttl uint8) *protocol.Message {
	msg := protocol.NewMessage(t, []byte("payload"), protocol.NewCounterIDs(id))
	msg.Header.TTL = ttl
	return msg
}

func TestProcessIncomingDedup(t *testing.T) {
	rec := &recorder{}
	router := NewRouter(rec)

	msg := newMsg(protocol.MsgTypeAnnounce, 7, 5)

	assert.Equal(t, Delivered, router.ProcessIncoming(msg, "peer-a"))
	assert.Equal(t, Duplicate, router.ProcessIncoming(msg.Clone(), "peer-b"))

	require.Len(t, rec.delivered, 1)
	assert.Equal(t, "peer-a", rec.sources[0])
	assert.Len(t, rec.forwarded, 1)

	stats := router.Stats()
	assert.Equal(t, uint64(1), stats.Delivered)
	assert.Equal(t, uint64(1), stats.Duplicates)
	assert.Equal(t, 1, stats.SeenCount)
}

func TestProcessIncomingTTL(t *testing.T) {
	tests := []struct {
		name          string
		ttl           uint8
		wantResult    Result
		wantDelivered int
		wantForwarded int
	}{
		{name: "ttl zero expires", ttl: 0, wantResult: Expired},
		{name: "ttl one delivers only", ttl: 1, wantResult: Delivered, wantDelivered: 1},
		{name: "ttl two floods", ttl: 2, wantResult: Delivered, wantDelivered: 1, wantForwarded: 1},
		{name: "default ttl floods", ttl: protocol.DefaultTTL, wantResult: Delivered, wantDelivered: 1, wantForwarded: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			router := NewRouter(rec)

			got := router.ProcessIncoming(newMsg(protocol.MsgTypeAnnounce, 1, tt.ttl), "src")

			assert.Equal(t, tt.wantResult, got)
			assert.Len(t, rec.delivered, tt.wantDelivered)
			assert.Len(t, rec.forwarded, tt.wantForwarded)
		})
	}
}

func TestExpiredMessageStaysSeen(t *testing.T) {
	router := NewRouter(nil)
	msg := newMsg(protocol.MsgTypeAnnounce, 3, 0)

	assert.Equal(t, Expired, router.ProcessIncoming(msg, "a"))

	msg.Header.TTL = 5
	assert.Equal(t, Duplicate, router.ProcessIncoming(msg, "b"))
}

func TestForwardedCopy(t *testing.T) {
	rec := &recorder{}
	router := NewRouter(rec)

	msg := newMsg(protocol.MsgTypeGlobal, 11, 4)
	router.ProcessIncoming(msg, "neighbour")

	require.Len(t, rec.forwarded, 1)
	fwd := rec.forwarded[0]

	assert.Equal(t, uint8(3), fwd.Header.TTL)
	assert.Equal(t, uint8(4), msg.Header.TTL, "original must keep its ttl")
	assert.Equal(t, msg.Header.MessageID, fwd.Header.MessageID)
	assert.Equal(t, msg.Payload, fwd.Payload)
	assert.Equal(t, []string{"neighbour"}, rec.excludes[0])
}

func TestForwardPolicy(t *testing.T) {
	flood := []protocol.MessageType{
		protocol.MsgTypeAnnounce,
		protocol.MsgTypeDiscover,
		protocol.MsgTypeGlobal,
	}
	never := []protocol.MessageType{
		protocol.MsgTypeText,
		protocol.MsgTypePrivate,
		protocol.MsgTypeFileStart,
		protocol.MsgTypeFileChunk,
		protocol.MsgTypeFileEnd,
		protocol.MsgTypePing,
		protocol.MsgTypePong,
		protocol.MsgTypeAck,
	}

	for _, mt := range flood {
		assert.True(t, ShouldForward(mt), "%v should flood", mt)
	}

	for _, mt := range never {
		assert.False(t, ShouldForward(mt), "%v must not flood", mt)

		for _, ttl := range []uint8{2, 7, 255} {
			rec := &recorder{}
			NewRouter(rec).ProcessIncoming(newMsg(mt, 1, ttl), "src")
			assert.Len(t, rec.delivered, 1)
			assert.Empty(t, rec.forwarded, "%v forwarded at ttl %d", mt, ttl)
		}
	}
}

func TestPrepareForRouting(t *testing.T) {
	rec := &recorder{}
	router := NewRouter(rec)

	msg := newMsg(protocol.MsgTypeAnnounce, 99, 0)
	router.PrepareForRouting(msg)
	assert.Equal(t, protocol.DefaultTTL, msg.Header.TTL)

	// our own flood echoing back is not delivered again
	assert.Equal(t, Duplicate, router.ProcessIncoming(msg.Clone(), "echo"))
	assert.Empty(t, rec.delivered)

	kept := newMsg(protocol.MsgTypeAnnounce, 100, 3)
	router.PrepareForRouting(kept)
	assert.Equal(t, uint8(3), kept.Header.TTL)
}

func TestHandlerFuncsNilSafe(t *testing.T) {
	var delivered int
	router := NewRouter(HandlerFuncs{
		Delivered: func(*protocol.Message, string) { delivered++ },
	})

	assert.Equal(t, Delivered, router.ProcessIncoming(newMsg(protocol.MsgTypeAnnounce, 1, 7), "x"))
	assert.Equal(t, 1, delivered)
	assert.Equal(t, uint64(1), router.Stats().Forwarded)
}

func TestHandlerMaySendFromCallback(t *testing.T) {
	var router *Router
	var nested Result

	router = NewRouter(HandlerFuncs{
		Delivered: func(msg *protocol.Message, source string) {
			if msg.Header.MessageID == 1 {
				nested = router.ProcessIncoming(newMsg(protocol.MsgTypeText, 2, 3), "self")
			}
		},
	})

	router.ProcessIncoming(newMsg(protocol.MsgTypeText, 1, 3), "peer")
	assert.Equal(t, Delivered, nested)
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "delivered", Delivered.String())
	assert.Equal(t, "duplicate", Duplicate.String())
	assert.Equal(t, "expired", Expired.String())
	assert.Equal(t, "unknown", Result(42).String())
}
