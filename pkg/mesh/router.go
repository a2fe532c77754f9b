package mesh

import (
	"sync/atomic"

	"github.com/ZentaChain/echo-node/pkg/protocol"
)

// Result is the outcome of processing an incoming message
type Result int

const (
	Delivered Result = iota
	Duplicate
	Expired
)

func (r Result) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case Duplicate:
		return "duplicate"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Handler receives the router's decisions. The router never holds a lock
// while calling it, so implementations may send from inside a callback.
type Handler interface {
	// HandleDelivered passes a newly seen message up to the application
	HandleDelivered(msg *protocol.Message, source string)

	// HandleForward asks for msg to be sent to every peer not in exclude
	HandleForward(msg *protocol.Message, exclude []string)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Delivered func(msg *protocol.Message, source string)
	Forward   func(msg *protocol.Message, exclude []string)
}

func (h HandlerFuncs) HandleDelivered(msg *protocol.Message, source string) {
	if h.Delivered != nil {
		h.Delivered(msg, source)
	}
}

func (h HandlerFuncs) HandleForward(msg *protocol.Message, exclude []string) {
	if h.Forward != nil {
		h.Forward(msg, exclude)
	}
}

// floodTypes is the fixed forwarding table. Anything absent is point-to-point.
var floodTypes = map[protocol.MessageType]bool{
	protocol.MsgTypeAnnounce: true,
	protocol.MsgTypeDiscover: true,
	protocol.MsgTypeGlobal:   true,
}

// ShouldForward reports whether messages of type t are re-broadcast
func ShouldForward(t protocol.MessageType) bool {
	return floodTypes[t]
}

// RouterStats is a point-in-time copy of the router counters
type RouterStats struct {
	Delivered  uint64 `json:"delivered"`
	Duplicates uint64 `json:"duplicates"`
	Expired    uint64 `json:"expired"`
	Forwarded  uint64 `json:"forwarded"`
	SeenCount  int    `json:"seen_count"`
}

// Router deduplicates incoming messages and floods the eligible ones
type Router struct {
	seen    *SeenTable
	handler Handler

	delivered  atomic.Uint64
	duplicates atomic.Uint64
	expired    atomic.Uint64
	forwarded  atomic.Uint64
}

// NewRouter creates a router with the default dedup window
func NewRouter(handler Handler) *Router {
	return NewRouterWithTable(NewSeenTable(MaxSeenMessages, MaxSeenAge), handler)
}

// NewRouterWithTable creates a router over an existing seen table
func NewRouterWithTable(seen *SeenTable, handler Handler) *Router {
	if handler == nil {
		handler = HandlerFuncs{}
	}
	return &Router{seen: seen, handler: handler}
}

// ProcessIncoming runs msg through dedup, expiry, delivery and forwarding
func (r *Router) ProcessIncoming(msg *protocol.Message, source string) Result {
	if !r.seen.MarkSeen(msg.Header.MessageID, source) {
		r.duplicates.Add(1)
		return Duplicate
	}

	if msg.Header.TTL == 0 {
		r.expired.Add(1)
		return Expired
	}

	r.delivered.Add(1)
	r.handler.HandleDelivered(msg, source)

	if msg.Header.TTL > 1 && ShouldForward(msg.Header.Type) {
		fwd := msg.Clone()
		fwd.Header.TTL--
		r.forwarded.Add(1)
		r.handler.HandleForward(fwd, []string{source})
	}

	return Delivered
}

// PrepareForRouting readies a locally originated message: a zero TTL gets
// the default budget and the id is marked seen so floods of it echoing back
// are dropped as duplicates.
func (r *Router) PrepareForRouting(msg *protocol.Message) {
	if msg.Header.TTL == 0 {
		msg.Header.TTL = protocol.DefaultTTL
	}
	r.seen.MarkSeen(msg.Header.MessageID, "")
}

// CleanupOldMessages runs the seen-table maintenance sweep
func (r *Router) CleanupOldMessages() int {
	return r.seen.Cleanup()
}

// Stats returns the router counters
func (r *Router) Stats() RouterStats {
	return RouterStats{
		Delivered:  r.delivered.Load(),
		Duplicates: r.duplicates.Load(),
		Expired:    r.expired.Load(),
		Forwarded:  r.forwarded.Load(),
		SeenCount:  r.seen.Len(),
	}
}
