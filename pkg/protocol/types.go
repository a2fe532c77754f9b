package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"sync/atomic"
	"time"
)

// Protocol constants
const (
	// Protocol version carried in every header
	ProtocolVersion uint8 = 1

	// Header size
	HeaderSize = 13

	// DefaultTTL is the hop budget given to locally originated messages
	DefaultTTL uint8 = 7

	// MaxPayloadSize is the ceiling imposed by the 16-bit length field
	MaxPayloadSize = 0xFFFF
)

// MessageType identifies the payload carried by a message
type MessageType uint8

// Message types
const (
	// Discovery & presence
	MsgTypeDiscover MessageType = 0x01
	MsgTypeAnnounce MessageType = 0x02

	// Chat
	MsgTypeText   MessageType = 0x03
	MsgTypeGlobal MessageType = 0x04

	// Control
	MsgTypeAck  MessageType = 0x05
	MsgTypePing MessageType = 0x06
	MsgTypePong MessageType = 0x07

	// Legacy file operations (never emitted, still recognised)
	MsgTypeFileRequest MessageType = 0x08
	MsgTypeFileData    MessageType = 0x09

	// Status & channels
	MsgTypeUserStatus   MessageType = 0x0A
	MsgTypeChannelJoin  MessageType = 0x0B
	MsgTypeChannelLeave MessageType = 0x0C

	// One-to-one chat
	MsgTypePrivate MessageType = 0x0D

	// Chunked file transfer
	MsgTypeFileStart MessageType = 0x0E
	MsgTypeFileChunk MessageType = 0x0F
	MsgTypeFileEnd   MessageType = 0x10
)

var messageTypeNames = map[MessageType]string{
	MsgTypeDiscover:     "DISCOVER",
	MsgTypeAnnounce:     "ANNOUNCE",
	MsgTypeText:         "TEXT_MESSAGE",
	MsgTypeGlobal:       "GLOBAL_MESSAGE",
	MsgTypeAck:          "ACK",
	MsgTypePing:         "PING",
	MsgTypePong:         "PONG",
	MsgTypeFileRequest:  "FILE_REQUEST",
	MsgTypeFileData:     "FILE_DATA",
	MsgTypeUserStatus:   "USER_STATUS",
	MsgTypeChannelJoin:  "CHANNEL_JOIN",
	MsgTypeChannelLeave: "CHANNEL_LEAVE",
	MsgTypePrivate:      "PRIVATE_MESSAGE",
	MsgTypeFileStart:    "FILE_START",
	MsgTypeFileChunk:    "FILE_CHUNK",
	MsgTypeFileEnd:      "FILE_END",
}

// String returns the protocol name of the message type
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsFileTransfer reports whether t belongs to the chunked transfer family
func (t MessageType) IsFileTransfer() bool {
	return t == MsgTypeFileStart || t == MsgTypeFileChunk || t == MsgTypeFileEnd
}

// ===== ID GENERATION =====

// IDGenerator mints 32-bit message and transfer identifiers
type IDGenerator interface {
	Next() uint32
}

// RandomIDs draws identifiers from crypto/rand
type RandomIDs struct{}

// Next returns a random identifier
func (RandomIDs) Next() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// Fall back to the clock rather than handing out zero
		return uint32(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint32(buf[:])
}

// CounterIDs hands out monotonically increasing identifiers
type CounterIDs struct {
	next atomic.Uint32
}

// NewCounterIDs creates a counter whose first identifier is start
func NewCounterIDs(start uint32) *CounterIDs {
	c := &CounterIDs{}
	c.next.Store(start)
	return c
}

// Next returns the next identifier
func (c *CounterIDs) Next() uint32 {
	return c.next.Add(1) - 1
}

// NowUnix returns the current time as 32-bit Unix seconds
func NowUnix() uint32 {
	return uint32(time.Now().Unix())
}
