package protocol

import (
	"fmt"
	"time"
)

// Message represents a complete protocol message
type Message struct {
	Header  Header
	Payload []byte

	// Runtime metadata, never encoded
	SourceAddress string
	RSSI          int16
	ReceivedAt    time.Time
}

// NewMessage creates a new message with a fresh identifier and the default hop budget
func NewMessage(msgType MessageType, payload []byte, ids IDGenerator) *Message {
	return &Message{
		Header: Header{
			Type:      msgType,
			Version:   ProtocolVersion,
			Length:    uint16(len(payload)),
			MessageID: ids.Next(),
			Timestamp: NowUnix(),
			TTL:       DefaultTTL,
		},
		Payload: payload,
	}
}

// Encode encodes header and payload to bytes
func (m *Message) Encode() ([]byte, error) {
	if len(m.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(m.Payload))
	}

	m.Header.Length = uint16(len(m.Payload))

	buf := make([]byte, 0, HeaderSize+len(m.Payload))
	buf = append(buf, m.Header.Encode()...)
	buf = append(buf, m.Payload...)

	return buf, nil
}

// DecodeMessage decodes a message from bytes.
// Bytes beyond the declared payload length are ignored.
func DecodeMessage(buf []byte) (*Message, error) {
	msg := &Message{}
	if err := msg.Header.Decode(buf); err != nil {
		return nil, err
	}

	end := HeaderSize + int(msg.Header.Length)
	if len(buf) < end {
		return nil, fmt.Errorf("%w: header declares %d payload bytes, have %d",
			ErrTruncated, msg.Header.Length, len(buf)-HeaderSize)
	}

	msg.Payload = make([]byte, msg.Header.Length)
	copy(msg.Payload, buf[HeaderSize:end])

	return msg, nil
}

// Clone returns a deep copy with the same runtime metadata
func (m *Message) Clone() *Message {
	c := *m
	c.Payload = append([]byte(nil), m.Payload...)
	return &c
}

// ===== TEXT MESSAGE =====

// TextMessage represents a private or global chat line
type TextMessage struct {
	SenderUsername    string
	SenderFingerprint string
	RecipientUsername string // Empty for global messages
	Content           string
	Timestamp         uint32
	IsGlobal          bool
}

// Encode encodes text message to bytes
func (m *TextMessage) Encode() []byte {
	e := &encoder{}
	e.string(m.SenderUsername)
	e.string(m.SenderFingerprint)
	e.string(m.RecipientUsername)
	e.string(m.Content)
	e.uint32(m.Timestamp)
	e.bool(m.IsGlobal)
	return e.buf
}

// Decode decodes text message from bytes
func (m *TextMessage) Decode(buf []byte) error {
	d := &decoder{buf: buf}
	m.SenderUsername = d.string("sender username")
	m.SenderFingerprint = d.string("sender fingerprint")
	m.RecipientUsername = d.string("recipient username")
	m.Content = d.string("content")
	m.Timestamp = d.uint32("timestamp")
	m.IsGlobal = d.bool("global flag")
	return d.err
}

// NewTextMessage builds a private (or, with isGlobal, a global) chat message
func NewTextMessage(content, senderUsername, senderFingerprint, recipientUsername string, isGlobal bool, ids IDGenerator) *Message {
	text := &TextMessage{
		SenderUsername:    senderUsername,
		SenderFingerprint: senderFingerprint,
		RecipientUsername: recipientUsername,
		Content:           content,
		Timestamp:         NowUnix(),
		IsGlobal:          isGlobal,
	}

	msgType := MsgTypePrivate
	if isGlobal {
		msgType = MsgTypeGlobal
	}

	msg := NewMessage(msgType, text.Encode(), ids)
	msg.Header.Timestamp = text.Timestamp
	return msg
}

// ===== PING / PONG =====

// NewPingMessage builds an empty PING
func NewPingMessage(ids IDGenerator) *Message {
	return NewMessage(MsgTypePing, nil, ids)
}

// NewPongMessage builds an empty PONG
func NewPongMessage(ids IDGenerator) *Message {
	return NewMessage(MsgTypePong, nil, ids)
}
