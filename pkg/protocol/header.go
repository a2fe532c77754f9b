package protocol

import (
	"encoding/binary"
	"errors"
)

var (
	ErrInvalidHeader   = errors.New("invalid header")
	ErrInvalidVersion  = errors.New("unsupported protocol version")
	ErrTruncated       = errors.New("truncated payload")
	ErrPayloadTooLarge = errors.New("payload exceeds 65535 bytes")
)

// Header represents the protocol message header
type Header struct {
	Type      MessageType // Message type
	Version   uint8       // Protocol version
	Length    uint16      // Payload length
	MessageID uint32      // Random message identifier
	Timestamp uint32      // Unix seconds at origin
	TTL       uint8       // Hops remaining
}

// Encode encodes the header to bytes
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)

	buf[0] = byte(h.Type)
	buf[1] = h.Version
	binary.BigEndian.PutUint16(buf[2:4], h.Length)
	binary.BigEndian.PutUint32(buf[4:8], h.MessageID)
	binary.BigEndian.PutUint32(buf[8:12], h.Timestamp)
	buf[12] = h.TTL

	return buf
}

// Decode decodes the header from bytes
func (h *Header) Decode(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrInvalidHeader
	}

	h.Type = MessageType(buf[0])
	h.Version = buf[1]
	h.Length = binary.BigEndian.Uint16(buf[2:4])
	h.MessageID = binary.BigEndian.Uint32(buf[4:8])
	h.Timestamp = binary.BigEndian.Uint32(buf[8:12])
	h.TTL = buf[12]

	return nil
}

// Validate validates the header
func (h *Header) Validate() error {
	if h.Version != ProtocolVersion {
		return ErrInvalidVersion
	}
	return nil
}
