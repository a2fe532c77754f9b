// Package protocol implements the echo mesh wire protocol.
//
// The protocol package defines the message header, the typed payloads and
// their binary encodings. It is shared by every transport: the payload-limited
// radio link (via package fragment) and the local-network link.
//
// # Header Format
//
// Every message starts with a 13-byte header, integers big-endian:
//   - Type (1 byte): Message type
//   - Version (1 byte): Protocol version (1)
//   - Length (2 bytes): Payload length, which caps a payload at 65535 bytes
//   - MessageID (4 bytes): Random identifier used for mesh deduplication
//   - Timestamp (4 bytes): Unix seconds at origin
//   - TTL (1 byte): Hop budget, 7 by default, decremented on every relay
//
// # Message Types
//
// Discovery (flooded):
//   - Discover, Announce
//
// Chat:
//   - Global: flooded to the whole mesh
//   - Private/Text: point-to-point only
//
// Control:
//   - Ack, Ping, Pong, UserStatus, ChannelJoin, ChannelLeave
//
// File transfer (point-to-point only):
//   - FileStart, FileChunk, FileEnd
//
// # Payload Encoding
//
// Payloads use a fixed field order:
//   - Strings and byte blobs are prefixed with a 2-byte length
//   - Integers use fixed widths
//   - Booleans are a single 0/1 byte
//
// Decoding never panics: a length field that runs past the buffer yields an
// error wrapping ErrTruncated.
//
// # Usage Example
//
//	ids := protocol.RandomIDs{}
//	msg := protocol.NewTextMessage("hi", "alice", fp, "bob", false, ids)
//
//	// Encode to bytes
//	wire, err := msg.Encode()
//
//	// ...and back
//	decoded, err := protocol.DecodeMessage(wire)
//	var text protocol.TextMessage
//	err = text.Decode(decoded.Payload)
package protocol
