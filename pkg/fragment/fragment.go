// Package fragment splits messages into frames small enough for a 31-byte
// radio advertisement and puts them back together on the other side.
package fragment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
)

const (
	// FrameHeaderSize is type + userID + messageID + count + index
	FrameHeaderSize = 9

	// MaxPayloadSize is the payload carried by a single frame
	MaxPayloadSize = 22

	// MaxFrameSize is the advertisement ceiling of the radio link
	MaxFrameSize = FrameHeaderSize + MaxPayloadSize

	// MaxFragments is bounded by the 1-byte fragment count
	MaxFragments = 255

	// MaxMessageSize is the largest message that fits in MaxFragments frames
	MaxMessageSize = MaxPayloadSize * MaxFragments
)

var (
	ErrMessageTooLarge  = errors.New("message too large to fragment")
	ErrTooManyFragments = errors.New("too many fragments required")
	ErrMissingFragments = errors.New("missing fragments")
	ErrInvalidFrame     = errors.New("invalid frame")
)

// FrameType identifies what a frame carries
type FrameType uint8

// Frame types
const (
	FrameTypeText         FrameType = 0x01
	FrameTypeAnnouncement FrameType = 0x02
	FrameTypeAck          FrameType = 0x03
)

// Frame is one radio-sized slice of a larger message
type Frame struct {
	Type          FrameType
	UserID        uint32 // FNV-1a hash of the sender's username
	MessageID     uint16 // Rolling per-sender counter
	FragmentCount uint8
	FragmentIndex uint8
	Payload       []byte // At most MaxPayloadSize bytes
}

// Encode encodes the frame to at most MaxFrameSize bytes
func (f *Frame) Encode() []byte {
	buf := make([]byte, FrameHeaderSize, FrameHeaderSize+len(f.Payload))

	buf[0] = byte(f.Type)
	binary.BigEndian.PutUint32(buf[1:5], f.UserID)
	binary.BigEndian.PutUint16(buf[5:7], f.MessageID)
	buf[7] = f.FragmentCount
	buf[8] = f.FragmentIndex

	return append(buf, f.Payload...)
}

// DecodeFrame decodes a frame from bytes
func DecodeFrame(buf []byte) (*Frame, error) {
	if len(buf) < FrameHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrInvalidFrame, len(buf), FrameHeaderSize)
	}
	if len(buf) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidFrame, len(buf), MaxFrameSize)
	}

	f := &Frame{
		Type:          FrameType(buf[0]),
		UserID:        binary.BigEndian.Uint32(buf[1:5]),
		MessageID:     binary.BigEndian.Uint16(buf[5:7]),
		FragmentCount: buf[7],
		FragmentIndex: buf[8],
	}
	f.Payload = append([]byte(nil), buf[FrameHeaderSize:]...)

	return f, nil
}

// HashUsername returns the 32-bit FNV-1a hash used as a frame's user ID
func HashUsername(username string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(username))
	return h.Sum32()
}

// Fragment splits message into ordered frames of at most MaxPayloadSize bytes
func Fragment(message []byte, username string, messageID uint16) ([]Frame, error) {
	if len(message) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrMessageTooLarge, len(message), MaxMessageSize)
	}

	total := (len(message) + MaxPayloadSize - 1) / MaxPayloadSize
	if total > MaxFragments {
		return nil, fmt.Errorf("%w: %d", ErrTooManyFragments, total)
	}

	userID := HashUsername(username)
	frames := make([]Frame, 0, total)

	for i := 0; i < total; i++ {
		start := i * MaxPayloadSize
		end := start + MaxPayloadSize
		if end > len(message) {
			end = len(message)
		}

		frames = append(frames, Frame{
			Type:          FrameTypeText,
			UserID:        userID,
			MessageID:     messageID,
			FragmentCount: uint8(total),
			FragmentIndex: uint8(i),
			Payload:       append([]byte(nil), message[start:end]...),
		})
	}

	return frames, nil
}

// Reassemble concatenates a complete frame set in index order.
// The set must hold exactly indexes 0..count-1 of one message.
func Reassemble(frames []Frame) ([]byte, error) {
	if len(frames) == 0 {
		return []byte{}, nil
	}

	sorted := make([]Frame, len(frames))
	copy(sorted, frames)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].FragmentIndex < sorted[j].FragmentIndex
	})

	first := sorted[0]
	if len(sorted) != int(first.FragmentCount) {
		return nil, fmt.Errorf("%w: have %d of %d", ErrMissingFragments, len(sorted), first.FragmentCount)
	}

	size := 0
	for i, f := range sorted {
		if f.FragmentCount != first.FragmentCount || f.UserID != first.UserID || f.MessageID != first.MessageID {
			return nil, fmt.Errorf("%w: frame %d belongs to a different message", ErrMissingFragments, f.FragmentIndex)
		}
		if int(f.FragmentIndex) != i {
			return nil, fmt.Errorf("%w: index %d missing", ErrMissingFragments, i)
		}
		size += len(f.Payload)
	}

	message := make([]byte, 0, size)
	for _, f := range sorted {
		message = append(message, f.Payload...)
	}

	return message, nil
}
