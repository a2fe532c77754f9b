package protocol

import (
	"encoding/binary"
	"fmt"
)

// ===== PAYLOAD CODEC HELPERS =====

// encoder appends big-endian fields to a growing buffer
type encoder struct {
	buf []byte
}

func (e *encoder) uint8(v uint8) {
	e.buf = append(e.buf, v)
}

func (e *encoder) uint16(v uint16) {
	e.buf = binary.BigEndian.AppendUint16(e.buf, v)
}

func (e *encoder) uint32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

func (e *encoder) bool(v bool) {
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}

// bytes writes len:2 followed by the raw bytes. Longer input is cut at 65535.
func (e *encoder) bytes(b []byte) {
	if len(b) > MaxPayloadSize {
		b = b[:MaxPayloadSize]
	}
	e.uint16(uint16(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) string(s string) {
	e.bytes([]byte(s))
}

// decoder reads big-endian fields and remembers the first failure
type decoder struct {
	buf    []byte
	offset int
	err    error
}

func (d *decoder) need(n int, field string) bool {
	if d.err != nil {
		return false
	}
	if d.offset+n > len(d.buf) {
		d.err = fmt.Errorf("%w: %s needs %d bytes at offset %d, have %d",
			ErrTruncated, field, n, d.offset, len(d.buf)-d.offset)
		return false
	}
	return true
}

func (d *decoder) uint8(field string) uint8 {
	if !d.need(1, field) {
		return 0
	}
	v := d.buf[d.offset]
	d.offset++
	return v
}

func (d *decoder) uint16(field string) uint16 {
	if !d.need(2, field) {
		return 0
	}
	v := binary.BigEndian.Uint16(d.buf[d.offset:])
	d.offset += 2
	return v
}

func (d *decoder) uint32(field string) uint32 {
	if !d.need(4, field) {
		return 0
	}
	v := binary.BigEndian.Uint32(d.buf[d.offset:])
	d.offset += 4
	return v
}

func (d *decoder) bool(field string) bool {
	return d.uint8(field) != 0
}

func (d *decoder) bytes(field string) []byte {
	n := int(d.uint16(field + " length"))
	if !d.need(n, field) {
		return nil
	}
	out := make([]byte, n)
	copy(out, d.buf[d.offset:d.offset+n])
	d.offset += n
	return out
}

func (d *decoder) string(field string) string {
	return string(d.bytes(field))
}
