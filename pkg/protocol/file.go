package protocol

// ===== FILE START =====

// FileStart opens a chunked transfer
type FileStart struct {
	TransferID        uint32
	Filename          string
	FileSize          uint32 // Original (unencoded) size in bytes
	TotalChunks       uint16
	SenderUsername    string
	RecipientUsername string
}

// Encode encodes file start to bytes
func (m *FileStart) Encode() []byte {
	e := &encoder{}
	e.uint32(m.TransferID)
	e.string(m.Filename)
	e.uint32(m.FileSize)
	e.uint16(m.TotalChunks)
	e.string(m.SenderUsername)
	e.string(m.RecipientUsername)
	return e.buf
}

// Decode decodes file start from bytes
func (m *FileStart) Decode(buf []byte) error {
	d := &decoder{buf: buf}
	m.TransferID = d.uint32("transfer id")
	m.Filename = d.string("filename")
	m.FileSize = d.uint32("file size")
	m.TotalChunks = d.uint16("total chunks")
	m.SenderUsername = d.string("sender username")
	m.RecipientUsername = d.string("recipient username")
	return d.err
}

// ===== FILE CHUNK =====

// FileChunk carries one slice of the encoded file
type FileChunk struct {
	TransferID uint32
	ChunkIndex uint16
	Data       []byte
}

// Encode encodes file chunk to bytes
func (m *FileChunk) Encode() []byte {
	e := &encoder{buf: make([]byte, 0, 4+2+2+len(m.Data))}
	e.uint32(m.TransferID)
	e.uint16(m.ChunkIndex)
	e.bytes(m.Data)
	return e.buf
}

// Decode decodes file chunk from bytes
func (m *FileChunk) Decode(buf []byte) error {
	d := &decoder{buf: buf}
	m.TransferID = d.uint32("transfer id")
	m.ChunkIndex = d.uint16("chunk index")
	m.Data = d.bytes("chunk data")
	return d.err
}

// ===== FILE END =====

// FileEnd closes a transfer and declares its checksum
type FileEnd struct {
	TransferID  uint32
	TotalChunks uint16
	Checksum    uint32
}

// Encode encodes file end to bytes
func (m *FileEnd) Encode() []byte {
	e := &encoder{buf: make([]byte, 0, 10)}
	e.uint32(m.TransferID)
	e.uint16(m.TotalChunks)
	e.uint32(m.Checksum)
	return e.buf
}

// Decode decodes file end from bytes
func (m *FileEnd) Decode(buf []byte) error {
	d := &decoder{buf: buf}
	m.TransferID = d.uint32("transfer id")
	m.TotalChunks = d.uint16("total chunks")
	m.Checksum = d.uint32("checksum")
	return d.err
}

// ===== CONSTRUCTORS =====

// NewFileStartMessage wraps a FileStart in a point-to-point message
func NewFileStartMessage(start *FileStart, ids IDGenerator) *Message {
	return NewMessage(MsgTypeFileStart, start.Encode(), ids)
}

// NewFileChunkMessage wraps a FileChunk in a point-to-point message
func NewFileChunkMessage(chunk *FileChunk, ids IDGenerator) *Message {
	return NewMessage(MsgTypeFileChunk, chunk.Encode(), ids)
}

// NewFileEndMessage wraps a FileEnd in a point-to-point message
func NewFileEndMessage(end *FileEnd, ids IDGenerator) *Message {
	return NewMessage(MsgTypeFileEnd, end.Encode(), ids)
}
