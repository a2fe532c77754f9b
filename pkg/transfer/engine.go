// Package transfer moves files across the mesh as a FILE_START, a run of
// paced FILE_CHUNK messages and a FILE_END carrying a checksum.
//
// There is no acknowledgement or retransmission. A receiver that misses a
// chunk, or sees a checksum mismatch, fails the transfer and writes nothing.
package transfer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ZentaChain/echo-node/pkg/protocol"
)

var (
	ErrFileTooLarge       = errors.New("file needs more chunks than a transfer can carry")
	ErrSendFailed         = errors.New("transport refused message")
	ErrUnknownTransfer    = errors.New("unknown transfer")
	ErrChunkOutOfRange    = errors.New("chunk index out of range")
	ErrIncompleteTransfer = errors.New("transfer incomplete")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrCorruptPayload     = errors.New("payload is not valid base64")
	ErrNotFileTransfer    = errors.New("not a file transfer message")
)

// MaxChunks is bounded by the 16-bit chunk count
const MaxChunks = 0xFFFF

// Config holds engine tuning
type Config struct {
	ChunkSize   int           // Encoded bytes per FILE_CHUNK
	ChunkDelay  time.Duration // Pause between chunk sends
	StaleAfter  time.Duration // Receiver state lifetime
	DownloadDir string
}

// DefaultConfig returns the standard transfer settings
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:   512,
		ChunkDelay:  50 * time.Millisecond,
		StaleAfter:  300 * time.Second,
		DownloadDir: "downloads",
	}
}

// Sender delivers one message to one address
type Sender interface {
	SendMessage(msg *protocol.Message, address string) bool
}

// SenderFunc adapts a function to Sender
type SenderFunc func(msg *protocol.Message, address string) bool

func (f SenderFunc) SendMessage(msg *protocol.Message, address string) bool {
	return f(msg, address)
}

// Listener observes transfer progress. Calls are made without engine locks held.
type Listener interface {
	TransferProgress(transferID uint32, received, total int)
	TransferComplete(transferID uint32, filename string, success bool)
}

type nopListener struct{}

func (nopListener) TransferProgress(uint32, int, int)     {}
func (nopListener) TransferComplete(uint32, string, bool) {}

// Direction says which side of a transfer this node is on
type Direction string

const (
	Sending   Direction = "send"
	Receiving Direction = "receive"
)

// Status is a snapshot of one in-flight transfer
type Status struct {
	TransferID uint32    `json:"transfer_id"`
	Direction  Direction `json:"direction"`
	Filename   string    `json:"filename"`
	FileSize   uint32    `json:"file_size"`
	Peer       string    `json:"peer"`
	Done       int       `json:"done"`
	Total      int       `json:"total"`
	StartedAt  time.Time `json:"started_at"`
}

type receiveState struct {
	start     protocol.FileStart
	source    string
	chunks    [][]byte
	received  bitset
	count     int
	startedAt time.Time
}

// Engine runs both sides of the chunked file transfer
type Engine struct {
	config   *Config
	ids      protocol.IDGenerator
	sender   Sender
	sink     Sink
	listener Listener

	receives map[uint32]*receiveState
	sends    map[uint32]*Status
	mu       sync.Mutex

	now func() time.Time
}

// NewEngine creates a transfer engine. A nil sink writes to config.DownloadDir
// and a nil listener discards events.
func NewEngine(config *Config, ids protocol.IDGenerator, sender Sender, sink Sink, listener Listener) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultConfig().ChunkSize
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = DefaultConfig().StaleAfter
	}
	if sink == nil {
		sink = DirSink{Dir: config.DownloadDir}
	}
	if listener == nil {
		listener = nopListener{}
	}

	return &Engine{
		config:   config,
		ids:      ids,
		sender:   sender,
		sink:     sink,
		listener: listener,
		receives: make(map[uint32]*receiveState),
		sends:    make(map[uint32]*Status),
		now:      time.Now,
	}
}

// ===== SEND PATH =====

// StartFileSend reads path and streams it to recipientAddress. It blocks
// until FILE_END is sent, the transport refuses a message, or ctx ends.
func (e *Engine) StartFileSend(ctx context.Context, path, recipientUsername, recipientAddress, senderUsername string) (uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read file: %w", err)
	}

	encoded := []byte(base64.StdEncoding.EncodeToString(data))
	chunks := split(encoded, e.config.ChunkSize)
	if len(chunks) > MaxChunks {
		return 0, fmt.Errorf("%w: %d chunks", ErrFileTooLarge, len(chunks))
	}

	transferID := e.ids.Next()
	filename := filepath.Base(path)
	total := len(chunks)

	status := &Status{
		TransferID: transferID,
		Direction:  Sending,
		Filename:   filename,
		FileSize:   uint32(len(data)),
		Peer:       recipientAddress,
		Total:      total,
		StartedAt:  e.now(),
	}
	e.mu.Lock()
	e.sends[transferID] = status
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.sends, transferID)
		e.mu.Unlock()
	}()

	log.Printf("📤 Sending %s (%d bytes, %d chunks) to %s [transfer %d]",
		filename, len(data), total, recipientUsername, transferID)

	start := &protocol.FileStart{
		TransferID:        transferID,
		Filename:          filename,
		FileSize:          uint32(len(data)),
		TotalChunks:       uint16(total),
		SenderUsername:    senderUsername,
		RecipientUsername: recipientUsername,
	}
	if !e.sender.SendMessage(protocol.NewFileStartMessage(start, e.ids), recipientAddress) {
		e.listener.TransferComplete(transferID, filename, false)
		return transferID, fmt.Errorf("%w: file start", ErrSendFailed)
	}

	for i, chunk := range chunks {
		if i > 0 {
			if err := e.pace(ctx); err != nil {
				e.listener.TransferComplete(transferID, filename, false)
				return transferID, err
			}
		}

		msg := protocol.NewFileChunkMessage(&protocol.FileChunk{
			TransferID: transferID,
			ChunkIndex: uint16(i),
			Data:       chunk,
		}, e.ids)
		if !e.sender.SendMessage(msg, recipientAddress) {
			e.listener.TransferComplete(transferID, filename, false)
			return transferID, fmt.Errorf("%w: chunk %d", ErrSendFailed, i)
		}

		e.mu.Lock()
		status.Done = i + 1
		e.mu.Unlock()
		e.listener.TransferProgress(transferID, i+1, total)
	}

	end := &protocol.FileEnd{
		TransferID:  transferID,
		TotalChunks: uint16(total),
		Checksum:    Checksum(chunks),
	}
	if !e.sender.SendMessage(protocol.NewFileEndMessage(end, e.ids), recipientAddress) {
		e.listener.TransferComplete(transferID, filename, false)
		return transferID, fmt.Errorf("%w: file end", ErrSendFailed)
	}

	log.Printf("✅ Sent %s [transfer %d]", filename, transferID)
	e.listener.TransferComplete(transferID, filename, true)
	return transferID, nil
}

func (e *Engine) pace(ctx context.Context) error {
	if e.config.ChunkDelay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(e.config.ChunkDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func split(data []byte, size int) [][]byte {
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		end := start + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[start:end])
	}
	return chunks
}

// ===== RECEIVE PATH =====

// HandleMessage dispatches a delivered file-transfer message
func (e *Engine) HandleMessage(msg *protocol.Message, source string) error {
	switch msg.Header.Type {
	case protocol.MsgTypeFileStart:
		return e.HandleFileStart(msg, source)
	case protocol.MsgTypeFileChunk:
		return e.HandleFileChunk(msg)
	case protocol.MsgTypeFileEnd:
		return e.HandleFileEnd(msg)
	default:
		return fmt.Errorf("%w: %v", ErrNotFileTransfer, msg.Header.Type)
	}
}

// HandleFileStart allocates receiver state for a new transfer
func (e *Engine) HandleFileStart(msg *protocol.Message, source string) error {
	var start protocol.FileStart
	if err := start.Decode(msg.Payload); err != nil {
		return fmt.Errorf("failed to decode file start: %w", err)
	}

	total := int(start.TotalChunks)
	state := &receiveState{
		start:     start,
		source:    source,
		chunks:    make([][]byte, total),
		received:  newBitset(total),
		startedAt: e.now(),
	}

	e.mu.Lock()
	_, replaced := e.receives[start.TransferID]
	e.receives[start.TransferID] = state
	e.mu.Unlock()

	if replaced {
		log.Printf("⚠️  Transfer %d restarted by %s", start.TransferID, start.SenderUsername)
	}
	log.Printf("📥 Receiving %s (%d bytes, %d chunks) from %s [transfer %d]",
		start.Filename, start.FileSize, total, start.SenderUsername, start.TransferID)

	return nil
}

// HandleFileChunk stores one chunk. Repeated chunks are ignored.
func (e *Engine) HandleFileChunk(msg *protocol.Message) error {
	var chunk protocol.FileChunk
	if err := chunk.Decode(msg.Payload); err != nil {
		return fmt.Errorf("failed to decode file chunk: %w", err)
	}

	e.mu.Lock()
	state, ok := e.receives[chunk.TransferID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownTransfer, chunk.TransferID)
	}

	index := int(chunk.ChunkIndex)
	total := len(state.chunks)
	if index >= total {
		e.mu.Unlock()
		return fmt.Errorf("%w: %d of %d", ErrChunkOutOfRange, index, total)
	}

	if state.received.has(index) {
		e.mu.Unlock()
		return nil
	}

	state.chunks[index] = chunk.Data
	state.received.set(index)
	state.count++
	received := state.count
	e.mu.Unlock()

	e.listener.TransferProgress(chunk.TransferID, received, total)
	return nil
}

// HandleFileEnd verifies and persists a transfer. The receiver state is
// released whatever the outcome.
func (e *Engine) HandleFileEnd(msg *protocol.Message) error {
	var end protocol.FileEnd
	if err := end.Decode(msg.Payload); err != nil {
		return fmt.Errorf("failed to decode file end: %w", err)
	}

	e.mu.Lock()
	state, ok := e.receives[end.TransferID]
	delete(e.receives, end.TransferID)
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTransfer, end.TransferID)
	}

	id := end.TransferID
	filename := state.start.Filename
	total := len(state.chunks)

	if state.count != total || int(end.TotalChunks) != total {
		log.Printf("❌ Transfer %d incomplete: %d/%d chunks", id, state.count, total)
		e.listener.TransferComplete(id, filename, false)
		return fmt.Errorf("%w: %d of %d chunks", ErrIncompleteTransfer, state.count, total)
	}

	if sum := Checksum(state.chunks); sum != end.Checksum {
		log.Printf("❌ Transfer %d checksum mismatch", id)
		e.listener.TransferComplete(id, filename, false)
		return fmt.Errorf("%w: got %#x, declared %#x", ErrChecksumMismatch, sum, end.Checksum)
	}

	size := 0
	for _, c := range state.chunks {
		size += len(c)
	}
	encoded := make([]byte, 0, size)
	for _, c := range state.chunks {
		encoded = append(encoded, c...)
	}

	data := make([]byte, base64.StdEncoding.DecodedLen(len(encoded)))
	n, err := base64.StdEncoding.Decode(data, encoded)
	if err != nil {
		e.listener.TransferComplete(id, filename, false)
		return fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	data = data[:n]

	if uint32(len(data)) != state.start.FileSize {
		log.Printf("⚠️  Transfer %d size %d differs from declared %d", id, len(data), state.start.FileSize)
	}

	path, err := e.sink.Save(filename, data)
	if err != nil {
		e.listener.TransferComplete(id, filename, false)
		return fmt.Errorf("failed to save %s: %w", filename, err)
	}

	log.Printf("✅ Received %s (%d bytes) -> %s", filename, len(data), path)
	e.listener.TransferComplete(id, filename, true)
	return nil
}

// CleanupStaleTransfers drops receiver state older than StaleAfter
func (e *Engine) CleanupStaleTransfers() int {
	e.mu.Lock()
	cutoff := e.now().Add(-e.config.StaleAfter)
	removed := 0
	for id, state := range e.receives {
		if state.startedAt.Before(cutoff) {
			delete(e.receives, id)
			removed++
		}
	}
	e.mu.Unlock()

	if removed > 0 {
		log.Printf("🧹 Dropped %d stale incoming transfers", removed)
	}
	return removed
}

// ActiveReceives returns a snapshot of incoming transfers, ordered by id
func (e *Engine) ActiveReceives() []Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Status, 0, len(e.receives))
	for id, state := range e.receives {
		out = append(out, Status{
			TransferID: id,
			Direction:  Receiving,
			Filename:   state.start.Filename,
			FileSize:   state.start.FileSize,
			Peer:       state.source,
			Done:       state.count,
			Total:      len(state.chunks),
			StartedAt:  state.startedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransferID < out[j].TransferID })
	return out
}

// ActiveSends returns a snapshot of outgoing transfers, ordered by id
func (e *Engine) ActiveSends() []Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Status, 0, len(e.sends))
	for _, status := range e.sends {
		out = append(out, *status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransferID < out[j].TransferID })
	return out
}
