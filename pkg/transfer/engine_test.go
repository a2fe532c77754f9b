package transfer

import (
	"bytes"
	"context"
	"encoding/base64"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/echo-node/pkg/protocol"
)

type event struct {
	id       uint32
	filename string
	success  bool
}

type recordingListener struct {
	mu       sync.Mutex
	progress [][2]int
	complete []event
}

func (l *recordingListener) TransferProgress(id uint32, received, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.progress = append(l.progress, [2]int{received, total})
}

func (l *recordingListener) TransferComplete(id uint32, filename string, success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.complete = append(l.complete, event{id, filename, success})
}

// capture collects everything a sending engine emits
type capture struct {
	mu   sync.Mutex
	msgs []*protocol.Message
	addr []string
}

func (c *capture) SendMessage(msg *protocol.Message, address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	// go through the wire so the receiver sees exactly what a peer would
	wire, err := msg.Encode()
	if err != nil {
		return false
	}
	decoded, err := protocol.DecodeMessage(wire)
	if err != nil {
		return false
	}
	c.msgs = append(c.msgs, decoded)
	c.addr = append(c.addr, address)
	return true
}

func testConfig(dir string) *Config {
	cfg := DefaultConfig()
	cfg.ChunkDelay = 0
	cfg.DownloadDir = dir
	return cfg
}

func writeTestFile(t *testing.T, name string, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(data)

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path, data
}

func sendFile(t *testing.T, path string) (*capture, uint32) {
	t.Helper()
	out := &capture{}
	sender := NewEngine(testConfig(t.TempDir()), protocol.NewCounterIDs(1), out, nil, nil)

	id, err := sender.StartFileSend(context.Background(), path, "bob", "addr-bob", "alice")
	require.NoError(t, err)
	return out, id
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestSendChunkCount(t *testing.T) {
	path, data := writeTestFile(t, "report.bin", 10000)
	out, id := sendFile(t, path)

	encodedSize := base64.StdEncoding.EncodedLen(len(data))
	wantChunks := (encodedSize + 511) / 512
	require.Len(t, out.msgs, wantChunks+2)

	first := out.msgs[0]
	assert.Equal(t, protocol.MsgTypeFileStart, first.Header.Type)
	var start protocol.FileStart
	require.NoError(t, start.Decode(first.Payload))
	assert.Equal(t, id, start.TransferID)
	assert.Equal(t, "report.bin", start.Filename)
	assert.Equal(t, uint32(10000), start.FileSize)
	assert.Equal(t, uint16(wantChunks), start.TotalChunks)
	assert.Equal(t, "alice", start.SenderUsername)
	assert.Equal(t, "bob", start.RecipientUsername)

	for i, msg := range out.msgs[1 : wantChunks+1] {
		assert.Equal(t, protocol.MsgTypeFileChunk, msg.Header.Type)
		var chunk protocol.FileChunk
		require.NoError(t, chunk.Decode(msg.Payload))
		assert.Equal(t, uint16(i), chunk.ChunkIndex)
		assert.LessOrEqual(t, len(chunk.Data), 512)
	}

	last := out.msgs[len(out.msgs)-1]
	assert.Equal(t, protocol.MsgTypeFileEnd, last.Header.Type)

	for _, addr := range out.addr {
		assert.Equal(t, "addr-bob", addr)
	}
}

func TestTransferRoundTrip(t *testing.T) {
	path, data := writeTestFile(t, "photo.jpg", 10000)
	out, id := sendFile(t, path)

	dir := t.TempDir()
	listener := &recordingListener{}
	receiver := NewEngine(testConfig(dir), protocol.NewCounterIDs(1), nil, nil, listener)

	for _, msg := range out.msgs {
		require.NoError(t, receiver.HandleMessage(msg, "addr-alice"))
	}

	got, err := os.ReadFile(filepath.Join(dir, "photo.jpg"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got), "received bytes differ")

	require.Len(t, listener.complete, 1)
	assert.Equal(t, event{id, "photo.jpg", true}, listener.complete[0])

	total := len(out.msgs) - 2
	require.Len(t, listener.progress, total)
	assert.Equal(t, [2]int{total, total}, listener.progress[total-1])
	assert.Empty(t, receiver.ActiveReceives())
}

func TestTransferMissingChunkFails(t *testing.T) {
	path, _ := writeTestFile(t, "notes.txt", 10000)
	out, _ := sendFile(t, path)

	for _, skip := range []int{1, len(out.msgs) / 2, len(out.msgs) - 2} {
		dir := t.TempDir()
		listener := &recordingListener{}
		receiver := NewEngine(testConfig(dir), protocol.NewCounterIDs(1), nil, nil, listener)

		var endErr error
		for i, msg := range out.msgs {
			if i == skip {
				continue
			}
			endErr = receiver.HandleMessage(msg, "addr-alice")
		}

		assert.ErrorIs(t, endErr, ErrIncompleteTransfer, "skip %d", skip)
		require.Len(t, listener.complete, 1)
		assert.False(t, listener.complete[0].success)
		assert.Empty(t, dirEntries(t, dir), "no file may be written")
		assert.Empty(t, receiver.ActiveReceives())
	}
}

func TestTransferChecksumMismatchFails(t *testing.T) {
	path, _ := writeTestFile(t, "notes.txt", 10000)
	out, _ := sendFile(t, path)

	last := out.msgs[len(out.msgs)-1]
	var end protocol.FileEnd
	require.NoError(t, end.Decode(last.Payload))
	end.Checksum++
	last.Payload = end.Encode()

	dir := t.TempDir()
	listener := &recordingListener{}
	receiver := NewEngine(testConfig(dir), protocol.NewCounterIDs(1), nil, nil, listener)

	var err error
	for _, msg := range out.msgs {
		err = receiver.HandleMessage(msg, "addr-alice")
	}

	assert.ErrorIs(t, err, ErrChecksumMismatch)
	require.Len(t, listener.complete, 1)
	assert.False(t, listener.complete[0].success)
	assert.Empty(t, dirEntries(t, dir))
}

func TestHandleFileChunkErrors(t *testing.T) {
	receiver := NewEngine(testConfig(t.TempDir()), protocol.NewCounterIDs(1), nil, nil, nil)
	ids := protocol.NewCounterIDs(50)

	orphan := protocol.NewFileChunkMessage(&protocol.FileChunk{TransferID: 9, Data: []byte("QQ==")}, ids)
	assert.ErrorIs(t, receiver.HandleFileChunk(orphan), ErrUnknownTransfer)

	start := protocol.NewFileStartMessage(&protocol.FileStart{TransferID: 9, Filename: "a", TotalChunks: 2}, ids)
	require.NoError(t, receiver.HandleFileStart(start, "src"))

	outOfRange := protocol.NewFileChunkMessage(&protocol.FileChunk{TransferID: 9, ChunkIndex: 2}, ids)
	assert.ErrorIs(t, receiver.HandleFileChunk(outOfRange), ErrChunkOutOfRange)

	ok := protocol.NewFileChunkMessage(&protocol.FileChunk{TransferID: 9, ChunkIndex: 1, Data: []byte("QQ==")}, ids)
	require.NoError(t, receiver.HandleFileChunk(ok))
	require.NoError(t, receiver.HandleFileChunk(ok))

	active := receiver.ActiveReceives()
	require.Len(t, active, 1)
	assert.Equal(t, 1, active[0].Done, "repeated chunk counted once")
	assert.Equal(t, 2, active[0].Total)
	assert.Equal(t, "src", active[0].Peer)

	garbled := &protocol.Message{Header: protocol.Header{Type: protocol.MsgTypeFileChunk}, Payload: []byte{1}}
	assert.ErrorIs(t, receiver.HandleMessage(garbled, "src"), protocol.ErrTruncated)

	text := protocol.NewTextMessage("hi", "a", "f", "b", false, ids)
	assert.ErrorIs(t, receiver.HandleMessage(text, "src"), ErrNotFileTransfer)
}

func TestHandleFileEndUnknown(t *testing.T) {
	receiver := NewEngine(testConfig(t.TempDir()), protocol.NewCounterIDs(1), nil, nil, nil)
	end := protocol.NewFileEndMessage(&protocol.FileEnd{TransferID: 404}, protocol.NewCounterIDs(1))
	assert.ErrorIs(t, receiver.HandleFileEnd(end), ErrUnknownTransfer)
}

func TestCleanupStaleTransfers(t *testing.T) {
	receiver := NewEngine(testConfig(t.TempDir()), protocol.NewCounterIDs(1), nil, nil, nil)
	now := time.Unix(1700000000, 0)
	receiver.now = func() time.Time { return now }
	ids := protocol.NewCounterIDs(1)

	require.NoError(t, receiver.HandleFileStart(
		protocol.NewFileStartMessage(&protocol.FileStart{TransferID: 1, TotalChunks: 3}, ids), "a"))
	now = now.Add(200 * time.Second)
	require.NoError(t, receiver.HandleFileStart(
		protocol.NewFileStartMessage(&protocol.FileStart{TransferID: 2, TotalChunks: 3}, ids), "b"))

	now = now.Add(101 * time.Second)
	assert.Equal(t, 1, receiver.CleanupStaleTransfers())

	active := receiver.ActiveReceives()
	require.Len(t, active, 1)
	assert.Equal(t, uint32(2), active[0].TransferID)
}

func TestEmptyFileTransfer(t *testing.T) {
	path, _ := writeTestFile(t, "empty.txt", 0)
	out, _ := sendFile(t, path)
	require.Len(t, out.msgs, 2)

	dir := t.TempDir()
	receiver := NewEngine(testConfig(dir), protocol.NewCounterIDs(1), nil, nil, nil)
	for _, msg := range out.msgs {
		require.NoError(t, receiver.HandleMessage(msg, "src"))
	}

	info, err := os.Stat(filepath.Join(dir, "empty.txt"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestSendStopsWhenTransportRefuses(t *testing.T) {
	path, _ := writeTestFile(t, "big.bin", 5000)

	sent := 0
	refuseAfterTwo := SenderFunc(func(*protocol.Message, string) bool {
		sent++
		return sent <= 2
	})
	listener := &recordingListener{}
	sender := NewEngine(testConfig(t.TempDir()), protocol.NewCounterIDs(1), refuseAfterTwo, nil, listener)

	_, err := sender.StartFileSend(context.Background(), path, "bob", "addr", "alice")
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.Equal(t, 3, sent)
	require.Len(t, listener.complete, 1)
	assert.False(t, listener.complete[0].success)
	assert.Empty(t, sender.ActiveSends())
}

func TestSendCancelledDuringPacing(t *testing.T) {
	path, _ := writeTestFile(t, "slow.bin", 5000)

	cfg := testConfig(t.TempDir())
	cfg.ChunkDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())

	out := &capture{}
	cancelOnFirstChunk := SenderFunc(func(msg *protocol.Message, addr string) bool {
		if msg.Header.Type == protocol.MsgTypeFileChunk {
			cancel()
		}
		return out.SendMessage(msg, addr)
	})

	sender := NewEngine(cfg, protocol.NewCounterIDs(1), cancelOnFirstChunk, nil, nil)
	_, err := sender.StartFileSend(ctx, path, "bob", "addr", "alice")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, out.msgs, 2, "file start and one chunk")
}

func TestStartFileSendMissingFile(t *testing.T) {
	sender := NewEngine(testConfig(t.TempDir()), protocol.NewCounterIDs(1), &capture{}, nil, nil)
	_, err := sender.StartFileSend(context.Background(), filepath.Join(t.TempDir(), "nope"), "b", "a", "c")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, uint32(0), Checksum(nil))
	assert.Equal(t, uint32('A'+'B'+'C'), Checksum([][]byte{[]byte("AB"), []byte("C")}))

	big := bytes.Repeat([]byte{0xFF}, 1<<17)
	assert.Equal(t, uint32(0xFF*(1<<17)), Checksum([][]byte{big}))
}

func TestDirSinkSanitisesNames(t *testing.T) {
	dir := t.TempDir()
	sink := DirSink{Dir: dir}

	path, err := sink.Save("../../etc/passwd", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "passwd"), path)

	second, err := sink.Save("passwd", []byte("y"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "passwd (1)"), second)

	fallback, err := sink.Save("..", []byte("z"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "received.bin"), fallback)
}
