package protocol

import (
	"sync"
	"testing"
)

func TestRandomIDsUniqueness(t *testing.T) {
	ids := make(map[uint32]bool)
	gen := RandomIDs{}
	count := 1000

	for i := 0; i < count; i++ {
		ids[gen.Next()] = true
	}

	// 1000 draws from 2^32 collide with probability ~1e-4
	if len(ids) < count-1 {
		t.Errorf("RandomIDs uniqueness failed: got %d unique IDs, want ~%d", len(ids), count)
	}
}

func TestCounterIDsMonotonic(t *testing.T) {
	gen := NewCounterIDs(10)

	for want := uint32(10); want < 20; want++ {
		if got := gen.Next(); got != want {
			t.Fatalf("Next() = %d, want %d", got, want)
		}
	}
}

func TestCounterIDsConcurrent(t *testing.T) {
	gen := NewCounterIDs(0)

	var mu sync.Mutex
	seen := make(map[uint32]bool)
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := gen.Next()
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 800 {
		t.Errorf("got %d ids, want 800", len(seen))
	}
}

func TestMessageTypeString(t *testing.T) {
	tests := []struct {
		msgType MessageType
		want    string
	}{
		{MsgTypeAnnounce, "ANNOUNCE"},
		{MsgTypePrivate, "PRIVATE_MESSAGE"},
		{MsgTypeFileChunk, "FILE_CHUNK"},
		{MessageType(0xEE), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.msgType.String(); got != tt.want {
			t.Errorf("%#x.String() = %q, want %q", uint8(tt.msgType), got, tt.want)
		}
	}
}

func TestIsFileTransfer(t *testing.T) {
	for _, mt := range []MessageType{MsgTypeFileStart, MsgTypeFileChunk, MsgTypeFileEnd} {
		if !mt.IsFileTransfer() {
			t.Errorf("%v.IsFileTransfer() = false", mt)
		}
	}
	for _, mt := range []MessageType{MsgTypeFileRequest, MsgTypeFileData, MsgTypeText, MsgTypeAnnounce} {
		if mt.IsFileTransfer() {
			t.Errorf("%v.IsFileTransfer() = true", mt)
		}
	}
}
