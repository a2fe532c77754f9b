package fragment

import (
	"sync"
	"time"
)

// DefaultMaxAge is how long a partial frame set is held before it is dropped
const DefaultMaxAge = 30 * time.Second

type setKey struct {
	userID    uint32
	messageID uint16
}

type partialSet struct {
	frames    map[uint8]Frame
	count     uint8
	firstSeen time.Time
}

// Reassembler buffers frames arriving out of order from a radio link and
// hands back each message once its full set has arrived.
// Incomplete sets are never re-requested; Sweep discards them.
type Reassembler struct {
	mu     sync.Mutex
	sets   map[setKey]*partialSet
	maxAge time.Duration
	now    func() time.Time
}

// NewReassembler creates a reassembler. A zero maxAge uses DefaultMaxAge.
func NewReassembler(maxAge time.Duration) *Reassembler {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Reassembler{
		sets:   make(map[setKey]*partialSet),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Add buffers a frame. It returns the message and true when f completes its set.
// A frame whose declared count disagrees with the set it joins discards the set.
func (r *Reassembler) Add(f Frame) ([]byte, bool, error) {
	if f.FragmentCount == 0 || f.FragmentIndex >= f.FragmentCount {
		return nil, false, ErrInvalidFrame
	}

	key := setKey{userID: f.UserID, messageID: f.MessageID}

	r.mu.Lock()
	set, ok := r.sets[key]
	if !ok {
		set = &partialSet{
			frames:    make(map[uint8]Frame, f.FragmentCount),
			count:     f.FragmentCount,
			firstSeen: r.now(),
		}
		r.sets[key] = set
	}

	if set.count != f.FragmentCount {
		delete(r.sets, key)
		r.mu.Unlock()
		return nil, false, ErrMissingFragments
	}

	set.frames[f.FragmentIndex] = f
	if len(set.frames) < int(set.count) {
		r.mu.Unlock()
		return nil, false, nil
	}

	delete(r.sets, key)
	r.mu.Unlock()

	frames := make([]Frame, 0, len(set.frames))
	for _, frame := range set.frames {
		frames = append(frames, frame)
	}

	message, err := Reassemble(frames)
	if err != nil {
		return nil, false, err
	}
	return message, true, nil
}

// Sweep drops partial sets older than the max age and returns how many were dropped
func (r *Reassembler) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.maxAge)
	removed := 0
	for key, set := range r.sets {
		if set.firstSeen.Before(cutoff) {
			delete(r.sets, key)
			removed++
		}
	}
	return removed
}

// Pending returns the number of incomplete sets held
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sets)
}
