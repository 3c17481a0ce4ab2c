package gateway

import "sync"

// ReplayBuffer is a fixed-size ring of recent envelopes of one channel,
// indexed by channel sequence number. Safe for concurrent use.
type ReplayBuffer struct {
	mu   sync.RWMutex
	seqs []int64
	data [][]byte
	pos  int // next write position
	size int
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = replayPerChannel
	}
	return &ReplayBuffer{
		seqs: make([]int64, capacity),
		data: make([][]byte, capacity),
	}
}

// Push appends an envelope, overwriting the oldest one when full.
// Envelopes are immutable once built, so data is stored without copying.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.seqs[rb.pos] = seq
	rb.data[rb.pos] = data
	rb.pos = (rb.pos + 1) % len(rb.seqs)
	if rb.size < len(rb.seqs) {
		rb.size++
	}
}

// Range returns envelopes with seq in [fromSeq, toSeq], oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) [][]byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out [][]byte
	start := (rb.pos - rb.size + len(rb.seqs)) % len(rb.seqs)
	for i := 0; i < rb.size; i++ {
		idx := (start + i) % len(rb.seqs)
		if s := rb.seqs[idx]; s >= fromSeq && s <= toSeq {
			out = append(out, rb.data[idx])
		}
	}
	return out
}

// Len returns the number of envelopes held.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}
