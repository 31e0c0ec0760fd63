package ppdbg

import (
	"sync"
	"time"
)

// Entry is one inbound message as recorded in the history.
type Entry struct {
	Topic    string
	Payload  Message
	Received time.Time
	// Resolved is set when the message completed a pending request.
	Resolved bool
}

// RingBuffer keeps the most recent inbound messages. Unlike the loop-owned
// tables it is safe for concurrent use, so Recent can be called from anywhere.
type RingBuffer struct {
	mu   sync.RWMutex
	data []Entry
	size int
	next int
	full bool
}

func NewRingBuffer(size int) *RingBuffer {
	if size < 0 {
		size = 0
	}
	return &RingBuffer{
		data: make([]Entry, size),
		size: size,
	}
}

func (r *RingBuffer) Add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == 0 {
		return
	}
	r.data[r.next] = e
	r.next = (r.next + 1) % r.size
	if r.next == 0 {
		r.full = true
	}
}

// LastN returns up to n entries, oldest first.
func (r *RingBuffer) LastN(n int) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || r.size == 0 {
		return nil
	}
	count := r.next
	if r.full {
		count = r.size
	}
	if n > count {
		n = count
	}
	out := make([]Entry, 0, n)
	start := (r.next - n + r.size) % r.size
	for i := 0; i < n; i++ {
		out = append(out, r.data[(start+i)%r.size])
	}
	return out
}

// Len is the number of entries currently held.
func (r *RingBuffer) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return r.size
	}
	return r.next
}
