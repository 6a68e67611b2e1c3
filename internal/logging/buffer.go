package logging

import (
	"sync"
	"time"
)

// LogEntry represents a single log line stored in the ring buffer.
type LogEntry struct {
	// Seq increases by one per entry written to a buffer, starting at 1.
	Seq        uint64         `json:"seq"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// RingBuffer keeps the most recent entries and numbers every entry it
// accepts, so readers can resume after the last sequence they saw.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	next    int // slot the next entry is written to
	seq     uint64
}

// NewRingBuffer creates a buffer holding at most size entries.
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{entries: make([]LogEntry, 0, size)}
}

// Write stores entry, overwriting the oldest one when full, and returns it
// with its sequence number set.
func (rb *RingBuffer) Write(entry LogEntry) LogEntry {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.seq++
	entry.Seq = rb.seq
	if len(rb.entries) < cap(rb.entries) {
		rb.entries = append(rb.entries, entry)
	} else {
		rb.entries[rb.next] = entry
	}
	rb.next = (rb.next + 1) % cap(rb.entries)
	return entry
}

// ReadAll returns all entries, oldest first.
func (rb *RingBuffer) ReadAll() []LogEntry {
	return rb.Since(0)
}

// Since returns the entries with a sequence number above seq, oldest first.
func (rb *RingBuffer) Since(seq uint64) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	n := len(rb.entries)
	if n == 0 {
		return nil
	}
	start := 0
	if n == cap(rb.entries) {
		start = rb.next
	}

	var out []LogEntry
	for i := 0; i < n; i++ {
		e := rb.entries[(start+i)%n]
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// Count returns the number of entries in the buffer.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return len(rb.entries)
}

// LastSeq returns the sequence number of the newest entry, or zero.
func (rb *RingBuffer) LastSeq() uint64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.seq
}
