package logging

import (
	"sync"
	"time"
)

// LogEntry represents a single log line stored in the ring buffer.
type LogEntry struct {
	Seq        uint64         `json:"seq"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// RingBuffer keeps the most recent log lines. Every line gets a sequence
// number that keeps growing after old lines are overwritten, so readers can
// resume with Since.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	next    uint64 // sequence number of the next write
}

// NewRingBuffer creates a buffer holding up to size lines.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &RingBuffer{
		entries: make([]LogEntry, size),
		next:    1,
	}
}

// Write stores entry and returns it with its sequence number set.
func (rb *RingBuffer) Write(entry LogEntry) LogEntry {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	entry.Seq = rb.next
	rb.entries[rb.slot(entry.Seq)] = entry
	rb.next++
	return entry
}

// ReadAll returns all buffered lines, oldest first.
func (rb *RingBuffer) ReadAll() []LogEntry {
	return rb.Since(0)
}

// Since returns the buffered lines with a sequence number above seq, oldest first.
func (rb *RingBuffer) Since(seq uint64) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	first := rb.oldest()
	if seq+1 > first {
		first = seq + 1
	}
	if first >= rb.next {
		return nil
	}

	result := make([]LogEntry, 0, rb.next-first)
	for s := first; s < rb.next; s++ {
		result = append(result, rb.entries[rb.slot(s)])
	}
	return result
}

// Count returns the number of entries in the buffer.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return int(rb.next - rb.oldest())
}

// LastSeq returns the sequence number of the newest line, 0 when empty.
func (rb *RingBuffer) LastSeq() uint64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.next - 1
}

func (rb *RingBuffer) oldest() uint64 {
	size := uint64(len(rb.entries))
	if rb.next-1 <= size {
		return 1
	}
	return rb.next - size
}

func (rb *RingBuffer) slot(seq uint64) int {
	return int((seq - 1) % uint64(len(rb.entries)))
}
