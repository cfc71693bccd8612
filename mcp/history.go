package mcp

import (
	"sync"
	"time"
)

// DefaultHistoryCapacity bounds the call-history ring buffer.
const DefaultHistoryCapacity = 100

// ToolCallRecord is one append-only entry describing the final outcome of a
// CallTool invocation (after all retries).
type ToolCallRecord struct {
	ServerID  string
	ToolName  string
	Arguments map[string]any
	Result    string
	Error     string
	Success   bool
	Duration  time.Duration
	Timestamp time.Time
}

// CallHistory is a fixed-capacity ring buffer of ToolCallRecords. Appends
// are O(1) and never block; the oldest record is dropped first.
type CallHistory struct {
	mu    sync.Mutex
	buf   []ToolCallRecord
	start int
	count int
}

// NewCallHistory creates a history with the given capacity. A non-positive
// capacity falls back to DefaultHistoryCapacity.
func NewCallHistory(capacity int) *CallHistory {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &CallHistory{buf: make([]ToolCallRecord, capacity)}
}

// Append adds a record, evicting the oldest when full.
func (h *CallHistory) Append(rec ToolCallRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count < len(h.buf) {
		h.buf[(h.start+h.count)%len(h.buf)] = rec
		h.count++
		return
	}
	h.buf[h.start] = rec
	h.start = (h.start + 1) % len(h.buf)
}

// Records returns a snapshot in chronological order.
func (h *CallHistory) Records() []ToolCallRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]ToolCallRecord, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Len returns the number of stored records.
func (h *CallHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}
