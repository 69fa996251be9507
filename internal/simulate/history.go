package simulate

import "sync"

// DefaultHistorySize is the number of bundles kept by NewHistoryBuffer(0).
const DefaultHistorySize = 48

// HistoryBuffer is a bounded FIFO of recent predictions. It is owned by the
// caller and handed to a Model, so tests can seed and inspect it.
type HistoryBuffer struct {
	mu    sync.Mutex
	size  int
	items []Bundle
}

// NewHistoryBuffer returns an empty buffer holding at most size bundles.
// A size <= 0 uses DefaultHistorySize.
func NewHistoryBuffer(size int) *HistoryBuffer {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &HistoryBuffer{size: size, items: make([]Bundle, 0, size)}
}

// Push appends b and evicts the oldest entries over the bound.
func (h *HistoryBuffer) Push(b Bundle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, b)
	if over := len(h.items) - h.size; over > 0 {
		h.items = append(h.items[:0], h.items[over:]...)
	}
}

// Recent returns up to n of the newest bundles, oldest first.
func (h *HistoryBuffer) Recent(n int) []Bundle {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n > len(h.items) {
		n = len(h.items)
	}
	out := make([]Bundle, n)
	copy(out, h.items[len(h.items)-n:])
	return out
}

// Snapshot returns a copy of every buffered bundle, oldest first.
func (h *HistoryBuffer) Snapshot() []Bundle {
	return h.Recent(h.Cap())
}

func (h *HistoryBuffer) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

func (h *HistoryBuffer) Cap() int {
	return h.size
}
