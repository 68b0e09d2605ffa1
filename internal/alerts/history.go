package alerts

import "sync"

// DefaultHistorySize is the number of alerts retained when no capacity is given.
const DefaultHistorySize = 100

// History is an append-only, capacity-bounded log of fired alerts.
// When full, the oldest alerts are evicted first.
//
// History is safe for concurrent use.
type History struct {
	mu       sync.RWMutex
	capacity int
	alerts   []Alert
}

// NewHistory creates a History holding at most capacity alerts.
// A non-positive capacity selects DefaultHistorySize.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{
		capacity: capacity,
		alerts:   make([]Alert, 0, capacity),
	}
}

// Append adds a to the end, evicting from the front beyond capacity.
func (h *History) Append(a Alert) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alerts = append(h.alerts, a)
	h.trim()
}

// Export returns a copy of the history in insertion order.
func (h *History) Export() []Alert {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Alert, len(h.alerts))
	copy(out, h.alerts)
	return out
}

// Len returns the number of retained alerts.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.alerts)
}

// Capacity returns the maximum number of retained alerts.
func (h *History) Capacity() int {
	return h.capacity
}

// Clear drops every alert.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alerts = make([]Alert, 0, h.capacity)
}

// Restore replaces the contents with alerts, keeping only the most recent
// capacity entries.
func (h *History) Restore(alerts []Alert) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alerts = append(make([]Alert, 0, h.capacity), alerts...)
	h.trim()
}

// trim must be called with h.mu held.
func (h *History) trim() {
	if over := len(h.alerts) - h.capacity; over > 0 {
		kept := make([]Alert, h.capacity, h.capacity+1)
		copy(kept, h.alerts[over:])
		h.alerts = kept
	}
}
