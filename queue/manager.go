package queue

import (
	"sync"

	"automailer/internal/metrics"
)

// Manager is a first-in first-out queue of contact rows shared by the
// preparation workers.
type Manager struct {
	items   []Item
	seq     int
	mu      sync.Mutex
	metrics *metrics.Metrics
}

// NewManager creates an empty queue. m may be nil.
func NewManager(m *metrics.Metrics) *Manager {
	return &Manager{
		items:   make([]Item, 0),
		metrics: m,
	}
}

// Enqueue appends rows in order, numbering them after every row queued before.
func (m *Manager) Enqueue(rows ...[]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		m.seq++
		m.items = append(m.items, Item{Seq: m.seq, Row: row})
	}
	m.metrics.SetQueueDepth(len(m.items))
}

// Dequeue removes and returns the oldest item. The emptiness check and the
// removal happen under one lock, so ok is false only when nothing is left.
func (m *Manager) Dequeue() (Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return Item{}, false
	}
	item := m.items[0]
	m.items[0] = Item{}
	m.items = m.items[1:]
	m.metrics.SetQueueDepth(len(m.items))
	return item, true
}

// Depth reports how many items are waiting.
func (m *Manager) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
