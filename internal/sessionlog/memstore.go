package sessionlog

import (
	"context"
	"sync"
)

// MemStore keeps the most recent records in a fixed-size ring.
type MemStore struct {
	mu   sync.Mutex
	buf  []Record
	next int
	full bool
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns a MemStore holding up to capacity records. A capacity
// below 1 is treated as 1.
func NewMemStore(capacity int) *MemStore {
	return &MemStore{buf: make([]Record, max(capacity, 1))}
}

// Save implements [Store]. The oldest record is overwritten once full.
func (m *MemStore) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf[m.next] = rec
	m.next = (m.next + 1) % len(m.buf)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// Recent implements [Store].
func (m *MemStore) Recent(_ context.Context, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.next
	if m.full {
		n = len(m.buf)
	}
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Record, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, m.buf[(m.next-i+len(m.buf))%len(m.buf)])
	}
	return out, nil
}

// Close implements [Store].
func (m *MemStore) Close() error { return nil }
