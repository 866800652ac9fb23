package statuscache

import (
	"context"
	"sync"
	"time"
)

// Memory is a thread-safe in-process Cache
type Memory struct {
	mu      sync.RWMutex
	entries map[int64]*Entry
	now     func() time.Time
}

// NewMemory creates an empty cache. A nil now uses time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		entries: make(map[int64]*Entry),
		now:     now,
	}
}

// Get returns the entry of a service unless it is missing or stale
func (m *Memory) Get(_ context.Context, serviceID int64) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[serviceID]
	if !ok || e.IsStale(m.now()) {
		return nil, false
	}
	return e, true
}

// Set stores an entry, replacing any previous one
func (m *Memory) Set(_ context.Context, e *Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[e.ServiceID] = e
}

// Invalidate drops the entry of a service
func (m *Memory) Invalidate(_ context.Context, serviceID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, serviceID)
}

// Size returns the number of entries, stale ones included
func (m *Memory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}
