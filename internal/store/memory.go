package store

import (
	"context"
	"errors"
	"sync"
)

// MemoryBackend keeps keys in process memory
type MemoryBackend struct {
	name string

	mu      sync.RWMutex
	data    map[string][]byte
	journal []*Batch
	failErr error
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend(name string) *MemoryBackend {
	return &MemoryBackend{
		name: name,
		data: make(map[string][]byte),
	}
}

func (m *MemoryBackend) Name() string { return m.name }

func (m *MemoryBackend) Authoritative() bool { return false }

// SetFailure makes every call fail with err until it is cleared with nil
func (m *MemoryBackend) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

func (m *MemoryBackend) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failErr
}

func (m *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	value, ok := m.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (m *MemoryBackend) Commit(ctx context.Context, batch *Batch) error {
	if batch == nil {
		return errors.New("nil batch")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	for _, p := range batch.Puts {
		value := make([]byte, len(p.Value))
		copy(value, p.Value)
		m.data[p.Key] = value
	}
	m.journal = append(m.journal, batch)
	return nil
}

// Batches returns the batches committed so far, oldest first
func (m *MemoryBackend) Batches() []*Batch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Batch, len(m.journal))
	copy(out, m.journal)
	return out
}

// Journal returns up to limit committed batches, newest first
func (m *MemoryBackend) Journal(ctx context.Context, limit int) ([]*Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	out := make([]*Batch, 0, limit)
	for i := len(m.journal) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.journal[i])
	}
	return out, nil
}

func (m *MemoryBackend) Close() error { return nil }
