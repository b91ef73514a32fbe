package cache

import (
	"context"
	"sync"
)

// Memory is a process-local Store, used for development and tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, key string, dst any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	return true, decode(key, raw, dst)
}

func (m *Memory) Set(ctx context.Context, key string, value any) error {
	raw, err := encode(key, value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Update stages writes and applies them only when fn succeeds.
func (m *Memory) Update(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{base: m.entries, staged: make(map[string][]byte), deleted: make(map[string]bool)}
	if err := fn(tx); err != nil {
		return err
	}
	for key := range tx.deleted {
		delete(m.entries, key)
	}
	for key, raw := range tx.staged {
		m.entries[key] = raw
	}
	return nil
}

func (m *Memory) Close() error { return nil }

type memoryTx struct {
	base    map[string][]byte
	staged  map[string][]byte
	deleted map[string]bool
}

func (t *memoryTx) Get(key string, dst any) (bool, error) {
	if t.deleted[key] {
		return false, nil
	}
	raw, ok := t.staged[key]
	if !ok {
		raw, ok = t.base[key]
	}
	if !ok {
		return false, nil
	}
	return true, decode(key, raw, dst)
}

func (t *memoryTx) Set(key string, value any) error {
	raw, err := encode(key, value)
	if err != nil {
		return err
	}
	delete(t.deleted, key)
	t.staged[key] = raw
	return nil
}

func (t *memoryTx) Delete(key string) error {
	delete(t.staged, key)
	t.deleted[key] = true
	return nil
}

var _ Store = (*Memory)(nil)
