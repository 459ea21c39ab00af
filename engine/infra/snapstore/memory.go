package snapstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/compozy/tasktree/engine/core"
	"github.com/compozy/tasktree/engine/workflow"
)

// MemoryStore keeps encoded snapshots in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[core.ID][]byte
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[core.ID][]byte)}
}

func (m *MemoryStore) Save(_ context.Context, snap *workflow.Snapshot) error {
	id, err := snapshotID(snap)
	if err != nil {
		return err
	}
	raw, err := encode(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.items[id] = raw
	return nil
}

func (m *MemoryStore) Load(_ context.Context, id core.ID) (*workflow.Snapshot, error) {
	m.mu.RLock()
	raw, ok := m.items[id]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return decode(raw)
}

func (m *MemoryStore) Delete(_ context.Context, id core.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.items[id]; !ok {
		return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	delete(m.items, id)
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]core.ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	ids := make([]core.ID, 0, len(m.items))
	for id := range m.items {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.items = nil
	return nil
}
