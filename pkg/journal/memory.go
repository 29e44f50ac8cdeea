package journal

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps flows in memory. It backs the journal when no database
// is configured and in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	flows []*Flow
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record stores a copy of flow.
func (m *MemoryStore) Record(_ context.Context, flow *Flow) error {
	cp := *flow
	m.mu.Lock()
	m.flows = append(m.flows, &cp)
	m.mu.Unlock()
	return nil
}

// Query returns flows matching q, newest first.
func (m *MemoryStore) Query(_ context.Context, q Query) ([]*Flow, error) {
	m.mu.RLock()
	var out []*Flow
	for _, f := range m.flows {
		if q.Host != "" && f.Host != q.Host {
			continue
		}
		if !q.Since.IsZero() && f.StartedAt.Before(q.Since) {
			continue
		}
		if q.Errors && f.Error == "" {
			continue
		}
		cp := *f
		out = append(out, &cp)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Prune removes flows started before the cutoff.
func (m *MemoryStore) Prune(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.flows[:0]
	var removed int64
	for _, f := range m.flows {
		if f.StartedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, f)
	}
	m.flows = kept
	return removed, nil
}

// Count returns the number of stored flows.
func (m *MemoryStore) Count(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.flows)), nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
