package policy

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory policy store for demo/development mode.
type MemoryStore struct {
	mu     sync.RWMutex
	cfg    *Config
	tiers  []FeeTier
	nextID int64
}

// NewMemoryStore creates a new in-memory policy store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

func (m *MemoryStore) GetConfig(ctx context.Context) (Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.cfg == nil {
		return Config{}, ErrNotFound
	}
	return *m.cfg, nil
}

func (m *MemoryStore) UpdateConfig(ctx context.Context, cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg = &cfg
	return nil
}

func (m *MemoryStore) ListFeeTiers(ctx context.Context) ([]FeeTier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]FeeTier, len(m.tiers))
	copy(result, m.tiers)
	return result, nil
}

func (m *MemoryStore) ReplaceFeeTiers(ctx context.Context, tiers []FeeTier) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tiers = make([]FeeTier, len(tiers))
	for i, t := range tiers {
		t.ID = m.nextID
		m.nextID++
		m.tiers[i] = t
	}
	return nil
}
