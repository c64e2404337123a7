package listing

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory listing store for demo/development mode.
type MemoryStore struct {
	mu       sync.Mutex
	listings map[string]*Listing
}

// NewMemoryStore creates a new in-memory listing store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{listings: make(map[string]*Listing)}
}

func (m *MemoryStore) Create(ctx context.Context, l *Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *l
	m.listings[l.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

// transition flips status only from the expected prior state, the in-memory
// equivalent of the conditional UPDATE.
func (m *MemoryStore) transition(id string, from, to Status, stamp func(*Listing, time.Time)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[id]
	if !ok {
		return ErrNotFound
	}
	if l.Status != from {
		return ErrNotAvailable
	}
	now := time.Now()
	l.Status = to
	l.UpdatedAt = now
	if stamp != nil {
		stamp(l, now)
	}
	return nil
}

func (m *MemoryStore) Lock(ctx context.Context, id string) error {
	return m.transition(id, StatusPublished, StatusLocked, nil)
}

func (m *MemoryStore) Unlock(ctx context.Context, id string) error {
	return m.transition(id, StatusLocked, StatusPublished, nil)
}

func (m *MemoryStore) MarkSold(ctx context.Context, id string) error {
	return m.transition(id, StatusLocked, StatusSold, nil)
}

func (m *MemoryStore) Archive(ctx context.Context, id string) error {
	return m.transition(id, StatusPublished, StatusArchived, func(l *Listing, now time.Time) {
		l.ArchivedAt = &now
	})
}

func (m *MemoryStore) Publish(ctx context.Context, id string) error {
	return m.transition(id, StatusDraft, StatusPublished, func(l *Listing, now time.Time) {
		l.ReviewedAt = &now
	})
}

// SetReviewedAt overrides the review timestamp; test helper for
// classification scenarios that depend on listing age.
func (m *MemoryStore) SetReviewedAt(id string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.listings[id]; ok {
		l.ReviewedAt = &at
	}
}
