package servicetype

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory service-type store for demo/development mode.
type MemoryStore struct {
	mu     sync.Mutex
	byCode map[string]*ServiceType
	nextID int64
}

// NewMemoryStore creates a new in-memory service-type store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byCode: make(map[string]*ServiceType),
		nextID: 1,
	}
}

func (m *MemoryStore) GetByCode(ctx context.Context, code string) (*ServiceType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.byCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (m *MemoryStore) EnsureByCode(ctx context.Context, code string) (*ServiceType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.byCode[code]; ok {
		cp := *st
		return &cp, nil
	}

	st := &ServiceType{
		ID:        m.nextID,
		Code:      code,
		Name:      defaultName(code),
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	m.nextID++
	m.byCode[code] = st
	cp := *st
	return &cp, nil
}

func (m *MemoryStore) Create(ctx context.Context, st *ServiceType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byCode[st.Code]; ok {
		return ErrCodeTaken
	}
	st.ID = m.nextID
	m.nextID++
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now()
	}
	cp := *st
	m.byCode[st.Code] = &cp
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*ServiceType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*ServiceType, 0, len(m.byCode))
	for _, st := range m.byCode {
		cp := *st
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
