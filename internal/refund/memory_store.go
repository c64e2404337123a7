package refund

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu       sync.Mutex
	payments map[string]*PostPayment // by post id
	refunds  map[string]*Refund      // by refund id
	byPost   map[string]string       // post id → refund id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments: make(map[string]*PostPayment),
		refunds:  make(map[string]*Refund),
		byPost:   make(map[string]string),
	}
}

func (s *MemoryStore) CreatePostPayment(ctx context.Context, p *PostPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.PostID]; ok {
		return ErrPostPaymentExists
	}
	cp := *p
	s.payments[p.PostID] = &cp
	return nil
}

func (s *MemoryStore) GetPostPayment(ctx context.Context, postID string) (*PostPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[postID]
	if !ok {
		return nil, ErrPostPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) CreateRefund(ctx context.Context, r *Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byPost[r.PostID]; ok {
		return ErrAlreadyRefunded
	}
	cp := *r
	s.refunds[r.ID] = &cp
	s.byPost[r.PostID] = r.ID
	return nil
}

func (s *MemoryStore) GetRefund(ctx context.Context, id string) (*Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refunds[id]
	if !ok {
		return nil, ErrRefundNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) GetRefundByPost(ctx context.Context, postID string) (*Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPost[postID]
	if !ok {
		return nil, ErrRefundNotFound
	}
	cp := *s.refunds[id]
	return &cp, nil
}

func (s *MemoryStore) UpdateRefund(ctx context.Context, r *Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refunds[r.ID]; !ok {
		return ErrRefundNotFound
	}
	cp := *r
	s.refunds[r.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateRefundIf(ctx context.Context, r *Refund, from Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.refunds[r.ID]
	if !ok {
		return ErrRefundNotFound
	}
	if cur.Status != from {
		return ErrInvalidStatus
	}
	cp := *r
	s.refunds[r.ID] = &cp
	return nil
}

func (s *MemoryStore) ListRefunds(ctx context.Context, status Status, limit int) ([]*Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Refund
	for _, r := range s.refunds {
		if status != "" && r.Status != status {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListUnrefundedPostIDs(ctx context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []*PostPayment
	for postID, p := range s.payments {
		if _, refunded := s.byPost[postID]; !refunded {
			pending = append(pending, p)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		if len(ids) == limit {
			break
		}
		ids = append(ids, p.PostID)
	}
	return ids, nil
}
