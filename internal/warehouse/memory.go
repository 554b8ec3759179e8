package warehouse

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps products in process memory. Ids start at 1.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[int64]Product
	nextID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[int64]Product),
		nextID:   1,
	}
}

// Seed stores products as given, keeping their ids. Used by tests and bootstrap code.
func (s *MemoryStore) Seed(products ...Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		s.products[p.ID] = p
		if p.ID >= s.nextID {
			s.nextID = p.ID + 1
		}
	}
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Product, error) {
	s.mu.RLock()
	out := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Query(ctx context.Context, pred Predicate) ([]Product, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return filter(all, pred), nil
}

func (s *MemoryStore) Insert(ctx context.Context, p Product) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextID
	s.nextID++
	s.products[p.ID] = p
	return p, nil
}

func (s *MemoryStore) UpdateQuantities(ctx context.Context, p Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.products[p.ID]
	if !ok {
		return ErrNotFound
	}
	cur.InStockQuantity = p.InStockQuantity
	cur.ReservedQuantity = p.ReservedQuantity
	s.products[p.ID] = cur
	return nil
}
