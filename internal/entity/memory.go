package entity

import (
	"context"
	"sync"

	"cartsaga/internal/cart"
)

// MemoryRepository keeps cart records in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	carts map[int64][]cart.LineItem
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{carts: make(map[int64][]cart.LineItem)}
}

func (r *MemoryRepository) Load(ctx context.Context, cartID int64) ([]cart.LineItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := r.carts[cartID]
	out := make([]cart.LineItem, len(items))
	copy(out, items)
	return out, nil
}

func (r *MemoryRepository) Save(ctx context.Context, cartID int64, items []cart.LineItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := make([]cart.LineItem, len(items))
	copy(stored, items)
	r.carts[cartID] = stored
	return nil
}
