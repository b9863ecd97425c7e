package entity

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/puzpuzpuz/xsync/v3"

	"cartsaga/internal/cart"
	"cartsaga/internal/checkout"
)

// Repository persists one record per cart id holding its ordered items.
type Repository interface {
	Load(ctx context.Context, cartID int64) ([]cart.LineItem, error)
	Save(ctx context.Context, cartID int64, items []cart.LineItem) error
}

// CheckoutStrategy runs the saga for a cart the host has locked. It clears
// the store only when the saga committed.
type CheckoutStrategy interface {
	Checkout(ctx context.Context, store *cart.Store) checkout.SagaResult
}

// slot is the activation of one cart id. The buffered channel is its lock so
// waiting callers can give up when their context ends.
type slot struct {
	lock  chan struct{}
	store *cart.Store
}

func newSlot() *slot {
	return &slot{lock: make(chan struct{}, 1)}
}

// Host gives every cart id a single writer. Calls for the same id run one at
// a time; calls for different ids run in parallel.
type Host struct {
	repo     Repository
	strategy CheckoutStrategy
	slots    *xsync.MapOf[int64, *slot]
	logger   logr.Logger
}

func NewHost(repo Repository, strategy CheckoutStrategy, logger logr.Logger) *Host {
	return &Host{
		repo:     repo,
		strategy: strategy,
		slots:    xsync.NewMapOf[int64, *slot](),
		logger:   logger,
	}
}

func (h *Host) AddItem(ctx context.Context, cartID int64, item cart.LineItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	return h.mutate(ctx, cartID, func(store *cart.Store) error {
		return store.AddItem(item)
	})
}

// RemoveItem drops the first matching item. A missing item is logged only.
func (h *Host) RemoveItem(ctx context.Context, cartID int64, item cart.LineItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	return h.mutate(ctx, cartID, func(store *cart.Store) error {
		err := store.RemoveItem(item)
		if errors.Is(err, cart.ErrItemNotFound) {
			h.logger.Info("Item not found in cart", "cart_id", cartID, "item", item.Name)
			return nil
		}
		return err
	})
}

// ViewCart rereads the persisted record and returns a copy of its items.
func (h *Host) ViewCart(ctx context.Context, cartID int64) ([]cart.LineItem, error) {
	var items []cart.LineItem
	err := h.with(ctx, cartID, func(s *slot) error {
		if s.store == nil || !s.store.Dirty() {
			if err := h.reload(ctx, s, cartID); err != nil {
				return err
			}
		}
		items = s.store.Snapshot()
		return nil
	})
	return items, err
}

// Checkout holds the cart's lock for the whole saga. The error is non-nil
// only when the cart could not be loaded; saga failures are in the result.
// Once started, a saga is not cancelled by the caller's context.
func (h *Host) Checkout(ctx context.Context, cartID int64) (checkout.SagaResult, error) {
	var result checkout.SagaResult
	err := h.with(ctx, cartID, func(s *slot) error {
		if err := h.activate(ctx, s, cartID); err != nil {
			return err
		}
		ctx := context.WithoutCancel(ctx)
		result = h.strategy.Checkout(ctx, s.store)
		if !s.store.Dirty() {
			return nil
		}
		// The saga already committed; a failed write keeps the cleared
		// activation dirty so the next call retries it.
		if err := h.persist(ctx, s, cartID); err != nil {
			h.logger.Error(err, "persist cart after checkout", "cart_id", cartID)
		}
		return nil
	})
	return result, err
}

// Resume finishes a saga that was interrupted before this process started.
// fn runs under the cart's lock like Checkout, and gets a copy of the cart's
// items. When fn reports a clear, the host clears and saves the cart before
// releasing the lock.
func (h *Host) Resume(ctx context.Context, cartID int64, fn func(ctx context.Context, items []cart.LineItem) (bool, error)) error {
	return h.with(ctx, cartID, func(s *slot) error {
		if err := h.activate(ctx, s, cartID); err != nil {
			return err
		}
		ctx := context.WithoutCancel(ctx)
		clearCart, err := fn(ctx, s.store.Snapshot())
		if err != nil || !clearCart {
			return err
		}
		s.store.Clear()
		if !s.store.Dirty() {
			return nil
		}
		return h.persist(ctx, s, cartID)
	})
}

// ClearCart empties the cart. Clearing an empty cart is a no-op.
func (h *Host) ClearCart(ctx context.Context, cartID int64) error {
	return h.mutate(ctx, cartID, func(store *cart.Store) error {
		store.Clear()
		return nil
	})
}

func (h *Host) mutate(ctx context.Context, cartID int64, fn func(*cart.Store) error) error {
	return h.with(ctx, cartID, func(s *slot) error {
		if err := h.activate(ctx, s, cartID); err != nil {
			return err
		}
		if err := fn(s.store); err != nil {
			return err
		}
		if !s.store.Dirty() {
			return nil
		}
		if err := h.persist(ctx, s, cartID); err != nil {
			// Drop the activation so the next call starts from what was stored.
			s.store = nil
			return err
		}
		return nil
	})
}

func (h *Host) with(ctx context.Context, cartID int64, fn func(*slot) error) error {
	s, _ := h.slots.LoadOrCompute(cartID, newSlot)
	select {
	case s.lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.lock }()
	return fn(s)
}

func (h *Host) activate(ctx context.Context, s *slot, cartID int64) error {
	if s.store != nil {
		return nil
	}
	return h.reload(ctx, s, cartID)
}

func (h *Host) reload(ctx context.Context, s *slot, cartID int64) error {
	items, err := h.repo.Load(ctx, cartID)
	if err != nil {
		return fmt.Errorf("load cart %d: %w", cartID, err)
	}
	s.store = cart.Restore(cartID, items)
	return nil
}

func (h *Host) persist(ctx context.Context, s *slot, cartID int64) error {
	if err := h.repo.Save(ctx, cartID, s.store.Snapshot()); err != nil {
		return fmt.Errorf("save cart %d: %w", cartID, err)
	}
	s.store.MarkClean()
	return nil
}
