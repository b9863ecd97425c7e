package checkout

import (
	"context"
	"fmt"

	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/go-logr/logr"
	"github.com/puzpuzpuz/xsync/v3"
)

// ErrCompensationRegistered is returned when a step already has a compensation.
var ErrCompensationRegistered = fmt.Errorf("%w: compensation already registered", commonerrors.ErrConflict)

// Compensation semantically undoes a step that already succeeded.
type Compensation struct {
	Name string
	Fn   func(ctx context.Context, cartID int64) error
}

// CompensationRegistry maps a completed step to the action that undoes it.
// Lookups are safe for concurrent use across carts.
type CompensationRegistry struct {
	actions *xsync.MapOf[StepName, Compensation]
	logger  logr.Logger
}

func NewCompensationRegistry(logger logr.Logger) *CompensationRegistry {
	return &CompensationRegistry{
		actions: xsync.NewMapOf[StepName, Compensation](),
		logger:  logger,
	}
}

// NewDefaultCompensationRegistry registers reverse-payment for the payment step.
func NewDefaultCompensationRegistry(client StepClient, logger logr.Logger) *CompensationRegistry {
	registry := NewCompensationRegistry(logger)
	// A fresh registry cannot already hold a payment compensation.
	_ = registry.Register(StepPayment, ReversePayment(client, logger))
	return registry
}

func (r *CompensationRegistry) Register(step StepName, compensation Compensation) error {
	if compensation.Fn == nil {
		return fmt.Errorf("%w: compensation for %s has no action", commonerrors.ErrInvalid, step)
	}
	if _, loaded := r.actions.LoadOrStore(step, compensation); loaded {
		return fmt.Errorf("%w: %s", ErrCompensationRegistered, step)
	}
	return nil
}

func (r *CompensationRegistry) Lookup(step StepName) (Compensation, bool) {
	return r.actions.Load(step)
}

// Compensate runs the compensation for step exactly once. Its error is
// reported for logging only and must not change a decided saga result.
func (r *CompensationRegistry) Compensate(ctx context.Context, step StepName, cartID int64) (err error) {
	log := r.logger.WithValues("cart_id", cartID, "step", step)
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("compensation for %s panicked: %v", step, rec)
			log.Error(err, "compensation failed")
		}
	}()

	compensation, ok := r.Lookup(step)
	if !ok {
		log.Info("no compensation registered")
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultStepTimeout)
	defer cancel()
	if err = compensation.Fn(ctx, cartID); err != nil {
		log.Error(err, "compensation failed", "compensation", compensation.Name)
		return fmt.Errorf("%s: %w", compensation.Name, err)
	}
	log.Info("compensation applied", "compensation", compensation.Name)
	return nil
}

// ReversePayment undoes a charge through the payment backend when the client
// supports reversal, and otherwise only records it.
func ReversePayment(client StepClient, logger logr.Logger) Compensation {
	return Compensation{
		Name: "reverse-payment",
		Fn: func(ctx context.Context, cartID int64) error {
			reverser, ok := client.(Reverser)
			if !ok {
				logger.Info("Payment reversed due to shipping failure.", "cart_id", cartID)
				return nil
			}
			return reverser.Reverse(ctx, cartID, StepPayment)
		},
	}
}
