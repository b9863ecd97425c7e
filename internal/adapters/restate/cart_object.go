// Package restate hosts the cart as a Restate virtual object. Restate gives
// each cart key a single writer and journals every saga step, so a crashed
// checkout resumes without re-running steps that already finished.
package restate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-logr/logr"
	restate "github.com/restatedev/sdk-go"

	"cartsaga/internal/cart"
	"cartsaga/internal/checkout"
)

const stateKeyItems = "items"

// CartObject implements the cart handlers. Exported methods are bound with
// restate.Reflect, so only handlers may be exported.
type CartObject struct {
	activities checkout.Activities
	observers  []checkout.Observer
	logger     logr.Logger
}

// NewCartObject builds the object. Observers see each checkout's transitions
// once, after the saga ended, even when Restate replays the invocation.
func NewCartObject(activities checkout.Activities, logger logr.Logger, observers ...checkout.Observer) *CartObject {
	return &CartObject{activities: activities, observers: observers, logger: logger}
}

func (o *CartObject) AddItem(ctx restate.ObjectContext, item cart.LineItem) error {
	return o.addItem(restate.Key(ctx), objectState{ctx: ctx}, item)
}

// RemoveItem drops the first matching item. A missing item is logged only.
func (o *CartObject) RemoveItem(ctx restate.ObjectContext, item cart.LineItem) error {
	return o.removeItem(restate.Key(ctx), objectState{ctx: ctx}, item)
}

func (o *CartObject) ViewCart(ctx restate.ObjectSharedContext, _ restate.Void) ([]cart.LineItem, error) {
	store, err := load(restate.Key(ctx), sharedState{ctx: ctx})
	if err != nil {
		return nil, err
	}
	return store.Snapshot(), nil
}

func (o *CartObject) Checkout(ctx restate.ObjectContext, _ restate.Void) (checkout.SagaResult, error) {
	return o.checkout(ctx, restate.Key(ctx), objectState{ctx: ctx}, runJournal{ctx: ctx})
}

func (o *CartObject) ClearCart(ctx restate.ObjectContext, _ restate.Void) error {
	if _, err := parseCartID(restate.Key(ctx)); err != nil {
		return restate.TerminalError(err, http.StatusBadRequest)
	}
	restate.ClearAll(ctx)
	return nil
}

func (o *CartObject) addItem(key string, state cartState, item cart.LineItem) error {
	store, err := load(key, state)
	if err != nil {
		return err
	}
	if err := store.AddItem(item); err != nil {
		return restate.TerminalError(err, http.StatusBadRequest)
	}
	save(state, store)
	return nil
}

func (o *CartObject) removeItem(key string, state cartState, item cart.LineItem) error {
	store, err := load(key, state)
	if err != nil {
		return err
	}
	err = store.RemoveItem(item)
	switch {
	case errors.Is(err, cart.ErrItemNotFound):
		o.logger.Info("Item not found in cart", "cart_id", store.ID(), "item", item.Name)
		return nil
	case err != nil:
		return restate.TerminalError(err, http.StatusBadRequest)
	}
	save(state, store)
	return nil
}

// checkout runs the saga with every step and reversal journaled, saves the
// cart, then publishes the collected transitions as one journaled step.
func (o *CartObject) checkout(ctx context.Context, key string, state cartState, j journal) (checkout.SagaResult, error) {
	store, err := load(key, state)
	if err != nil {
		return checkout.SagaResult{}, err
	}

	var transitions []checkout.Transition
	orchestrator := checkout.NewOrchestrator(
		checkout.WithObservers(checkout.ObserverFunc(func(_ context.Context, t checkout.Transition) {
			transitions = append(transitions, t)
		})),
		checkout.WithOrchestratorLogger(o.logger),
	)
	acts := checkout.Activities{
		Runner:      journaledRunner{journal: j, inner: o.activities.Runner},
		Compensator: journaledCompensator{journal: j, inner: o.activities.Compensator},
	}
	report := orchestrator.Checkout(ctx, store, acts)
	save(state, store)

	if len(transitions) > 0 && len(o.observers) > 0 {
		err := j.once("publish-transitions", func(ctx context.Context) {
			for _, t := range transitions {
				o.notify(ctx, t)
			}
		})
		if err != nil {
			o.logger.Error(err, "publish checkout transitions", "cart_id", store.ID())
		}
	}
	return report.Result, nil
}

func (o *CartObject) notify(ctx context.Context, t checkout.Transition) {
	for _, observer := range o.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error(fmt.Errorf("observer panicked: %v", r), "transition dropped", "cart_id", t.CartID, "to", t.To)
				}
			}()
			observer.Observe(ctx, t)
		}()
	}
}

// cartState is the object's persisted item list.
type cartState interface {
	items() ([]cart.LineItem, error)
	setItems(items []cart.LineItem)
	clearItems()
}

type objectState struct {
	ctx restate.ObjectContext
}

func (s objectState) items() ([]cart.LineItem, error) {
	return restate.Get[[]cart.LineItem](s.ctx, stateKeyItems)
}

func (s objectState) setItems(items []cart.LineItem) { restate.Set(s.ctx, stateKeyItems, items) }

func (s objectState) clearItems() { restate.Clear(s.ctx, stateKeyItems) }

// sharedState is read only.
type sharedState struct {
	ctx restate.ObjectSharedContext
}

func (s sharedState) items() ([]cart.LineItem, error) {
	return restate.Get[[]cart.LineItem](s.ctx, stateKeyItems)
}

func (sharedState) setItems([]cart.LineItem) {}

func (sharedState) clearItems() {}

func load(key string, state cartState) (*cart.Store, error) {
	cartID, err := parseCartID(key)
	if err != nil {
		return nil, restate.TerminalError(err, http.StatusBadRequest)
	}
	items, err := state.items()
	if err != nil {
		return nil, err
	}
	return cart.Restore(cartID, items), nil
}

func save(state cartState, store *cart.Store) {
	if !store.Dirty() {
		return
	}
	if store.IsEmpty() {
		state.clearItems()
	} else {
		state.setItems(store.Snapshot())
	}
	store.MarkClean()
}

func parseCartID(key string) (int64, error) {
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: cart key %q is not an integer id", cart.ErrInvalidArgument, key)
	}
	return id, nil
}

// journal records side effects so a replayed invocation reads their results
// instead of running them again.
type journal interface {
	step(name string, fn func(ctx context.Context) checkout.StepOutcome) (checkout.StepOutcome, error)
	compensation(name string, fn func(ctx context.Context) compensation) (compensation, error)
	once(name string, fn func(ctx context.Context)) error
}

// runJournal journals through restate.Run. The closures never fail, so
// Restate does not retry a step on top of the executor's own retry policy.
type runJournal struct {
	ctx restate.ObjectContext
}

func (j runJournal) step(name string, fn func(ctx context.Context) checkout.StepOutcome) (checkout.StepOutcome, error) {
	return restate.Run(j.ctx, func(rc restate.RunContext) (checkout.StepOutcome, error) {
		return fn(rc), nil
	}, restate.WithName(name))
}

func (j runJournal) compensation(name string, fn func(ctx context.Context) compensation) (compensation, error) {
	return restate.Run(j.ctx, func(rc restate.RunContext) (compensation, error) {
		return fn(rc), nil
	}, restate.WithName(name))
}

func (j runJournal) once(name string, fn func(ctx context.Context)) error {
	_, err := restate.Run(j.ctx, func(rc restate.RunContext) (restate.Void, error) {
		fn(rc)
		return restate.Void{}, nil
	}, restate.WithName(name))
	return err
}

type journaledRunner struct {
	journal journal
	inner   checkout.StepRunner
}

func (r journaledRunner) RunStep(_ context.Context, cartID int64, step checkout.StepName) checkout.StepOutcome {
	outcome, err := r.journal.step(string(step), func(ctx context.Context) checkout.StepOutcome {
		return r.inner.RunStep(ctx, cartID, step)
	})
	if err != nil {
		return checkout.Failed(step, checkout.FaultTransport, err.Error(), 0)
	}
	return outcome
}

// compensation is the journaled form of a reversal result.
type compensation struct {
	Error string `json:"error,omitempty"`
}

func (c compensation) err() error {
	if c.Error == "" {
		return nil
	}
	return errors.New(c.Error)
}

type journaledCompensator struct {
	journal journal
	inner   checkout.Compensator
}

func (c journaledCompensator) Compensate(_ context.Context, step checkout.StepName, cartID int64) error {
	if c.inner == nil {
		return nil
	}
	result, err := c.journal.compensation("reverse-"+string(step), func(ctx context.Context) compensation {
		return compensationOf(c.inner.Compensate(ctx, step, cartID))
	})
	if err != nil {
		return err
	}
	return result.err()
}

func compensationOf(err error) compensation {
	if err == nil {
		return compensation{}
	}
	return compensation{Error: err.Error()}
}
