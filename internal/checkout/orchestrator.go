package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"cartsaga/internal/cart"
)

// State is a saga state. Committed and Failed are terminal.
type State string

const (
	StateIdle             State = "idle"
	StatePaymentInFlight  State = "payment_in_flight"
	StateShippingInFlight State = "shipping_in_flight"
	StateCompensating     State = "compensating"
	StateCommitted        State = "committed"
	StateFailed           State = "failed"
)

func (s State) Terminal() bool {
	return s == StateCommitted || s == StateFailed
}

// StepRunner produces the outcome of one step for a cart.
type StepRunner interface {
	RunStep(ctx context.Context, cartID int64, step StepName) StepOutcome
}

// Compensator undoes a step that succeeded. Errors are informational.
type Compensator interface {
	Compensate(ctx context.Context, step StepName, cartID int64) error
}

// Activities is what one saga run executes its steps and compensation with.
type Activities struct {
	Runner      StepRunner
	Compensator Compensator
}

// Transition is emitted on every state change of a saga run.
type Transition struct {
	CartID  int64
	From    State
	To      State
	Outcome *StepOutcome
	At      time.Time
}

// Observer is notified of transitions. Implementations must not block.
type Observer interface {
	Observe(ctx context.Context, t Transition)
}

type ObserverFunc func(ctx context.Context, t Transition)

func (f ObserverFunc) Observe(ctx context.Context, t Transition) { f(ctx, t) }

// Report describes a finished saga run.
type Report struct {
	Result          SagaResult
	Final           State
	Steps           []StepOutcome
	Compensated     bool
	CompensationErr string
}

func (r Report) Committed() bool {
	return r.Final == StateCommitted
}

// EmptyCartReport is the result of a checkout rejected before any step ran.
func EmptyCartReport() Report {
	return Report{Result: FailureResult(ErrorNothingInCart), Final: StateFailed}
}

// UnavailableReport is returned when a checkout could not be started at all.
func UnavailableReport() Report {
	return Report{Result: FailureResult(ErrorCheckoutUnavailable), Final: StateFailed}
}

// Orchestrator drives the payment then shipping saga. It never fails: every
// run ends in Committed or Failed with a SagaResult.
type Orchestrator struct {
	observers []Observer
	logger    logr.Logger
	now       func() time.Time
}

type OrchestratorOption func(*Orchestrator)

func WithObservers(observers ...Observer) OrchestratorOption {
	return func(o *Orchestrator) {
		o.observers = append(o.observers, observers...)
	}
}

func WithOrchestratorLogger(logger logr.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		logger: logr.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the saga for cartID. The caller owns the cart and clears it
// when the report is committed.
func (o *Orchestrator) Run(ctx context.Context, cartID int64, acts Activities) Report {
	run := &sagaRun{orchestrator: o, ctx: ctx, cartID: cartID, state: StateIdle}
	log := o.logger.WithValues("cart_id", cartID)

	run.moveTo(StatePaymentInFlight, nil)
	payment := acts.Runner.RunStep(ctx, cartID, StepPayment)
	run.steps = append(run.steps, payment)
	if !payment.Success {
		run.moveTo(StateFailed, &payment)
		log.Info("checkout failed", "step", StepPayment, "reason", payment.Reason)
		return run.report(FailureResult(failureFor(StepPayment)))
	}

	run.moveTo(StateShippingInFlight, &payment)
	shipping := acts.Runner.RunStep(ctx, cartID, StepShipping)
	run.steps = append(run.steps, shipping)
	if !shipping.Success {
		run.moveTo(StateCompensating, &shipping)
		log.Info("checkout failed, compensating", "step", StepShipping, "reason", shipping.Reason)
		run.compensated = true
		if acts.Compensator != nil {
			if err := acts.Compensator.Compensate(ctx, StepPayment, cartID); err != nil {
				run.compensationErr = err.Error()
			}
		}
		run.moveTo(StateFailed, nil)
		return run.report(FailureResult(failureFor(StepShipping)))
	}

	run.moveTo(StateCommitted, &shipping)
	log.Info("checkout committed")
	return run.report(SuccessResult())
}

// Checkout rejects an empty cart without touching any backend, runs the saga
// otherwise, and clears the cart only once the saga committed.
func (o *Orchestrator) Checkout(ctx context.Context, store *cart.Store, acts Activities) Report {
	if store.IsEmpty() {
		return EmptyCartReport()
	}
	report := o.Run(ctx, store.ID(), acts)
	if report.Committed() {
		store.Clear()
	}
	return report
}

func (o *Orchestrator) notify(ctx context.Context, t Transition) {
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

type sagaRun struct {
	orchestrator    *Orchestrator
	ctx             context.Context
	cartID          int64
	state           State
	steps           []StepOutcome
	compensated     bool
	compensationErr string
}

func (r *sagaRun) moveTo(next State, outcome *StepOutcome) {
	t := Transition{
		CartID:  r.cartID,
		From:    r.state,
		To:      next,
		Outcome: outcome,
		At:      r.orchestrator.now(),
	}
	r.state = next
	r.orchestrator.notify(r.ctx, t)
}

func (r *sagaRun) report(result SagaResult) Report {
	return Report{
		Result:          result,
		Final:           r.state,
		Steps:           r.steps,
		Compensated:     r.compensated,
		CompensationErr: r.compensationErr,
	}
}

// InProcess runs the saga inside the calling entity invocation.
type InProcess struct {
	orchestrator *Orchestrator
	activities   Activities
}

func NewInProcess(orchestrator *Orchestrator, activities Activities) *InProcess {
	return &InProcess{orchestrator: orchestrator, activities: activities}
}

func (p *InProcess) Checkout(ctx context.Context, store *cart.Store) SagaResult {
	return p.orchestrator.Checkout(ctx, store, p.activities).Result
}
