package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartsaga/internal/cart"
)

type transitionRecorder struct {
	mu          sync.Mutex
	transitions []Transition
}

func (r *transitionRecorder) Observe(ctx context.Context, t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *transitionRecorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []State{StateIdle}
	for _, t := range r.transitions {
		out = append(out, t.To)
	}
	return out
}

type sagaFixture struct {
	client       *ScriptedStepClient
	registry     *CompensationRegistry
	recorder     *transitionRecorder
	orchestrator *Orchestrator
	activities   Activities
}

func newSagaFixture(t *testing.T) *sagaFixture {
	t.Helper()
	logger := testr.New(t)
	client := NewScriptedStepClient()
	registry := NewDefaultCompensationRegistry(client, logger)
	recorder := &transitionRecorder{}
	return &sagaFixture{
		client:       client,
		registry:     registry,
		recorder:     recorder,
		orchestrator: NewOrchestrator(WithObservers(recorder), WithOrchestratorLogger(logger)),
		activities: Activities{
			Runner:      NewStepExecutor(client, noSleepPolicy(3), WithExecutorLogger(logger)),
			Compensator: registry,
		},
	}
}

func filledCart(id int64) *cart.Store {
	return cart.Restore(id, []cart.LineItem{{Name: "book"}, {Name: "pen"}})
}

func TestOrchestrator_EmptyCartNeverCallsPayment(t *testing.T) {
	f := newSagaFixture(t)

	report := f.orchestrator.Checkout(context.Background(), cart.New(1), f.activities)

	assert.Equal(t, SagaResult{Error: ErrorNothingInCart}, report.Result)
	assert.Empty(t, f.client.Calls())
	assert.Empty(t, f.recorder.states()[1:])
}

func TestOrchestrator_CommitsAndClearsCart(t *testing.T) {
	f := newSagaFixture(t)
	store := filledCart(1)

	report := f.orchestrator.Checkout(context.Background(), store, f.activities)

	assert.Equal(t, SagaResult{Success: true, Message: MessageCheckoutSucceeded}, report.Result)
	assert.True(t, report.Committed())
	assert.True(t, store.IsEmpty())
	assert.Equal(t, []StepCall{{1, StepPayment}, {1, StepShipping}}, f.client.Calls())
	assert.Empty(t, f.client.Reversals())
	assert.Equal(t, []State{StateIdle, StatePaymentInFlight, StateShippingInFlight, StateCommitted}, f.recorder.states())
}

func TestOrchestrator_PaymentFailureKeepsCartAndSkipsShipping(t *testing.T) {
	f := newSagaFixture(t)
	f.client.Script(StepPayment, failure(StepPayment), failure(StepPayment), failure(StepPayment))
	store := filledCart(1)
	before := store.Snapshot()

	report := f.orchestrator.Checkout(context.Background(), store, f.activities)

	assert.Equal(t, SagaResult{Error: ErrorPaymentFailed}, report.Result)
	assert.Equal(t, before, store.Snapshot())
	assert.False(t, store.Dirty())
	assert.Equal(t, 3, f.client.CallCount(StepPayment))
	assert.Zero(t, f.client.CallCount(StepShipping))
	assert.Empty(t, f.client.Reversals())
	assert.False(t, report.Compensated)
	assert.Equal(t, []State{StateIdle, StatePaymentInFlight, StateFailed}, f.recorder.states())
}

func TestOrchestrator_ShippingFailureCompensatesOnce(t *testing.T) {
	f := newSagaFixture(t)
	f.client.Script(StepShipping, failure(StepShipping), failure(StepShipping), failure(StepShipping))
	store := filledCart(4)
	before := store.Snapshot()

	report := f.orchestrator.Checkout(context.Background(), store, f.activities)

	assert.Equal(t, SagaResult{Error: ErrorShippingFailed}, report.Result)
	assert.Equal(t, before, store.Snapshot())
	assert.Equal(t, []StepCall{{4, StepPayment}}, f.client.Reversals())
	assert.True(t, report.Compensated)
	assert.Equal(t, []State{StateIdle, StatePaymentInFlight, StateShippingInFlight, StateCompensating, StateFailed}, f.recorder.states())
}

func TestOrchestrator_CompensationFaultDoesNotChangeResult(t *testing.T) {
	f := newSagaFixture(t)
	f.client.Script(StepShipping, failure(StepShipping), failure(StepShipping), failure(StepShipping))
	f.client.ScriptReverse(errors.New("reverse failed"), errors.New("reverse failed again"))

	report := f.orchestrator.Checkout(context.Background(), filledCart(1), f.activities)

	assert.Equal(t, SagaResult{Error: ErrorShippingFailed}, report.Result)
	assert.Len(t, f.client.Reversals(), 1)
	assert.Contains(t, report.CompensationErr, "reverse failed")
}

func TestOrchestrator_RetryAfterFailureRunsFullSaga(t *testing.T) {
	f := newSagaFixture(t)
	f.client.Script(StepShipping, failure(StepShipping), failure(StepShipping), failure(StepShipping))
	store := filledCart(1)

	first := f.orchestrator.Checkout(context.Background(), store, f.activities)
	require.False(t, first.Result.Success)
	require.False(t, store.IsEmpty())

	second := f.orchestrator.Checkout(context.Background(), store, f.activities)

	assert.True(t, second.Result.Success)
	assert.True(t, store.IsEmpty())
	assert.Equal(t, 2, f.client.CallCount(StepPayment))
	assert.Equal(t, 4, f.client.CallCount(StepShipping))
}

func TestOrchestrator_ObserverPanicIsContained(t *testing.T) {
	f := newSagaFixture(t)
	o := NewOrchestrator(WithObservers(ObserverFunc(func(context.Context, Transition) {
		panic("observer bug")
	}), f.recorder))

	report := o.Checkout(context.Background(), filledCart(1), f.activities)

	assert.True(t, report.Result.Success)
	assert.Equal(t, StateCommitted, f.recorder.states()[3])
}

func TestInProcess_Checkout(t *testing.T) {
	f := newSagaFixture(t)
	strategy := NewInProcess(f.orchestrator, f.activities)
	store := filledCart(2)

	result := strategy.Checkout(context.Background(), store)

	assert.Equal(t, SuccessResult(), result)
	assert.True(t, store.IsEmpty())
	assert.True(t, store.Dirty())
}

func TestCompensationRegistry_RejectsDuplicates(t *testing.T) {
	registry := NewCompensationRegistry(testr.New(t))
	noop := Compensation{Name: "noop", Fn: func(context.Context, int64) error { return nil }}

	require.NoError(t, registry.Register(StepShipping, noop))
	assert.ErrorIs(t, registry.Register(StepShipping, noop), ErrCompensationRegistered)
	assert.Error(t, registry.Register(StepPayment, Compensation{Name: "empty"}))

	got, ok := registry.Lookup(StepShipping)
	require.True(t, ok)
	assert.Equal(t, "noop", got.Name)
}

func TestCompensationRegistry_CompensateIsSingleAttempt(t *testing.T) {
	registry := NewCompensationRegistry(testr.New(t))
	calls := 0
	require.NoError(t, registry.Register(StepPayment, Compensation{
		Name: "reverse",
		Fn: func(context.Context, int64) error {
			calls++
			return errors.New("backend down")
		},
	}))

	err := registry.Compensate(context.Background(), StepPayment, 1)

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.NoError(t, registry.Compensate(context.Background(), StepShipping, 1))
}

func TestCompensationRegistry_RecoversPanics(t *testing.T) {
	registry := NewCompensationRegistry(testr.New(t))
	require.NoError(t, registry.Register(StepPayment, Compensation{
		Name: "explode",
		Fn:   func(context.Context, int64) error { panic("boom") },
	}))

	assert.ErrorContains(t, registry.Compensate(context.Background(), StepPayment, 1), "boom")
}

func TestReversePayment_WithoutReverserOnlyLogs(t *testing.T) {
	compensation := ReversePayment(&countingClient{}, testr.New(t))
	assert.NoError(t, compensation.Fn(context.Background(), 1))
}
