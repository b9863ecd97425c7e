package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
)

// DefaultStepTimeout caps a single attempt independently of the retry policy.
const DefaultStepTimeout = 5 * time.Minute

// StepExecutor runs one named step through a StepClient under a RetryPolicy.
type StepExecutor struct {
	client  StepClient
	policy  RetryPolicy
	timeout time.Duration
	logger  logr.Logger
}

type ExecutorOption func(*StepExecutor)

func WithStepTimeout(d time.Duration) ExecutorOption {
	return func(e *StepExecutor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithExecutorLogger(logger logr.Logger) ExecutorOption {
	return func(e *StepExecutor) {
		e.logger = logger
	}
}

func NewStepExecutor(client StepClient, policy RetryPolicy, opts ...ExecutorOption) *StepExecutor {
	e := &StepExecutor{
		client:  client,
		policy:  policy,
		timeout: DefaultStepTimeout,
		logger:  logr.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute never returns an error: every fault ends up in the outcome.
func (e *StepExecutor) Execute(ctx context.Context, cartID int64, step StepName) StepOutcome {
	log := e.logger.WithValues("cart_id", cartID, "step", step)
	lastFault := FaultNone

	attempts, err := e.policy.Do(ctx, func(attempt int) error {
		err := e.attempt(ctx, cartID, step)
		if err != nil {
			lastFault = ClassifyFault(err)
			log.Info("step attempt failed", "attempt", attempt, "fault", lastFault.String(), "error", err.Error())
		}
		return err
	})
	if err == nil {
		log.V(1).Info("step succeeded", "attempts", attempts)
		return Succeeded(step, attempts)
	}

	if lastFault == FaultNone {
		lastFault = FaultTransport
	}
	reason := fmt.Sprintf("%s after %d attempt(s): %v", lastFault, attempts, err)
	log.Info("step failed", "attempts", attempts, "fault", lastFault.String())
	return Failed(step, lastFault, reason, attempts)
}

// RunStep lets the executor serve as the in-process step runner.
func (e *StepExecutor) RunStep(ctx context.Context, cartID int64, step StepName) StepOutcome {
	return e.Execute(ctx, cartID, step)
}

// attempt bounds one client call by the step timeout. A client that ignores
// its context is abandoned once the timeout fires.
func (e *StepExecutor) attempt(ctx context.Context, cartID int64, step StepName) error {
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrStepPanic, r)
			}
		}()
		done <- e.client.Invoke(attemptCtx, cartID, step)
	}()

	select {
	case err := <-done:
		if err != nil && attemptCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("%w: %s exceeded %s: %v", ErrStepTimeout, step, e.timeout, err)
		}
		return err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s exceeded %s", ErrStepTimeout, step, e.timeout)
	}
}
