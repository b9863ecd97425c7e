package checkout

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrCircuitOpen indicates the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// RetryPolicy bounds how often one step is attempted and how long to wait
// between attempts. It is attached to a step invocation, not to the saga.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Sleep       func(context.Context, time.Duration) error
	ShouldRetry func(error) bool
}

// DefaultRetryPolicy makes three attempts with a fixed one second pause.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     FixedBackoff(time.Second),
	}
}

func FixedBackoff(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// ExponentialBackoff doubles base after every attempt, capped at max when max > 0.
func ExponentialBackoff(base, max time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if base <= 0 {
			return 0
		}
		if attempt < 1 {
			attempt = 1
		}
		delay := base
		for i := 1; i < attempt; i++ {
			delay <<= 1
			if max > 0 && delay >= max {
				return max
			}
		}
		if max > 0 && delay > max {
			delay = max
		}
		return delay
	}
}

// WithJitter spreads each delay across [d/2, d]. A nil jitter uses the default.
func WithJitter(backoff func(int) time.Duration, jitter func(time.Duration) time.Duration) func(int) time.Duration {
	if jitter == nil {
		jitter = defaultJitter
	}
	return func(attempt int) time.Duration {
		return jitter(backoff(attempt))
	}
}

// Do runs fn until it succeeds or the policy gives up and returns the number
// of attempts made together with the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, ErrCircuitOpen)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt - 1, errors.Join(lastErr, err)
			}
			return attempt - 1, err
		}
		lastErr = fn(attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if attempt == attempts || !shouldRetry(lastErr) {
			return attempt, lastErr
		}
		if p.Backoff == nil {
			continue
		}
		if delay := p.Backoff(attempt); delay > 0 {
			if err := sleep(ctx, delay); err != nil {
				return attempt, errors.Join(lastErr, err)
			}
		}
	}
	return attempts, lastErr
}

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	MaxFailures  int
	ResetTimeout time.Duration
	Now          func() time.Time
}

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// CircuitBreaker fails calls fast after repeated backend failures.
type CircuitBreaker struct {
	mu         sync.Mutex
	maxFails   int
	resetAfter time.Duration
	now        func() time.Time

	state          circuitState
	failures       int
	openedAt       time.Time
	halfOpenFlight bool
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	maxFails := cfg.MaxFailures
	if maxFails < 1 {
		maxFails = 1
	}
	resetAfter := cfg.ResetTimeout
	if resetAfter <= 0 {
		resetAfter = 2 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		maxFails:   maxFails,
		resetAfter: resetAfter,
		now:        now,
		state:      circuitClosed,
	}
}

// Execute runs fn while enforcing breaker state.
func (c *CircuitBreaker) Execute(fn func() error) error {
	if c == nil {
		return fn()
	}

	now := c.now()

	c.mu.Lock()
	switch c.state {
	case circuitOpen:
		if now.Sub(c.openedAt) < c.resetAfter {
			c.mu.Unlock()
			return ErrCircuitOpen
		}
		c.state = circuitHalfOpen
		c.halfOpenFlight = true
	case circuitHalfOpen:
		if c.halfOpenFlight {
			c.mu.Unlock()
			return ErrCircuitOpen
		}
		c.halfOpenFlight = true
	}
	c.mu.Unlock()

	err := fn()

	c.mu.Lock()
	defer c.mu.Unlock()

	trial := c.state == circuitHalfOpen
	c.halfOpenFlight = false

	switch {
	case err == nil:
		c.state = circuitClosed
		c.failures = 0
	case trial:
		c.state = circuitOpen
		c.openedAt = now
		c.failures = 0
	default:
		c.failures++
		if c.failures >= c.maxFails {
			c.state = circuitOpen
			c.openedAt = now
		}
	}
	return err
}

// RateLimiter is a token bucket that refills one token every rate.
type RateLimiter struct {
	mu     sync.Mutex
	rate   time.Duration
	burst  int
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
	onWait func(time.Duration)

	tokens int
	last   time.Time
}

func NewRateLimiter(rate time.Duration, burst int) *RateLimiter {
	limiter := &RateLimiter{
		rate:  rate,
		burst: burst,
		now:   time.Now,
		sleep: sleepWithContext,
	}
	limiter.tokens = burst
	limiter.last = limiter.now()
	return limiter
}

// OnWait registers a hook that observes every throttling pause.
func (r *RateLimiter) OnWait(fn func(time.Duration)) *RateLimiter {
	r.onWait = fn
	return r
}

// Wait blocks until a token is available or the context ends.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if r == nil || r.rate <= 0 || r.burst <= 0 {
		return ctx.Err()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.mu.Lock()
		now := r.now()
		r.refill(now)
		if r.tokens > 0 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		wait := r.rate - now.Sub(r.last)
		r.mu.Unlock()
		if wait <= 0 {
			continue
		}
		if r.onWait != nil {
			r.onWait(wait)
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (r *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(r.last)
	if elapsed < r.rate {
		return
	}
	add := int(elapsed / r.rate)
	r.tokens += add
	if r.tokens > r.burst {
		r.tokens = r.burst
	}
	r.last = r.last.Add(time.Duration(add) * r.rate)
}

// ReliableStepClient guards a StepClient with a limiter and one breaker per
// step. Retries stay with the StepExecutor so attempts are counted in one place.
// Reversals skip the breakers: an open shipping circuit must not strand a charge.
type ReliableStepClient struct {
	base     StepClient
	limiter  *RateLimiter
	breakers map[StepName]*CircuitBreaker
}

func NewReliableStepClient(base StepClient, limiter *RateLimiter, breakers map[StepName]*CircuitBreaker) *ReliableStepClient {
	return &ReliableStepClient{
		base:     base,
		limiter:  limiter,
		breakers: breakers,
	}
}

// NewStepBreakers gives each step its own breaker built from cfg.
func NewStepBreakers(cfg CircuitBreakerConfig, steps ...StepName) map[StepName]*CircuitBreaker {
	breakers := make(map[StepName]*CircuitBreaker, len(steps))
	for _, step := range steps {
		breakers[step] = NewCircuitBreaker(cfg)
	}
	return breakers
}

func (c *ReliableStepClient) Invoke(ctx context.Context, cartID int64, step StepName) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	// A nil breaker runs fn directly.
	return c.breakers[step].Execute(func() error {
		return c.base.Invoke(ctx, cartID, step)
	})
}

// Reverse forwards to the wrapped client when it can reverse steps.
func (c *ReliableStepClient) Reverse(ctx context.Context, cartID int64, step StepName) error {
	reverser, ok := c.base.(Reverser)
	if !ok {
		return ErrReversalUnsupported
	}
	if err := c.wait(ctx); err != nil {
		return err
	}
	return reverser.Reverse(ctx, cartID, step)
}

func (c *ReliableStepClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func defaultJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
