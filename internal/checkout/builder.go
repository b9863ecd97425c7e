package checkout

import (
	"github.com/go-logr/logr"
	"github.com/hashicorp/go-cleanhttp"
)

// BuildActivities wires the step client, executor and compensation registry
// from config. Without backend URLs it falls back to a client that always
// succeeds, so a local server still checks out.
func BuildActivities(cfg StepConfig, logger logr.Logger) (Activities, StepClient) {
	var client StepClient
	if cfg.PaymentURL == "" || cfg.ShippingURL == "" {
		logger.Info("step backends not configured, using no-op step client")
		client = NoopStepClient{}
	} else {
		client = NewHTTPStepClient(cleanhttp.DefaultPooledClient(), map[StepName]string{
			StepPayment:  cfg.PaymentURL,
			StepShipping: cfg.ShippingURL,
		})
	}

	var limiter *RateLimiter
	if cfg.RateLimitInterval > 0 && cfg.RateLimitBurst > 0 {
		limiter = NewRateLimiter(cfg.RateLimitInterval, cfg.RateLimitBurst)
	}
	var breakers map[StepName]*CircuitBreaker
	if cfg.BreakerMaxFailures > 0 {
		breakers = NewStepBreakers(CircuitBreakerConfig{
			MaxFailures:  cfg.BreakerMaxFailures,
			ResetTimeout: cfg.BreakerResetTimeout,
		}, StepPayment, StepShipping)
	}
	if limiter != nil || breakers != nil {
		client = NewReliableStepClient(client, limiter, breakers)
	}

	executor := NewStepExecutor(client, cfg.RetryPolicy(),
		WithStepTimeout(cfg.Timeout),
		WithExecutorLogger(logger.WithName("steps")),
	)
	registry := NewDefaultCompensationRegistry(client, logger.WithName("compensation"))

	return Activities{Runner: executor, Compensator: registry}, client
}
