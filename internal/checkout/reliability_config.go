package checkout

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// StepConfig describes how checkout steps reach their backends and how hard
// they are retried.
type StepConfig struct {
	PaymentURL          string
	ShippingURL         string
	Timeout             time.Duration
	RetryMaxAttempts    int
	RetryBackoff        time.Duration
	RetryMaxBackoff     time.Duration
	RetryExponential    bool
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
	RateLimitInterval   time.Duration
	RateLimitBurst      int
}

// DefaultStepConfig matches the default retry policy and step timeout.
func DefaultStepConfig() StepConfig {
	return StepConfig{
		Timeout:          DefaultStepTimeout,
		RetryMaxAttempts: 3,
		RetryBackoff:     time.Second,
	}
}

func (c *StepConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.PaymentURL, is.URL),
		validation.Field(&c.ShippingURL, is.URL),
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.RetryMaxAttempts, validation.Required, validation.Min(1)),
		validation.Field(&c.RetryBackoff, validation.Min(time.Duration(0))),
		validation.Field(&c.RetryMaxBackoff, validation.Min(time.Duration(0))),
		validation.Field(&c.BreakerMaxFailures, validation.Min(0)),
		validation.Field(&c.BreakerResetTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.RateLimitInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.RateLimitBurst, validation.Required.When(c.RateLimitInterval > 0), validation.Min(0)),
	)
}

// RetryPolicy turns the configured knobs into a policy.
func (c StepConfig) RetryPolicy() RetryPolicy {
	policy := RetryPolicy{MaxAttempts: c.RetryMaxAttempts}
	if c.RetryExponential {
		policy.Backoff = WithJitter(ExponentialBackoff(c.RetryBackoff, c.RetryMaxBackoff), nil)
	} else {
		policy.Backoff = FixedBackoff(c.RetryBackoff)
	}
	return policy
}

// LoadStepConfigFromEnv overlays STEP_* and backend URL variables on the defaults.
func LoadStepConfigFromEnv() (StepConfig, error) {
	cfg := DefaultStepConfig()
	var err error

	cfg.PaymentURL = strings.TrimSpace(os.Getenv("PAYMENT_URL"))
	cfg.ShippingURL = strings.TrimSpace(os.Getenv("SHIPPING_URL"))

	if cfg.Timeout, err = parseOptionalDuration("STEP_TIMEOUT", cfg.Timeout); err != nil {
		return cfg, err
	}
	if cfg.RetryMaxAttempts, err = parseOptionalInt("STEP_RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts); err != nil {
		return cfg, err
	}
	if cfg.RetryBackoff, err = parseOptionalDuration("STEP_RETRY_BACKOFF", cfg.RetryBackoff); err != nil {
		return cfg, err
	}
	if cfg.RetryMaxBackoff, err = parseOptionalDuration("STEP_RETRY_MAX_BACKOFF", cfg.RetryMaxBackoff); err != nil {
		return cfg, err
	}
	if cfg.RetryExponential, err = parseOptionalBool("STEP_RETRY_EXPONENTIAL", cfg.RetryExponential); err != nil {
		return cfg, err
	}
	if cfg.BreakerMaxFailures, err = parseOptionalInt("STEP_BREAKER_MAX_FAILURES", cfg.BreakerMaxFailures); err != nil {
		return cfg, err
	}
	if cfg.BreakerResetTimeout, err = parseOptionalDuration("STEP_BREAKER_RESET_TIMEOUT", cfg.BreakerResetTimeout); err != nil {
		return cfg, err
	}
	if cfg.RateLimitInterval, err = parseOptionalDuration("STEP_RATE_LIMIT_INTERVAL", cfg.RateLimitInterval); err != nil {
		return cfg, err
	}
	if cfg.RateLimitBurst, err = parseOptionalInt("STEP_RATE_LIMIT_BURST", cfg.RateLimitBurst); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("step config: %w", err)
	}
	return cfg, nil
}

func parseOptionalDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, errors.New(name + " must be >= 0")
	}
	return val, nil
}

func parseOptionalInt(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, errors.New(name + " must be >= 0")
	}
	return val, nil
}

func parseOptionalBool(name string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return val, nil
}
