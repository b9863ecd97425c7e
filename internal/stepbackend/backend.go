// Package stepbackend simulates the payment and shipping services a checkout
// talks to. Each step fails on every other call so compensation paths can be
// exercised end to end.
package stepbackend

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
)

const (
	PaymentSucceeded  = "Payment processed successfully."
	PaymentFailed     = "Simulated payment processing failure."
	PaymentReversed   = "Payment reversed successfully."
	ShippingSucceeded = "Carrier dispatch processed successfully."
	ShippingFailed    = "Simulated carrier dispatch processing failure."
)

// DefaultDelay is how long each processing call takes.
const DefaultDelay = 2 * time.Second

// Problem is the error body returned for a simulated failure.
type Problem struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// flakyStep fails whenever its call counter, incremented before the check,
// is a multiple of every.
type flakyStep struct {
	calls   atomic.Int64
	every   int64
	success string
	failure string
}

func (s *flakyStep) next() (int64, bool) {
	n := s.calls.Add(1)
	return n, s.every <= 0 || n%s.every != 0
}

// Backend serves POST /payment/process, /payment/reverse and /shipping/process.
type Backend struct {
	payment   *flakyStep
	shipping  *flakyStep
	reversals atomic.Int64
	delay     time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	logger    logr.Logger
}

type Option func(*Backend)

// WithDelay overrides DefaultDelay. Zero disables the delay.
func WithDelay(d time.Duration) Option {
	return func(b *Backend) { b.delay = d }
}

// WithFailEvery sets how often each step fails. Zero or less never fails.
func WithFailEvery(payment, shipping int) Option {
	return func(b *Backend) {
		b.payment.every = int64(payment)
		b.shipping.every = int64(shipping)
	}
}

func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(b *Backend) { b.sleep = fn }
}

func WithLogger(logger logr.Logger) Option {
	return func(b *Backend) { b.logger = logger }
}

// New returns a backend whose first payment call fails and whose first
// shipping call succeeds.
func New(opts ...Option) *Backend {
	b := &Backend{
		payment:  &flakyStep{every: 2, success: PaymentSucceeded, failure: PaymentFailed},
		shipping: &flakyStep{every: 2, success: ShippingSucceeded, failure: ShippingFailed},
		delay:    DefaultDelay,
		sleep:    sleepContext,
		logger:   logr.Discard(),
	}
	b.payment.calls.Store(1)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /payment/process", b.process("payment", b.payment))
	mux.HandleFunc("POST /shipping/process", b.process("shipping", b.shipping))
	mux.HandleFunc("POST /payment/reverse", b.reverse)
	return mux
}

// Reversals counts payment reversals served.
func (b *Backend) Reversals() int64 {
	return b.reversals.Load()
}

func (b *Backend) process(name string, step *flakyStep) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if b.delay > 0 {
			if err := b.sleep(r.Context(), b.delay); err != nil {
				return
			}
		}
		n, ok := step.next()
		log := b.logger.WithValues("step", name, "call", n, "cart_id", cartID(r))
		if !ok {
			log.Info("simulated failure")
			writeJSON(w, http.StatusInternalServerError, Problem{
				Title:  http.StatusText(http.StatusInternalServerError),
				Status: http.StatusInternalServerError,
				Detail: step.failure,
			})
			return
		}
		log.V(1).Info("processed")
		writeJSON(w, http.StatusOK, step.success)
	}
}

func (b *Backend) reverse(w http.ResponseWriter, r *http.Request) {
	n := b.reversals.Add(1)
	b.logger.Info("payment reversed", "reversal", n, "cart_id", cartID(r))
	writeJSON(w, http.StatusOK, PaymentReversed)
}

func cartID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.URL.Query().Get("cartId"), 10, 64)
	return id
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	if status >= http.StatusBadRequest {
		w.Header().Set("Content-Type", "application/problem+json")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
