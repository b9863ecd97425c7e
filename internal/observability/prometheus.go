package observability

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cartsaga/internal/checkout"
)

// SagaCollector exports saga runs to Prometheus. It observes transitions, so
// it works the same for the in-process and the workflow strategies.
type SagaCollector struct {
	checkouts     *prometheus.CounterVec
	steps         *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	stepAttempts  *prometheus.HistogramVec
	compensations prometheus.Counter

	mu      sync.Mutex
	started map[int64]checkout.Transition
}

// NewSagaCollector registers the saga metrics on reg.
func NewSagaCollector(reg prometheus.Registerer) (*SagaCollector, error) {
	c := &SagaCollector{
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cartsaga",
			Subsystem: "checkout",
			Name:      "runs_total",
			Help:      "Finished checkout sagas by final state.",
		}, []string{"state"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cartsaga",
			Subsystem: "checkout",
			Name:      "steps_total",
			Help:      "Finished saga steps by step and fault.",
		}, []string{"step", "fault"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cartsaga",
			Subsystem: "checkout",
			Name:      "step_duration_seconds",
			Help:      "Time a step spent in flight, retries included.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"step"}),
		stepAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cartsaga",
			Subsystem: "checkout",
			Name:      "step_attempts",
			Help:      "Attempts a step used before its outcome.",
			Buckets:   []float64{1, 2, 3, 5, 10},
		}, []string{"step"}),
		compensations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cartsaga",
			Subsystem: "checkout",
			Name:      "compensations_total",
			Help:      "Sagas that reversed a completed payment.",
		}),
		started: make(map[int64]checkout.Transition),
	}

	for _, collector := range []prometheus.Collector{c.checkouts, c.steps, c.stepDuration, c.stepAttempts, c.compensations} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Observe implements checkout.Observer.
func (c *SagaCollector) Observe(ctx context.Context, t checkout.Transition) {
	c.mu.Lock()
	entered, inFlight := c.started[t.CartID]
	switch {
	case t.To.Terminal():
		delete(c.started, t.CartID)
	case t.To == checkout.StatePaymentInFlight || t.To == checkout.StateShippingInFlight:
		c.started[t.CartID] = t
	}
	c.mu.Unlock()

	if t.Outcome != nil && (t.From == checkout.StatePaymentInFlight || t.From == checkout.StateShippingInFlight) {
		step := string(t.Outcome.Step)
		fault := "none"
		if !t.Outcome.Success {
			fault = faultLabel(t.Outcome.Fault)
		}
		c.steps.WithLabelValues(step, fault).Inc()
		c.stepAttempts.WithLabelValues(step).Observe(float64(t.Outcome.Attempts))
		if inFlight && entered.To == t.From {
			c.stepDuration.WithLabelValues(step).Observe(t.At.Sub(entered.At).Seconds())
		}
	}

	if t.To == checkout.StateCompensating {
		c.compensations.Inc()
	}
	if t.To.Terminal() {
		c.checkouts.WithLabelValues(string(t.To)).Inc()
	}
}

func faultLabel(kind checkout.FaultKind) string {
	switch kind {
	case checkout.FaultResponse:
		return "response"
	case checkout.FaultTransport:
		return "transport"
	default:
		return "none"
	}
}

// PrometheusHandler serves the default registry.
func PrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// PrometheusHandlerFor serves reg.
func PrometheusHandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
