package observability

import (
	"context"
	"sync"
	"time"

	"cartsaga/internal/checkout"
)

type MethodSnapshot struct {
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	InFlight      int64   `json:"in_flight"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

// CheckoutSnapshot counts saga runs by how they ended.
type CheckoutSnapshot struct {
	InFlight      int64            `json:"in_flight"`
	Committed     int64            `json:"committed"`
	Failed        int64            `json:"failed"`
	Compensations int64            `json:"compensations"`
	StepFailures  map[string]int64 `json:"step_failures"`
}

type Snapshot struct {
	UptimeSec       int64                     `json:"uptime_sec"`
	TotalRequests   int64                     `json:"total_requests"`
	TotalErrors     int64                     `json:"total_errors"`
	InFlight        int64                     `json:"in_flight"`
	RateLimitWaits  int64                     `json:"rate_limit_waits"`
	RateLimitWaitMs int64                     `json:"rate_limit_wait_ms"`
	Checkouts       CheckoutSnapshot          `json:"checkouts"`
	Lifecycle       *LifecycleSnapshot        `json:"lifecycle,omitempty"`
	Methods         map[string]MethodSnapshot `json:"methods"`
}

type LifecycleSnapshot struct {
	ShutdownAt         time.Time `json:"shutdown_at"`
	InFlightAtShutdown int64     `json:"inflight_at_shutdown"`
}

type methodStats struct {
	count        int64
	errors       int64
	inFlight     int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

type checkoutStats struct {
	inFlight      int64
	committed     int64
	failed        int64
	compensations int64
	stepFailures  map[checkout.StepName]int64
}

// Metrics keeps in-process counters for transport methods and saga runs and
// serves them as JSON. A nil *Metrics is a valid no-op.
type Metrics struct {
	mu             sync.Mutex
	start          time.Time
	methods        map[string]*methodStats
	checkouts      checkoutStats
	rateLimitWaits int64
	rateLimitWait  time.Duration
	shutdownAt     time.Time
	shutdownFlight int64
}

// CallSpan measures one method call from Start to End.
type CallSpan struct {
	metrics *Metrics
	method  string
	start   time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{
		start:     time.Now(),
		methods:   make(map[string]*methodStats),
		checkouts: checkoutStats{stepFailures: make(map[checkout.StepName]int64)},
	}
}

func (m *Metrics) Start(method string) *CallSpan {
	if m == nil {
		return &CallSpan{}
	}
	m.mu.Lock()
	m.ensureMethod(method).inFlight++
	m.mu.Unlock()
	return &CallSpan{
		metrics: m,
		method:  method,
		start:   time.Now(),
	}
}

func (s *CallSpan) End(err error) {
	if s == nil || s.metrics == nil {
		return
	}
	s.metrics.finish(s.method, time.Since(s.start), err != nil)
}

// Observe implements checkout.Observer.
func (m *Metrics) Observe(ctx context.Context, t checkout.Transition) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.From == checkout.StateIdle {
		m.checkouts.inFlight++
	}
	if t.Outcome != nil && !t.Outcome.Success {
		m.checkouts.stepFailures[t.Outcome.Step]++
	}
	switch t.To {
	case checkout.StateCompensating:
		m.checkouts.compensations++
	case checkout.StateCommitted:
		m.checkouts.inFlight--
		m.checkouts.committed++
	case checkout.StateFailed:
		m.checkouts.inFlight--
		m.checkouts.failed++
	}
}

func (m *Metrics) AddRateLimitWait(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.mu.Lock()
	m.rateLimitWaits++
	m.rateLimitWait += d
	m.mu.Unlock()
}

func (m *Metrics) MarkShutdown(inflight int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.shutdownAt = time.Now()
	m.shutdownFlight = inflight
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		UptimeSec:       int64(time.Since(m.start).Seconds()),
		Methods:         make(map[string]MethodSnapshot, len(m.methods)),
		RateLimitWaits:  m.rateLimitWaits,
		RateLimitWaitMs: int64(m.rateLimitWait / time.Millisecond),
		Checkouts: CheckoutSnapshot{
			InFlight:      m.checkouts.inFlight,
			Committed:     m.checkouts.committed,
			Failed:        m.checkouts.failed,
			Compensations: m.checkouts.compensations,
			StepFailures:  make(map[string]int64, len(m.checkouts.stepFailures)),
		},
	}
	for step, n := range m.checkouts.stepFailures {
		snap.Checkouts.StepFailures[string(step)] = n
	}

	for method, stats := range m.methods {
		avg := 0.0
		if stats.count > 0 {
			avg = float64(stats.totalLatency.Milliseconds()) / float64(stats.count)
		}
		snap.Methods[method] = MethodSnapshot{
			Count:         stats.count,
			Errors:        stats.errors,
			InFlight:      stats.inFlight,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  float64(stats.maxLatency.Milliseconds()),
			LastLatencyMs: float64(stats.lastLatency.Milliseconds()),
		}
		snap.TotalRequests += stats.count
		snap.TotalErrors += stats.errors
		snap.InFlight += stats.inFlight
	}

	if !m.shutdownAt.IsZero() {
		snap.Lifecycle = &LifecycleSnapshot{
			ShutdownAt:         m.shutdownAt,
			InFlightAtShutdown: m.shutdownFlight,
		}
	}

	return snap
}

// ensureMethod must be called with the lock held.
func (m *Metrics) ensureMethod(method string) *methodStats {
	stats, ok := m.methods[method]
	if !ok {
		stats = &methodStats{}
		m.methods[method] = stats
	}
	return stats
}

func (m *Metrics) finish(method string, dur time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := m.ensureMethod(method)
	stats.inFlight--
	stats.count++
	if failed {
		stats.errors++
	}
	stats.totalLatency += dur
	if dur > stats.maxLatency {
		stats.maxLatency = dur
	}
	stats.lastLatency = dur
}
