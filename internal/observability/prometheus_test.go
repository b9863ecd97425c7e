package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"cartsaga/internal/checkout"
)

func TestSagaCollector_RecordsStepsAndRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSagaCollector(reg)
	if err != nil {
		t.Fatalf("NewSagaCollector: %v", err)
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	payment := checkout.Succeeded(checkout.StepPayment, 2)
	shipping := checkout.Failed(checkout.StepShipping, checkout.FaultResponse, "declined", 3)
	ctx := context.Background()
	for _, tr := range []checkout.Transition{
		{CartID: 1, From: checkout.StateIdle, To: checkout.StatePaymentInFlight, At: base},
		{CartID: 1, From: checkout.StatePaymentInFlight, To: checkout.StateShippingInFlight, Outcome: &payment, At: base.Add(2 * time.Second)},
		{CartID: 1, From: checkout.StateShippingInFlight, To: checkout.StateCompensating, Outcome: &shipping, At: base.Add(5 * time.Second)},
		{CartID: 1, From: checkout.StateCompensating, To: checkout.StateFailed, At: base.Add(6 * time.Second)},
	} {
		collector.Observe(ctx, tr)
	}

	if got := testutil.ToFloat64(collector.checkouts.WithLabelValues("failed")); got != 1 {
		t.Fatalf("expected 1 failed run, got %v", got)
	}
	if got := testutil.ToFloat64(collector.steps.WithLabelValues("payment", "none")); got != 1 {
		t.Fatalf("expected 1 successful payment, got %v", got)
	}
	if got := testutil.ToFloat64(collector.steps.WithLabelValues("shipping", "response")); got != 1 {
		t.Fatalf("expected 1 shipping response failure, got %v", got)
	}
	if got := testutil.ToFloat64(collector.compensations); got != 1 {
		t.Fatalf("expected 1 compensation, got %v", got)
	}
	if n := testutil.CollectAndCount(collector.stepDuration); n != 2 {
		t.Fatalf("expected duration series for both steps, got %d", n)
	}
	if len(collector.started) != 0 {
		t.Fatalf("expected in-flight tracking to be released, got %v", collector.started)
	}
}

func TestSagaCollector_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewSagaCollector(reg); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := NewSagaCollector(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestPrometheusHandlerFor_Exposes(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSagaCollector(reg)
	if err != nil {
		t.Fatalf("NewSagaCollector: %v", err)
	}
	collector.Observe(context.Background(), checkout.Transition{CartID: 3, From: checkout.StateShippingInFlight, To: checkout.StateCommitted})

	rr := httptest.NewRecorder()
	PrometheusHandlerFor(reg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rr.Body.String(), `cartsaga_checkout_runs_total{state="committed"} 1`) {
		t.Fatalf("expected committed counter in exposition, got:\n%s", rr.Body.String())
	}
}
