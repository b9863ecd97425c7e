package checkout

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backendRecorder struct {
	mu       sync.Mutex
	requests []string
	status   int
}

func (b *backendRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.requests = append(b.requests, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)
	status := b.status
	b.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte("backend says no"))
}

func TestHTTPStepClient_PostsToStepEndpoint(t *testing.T) {
	backend := &backendRecorder{}
	server := httptest.NewServer(backend)
	defer server.Close()

	client := NewHTTPStepClient(server.Client(), map[StepName]string{
		StepPayment:  server.URL + "/",
		StepShipping: server.URL,
	})

	require.NoError(t, client.Invoke(context.Background(), 12, StepPayment))
	require.NoError(t, client.Invoke(context.Background(), 12, StepShipping))
	require.NoError(t, client.Reverse(context.Background(), 12, StepPayment))

	assert.Equal(t, []string{
		"POST /payment/process?cartId=12",
		"POST /shipping/process?cartId=12",
		"POST /payment/reverse?cartId=12",
	}, backend.requests)
}

func TestHTTPStepClient_NonSuccessIsExplicitFailure(t *testing.T) {
	backend := &backendRecorder{status: http.StatusBadRequest}
	server := httptest.NewServer(backend)
	defer server.Close()

	client := NewHTTPStepClient(nil, map[StepName]string{StepPayment: server.URL})
	err := client.Invoke(context.Background(), 1, StepPayment)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, http.StatusBadRequest, stepErr.Status)
	assert.Equal(t, "backend says no", stepErr.Detail)
	assert.Equal(t, FaultResponse, ClassifyFault(err))
}

func TestHTTPStepClient_UnreachableIsTransportFault(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewHTTPStepClient(nil, map[StepName]string{StepShipping: url})
	err := client.Invoke(context.Background(), 1, StepShipping)

	require.Error(t, err)
	assert.Equal(t, FaultTransport, ClassifyFault(err))
}

func TestHTTPStepClient_UnknownStep(t *testing.T) {
	client := NewHTTPStepClient(nil, nil)
	assert.ErrorIs(t, client.Invoke(context.Background(), 1, StepPayment), ErrUnknownStep)
}

func TestHTTPStepClient_SlowBackendHitsStepTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewHTTPStepClient(server.Client(), map[StepName]string{StepPayment: server.URL})
	executor := NewStepExecutor(client, noSleepPolicy(1),
		WithStepTimeout(50*time.Millisecond),
		WithExecutorLogger(testr.New(t)),
	)

	outcome := executor.Execute(context.Background(), 1, StepPayment)

	assert.False(t, outcome.Success)
	assert.Equal(t, FaultTransport, outcome.Fault)
	assert.Contains(t, outcome.Reason, ErrStepTimeout.Error())
}

func TestBuildActivities_FallsBackToNoop(t *testing.T) {
	acts, client := BuildActivities(DefaultStepConfig(), testr.New(t))

	assert.IsType(t, NoopStepClient{}, client)
	outcome := acts.Runner.RunStep(context.Background(), 1, StepPayment)
	assert.True(t, outcome.Success)
	assert.NoError(t, acts.Compensator.Compensate(context.Background(), StepPayment, 1))
}

func TestBuildActivities_WrapsReliabilityControls(t *testing.T) {
	cfg := DefaultStepConfig()
	cfg.PaymentURL = "http://payment.local"
	cfg.ShippingURL = "http://shipping.local"
	cfg.BreakerMaxFailures = 2
	cfg.RateLimitInterval = time.Millisecond
	cfg.RateLimitBurst = 5

	_, client := BuildActivities(cfg, testr.New(t))

	assert.IsType(t, &ReliableStepClient{}, client)
}

func TestBuildActivities_OpenShippingBreakerStillReversesPayment(t *testing.T) {
	var mu sync.Mutex
	counts := map[string]int{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		counts[r.URL.Path]++
		mu.Unlock()
		if r.URL.Path == "/shipping/process" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := DefaultStepConfig()
	cfg.PaymentURL = server.URL
	cfg.ShippingURL = server.URL
	cfg.RetryBackoff = 0
	cfg.BreakerMaxFailures = 3
	cfg.BreakerResetTimeout = time.Hour

	acts, _ := BuildActivities(cfg, testr.New(t))
	orchestrator := NewOrchestrator()

	first := orchestrator.Run(context.Background(), 1, acts)
	second := orchestrator.Run(context.Background(), 2, acts)

	assert.False(t, first.Result.Success)
	assert.False(t, second.Result.Success)
	assert.Empty(t, first.CompensationErr)
	assert.Empty(t, second.CompensationErr)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, counts["/payment/process"], "payment breaker stays closed while shipping fails")
	assert.Equal(t, 3, counts["/shipping/process"], "shipping breaker opens after three failures")
	assert.Equal(t, 2, counts["/payment/reverse"])
}
