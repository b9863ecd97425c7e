package observability

import (
	"encoding/json"
	"net/http"
)

// Handler serves the metrics snapshot as JSON.
func Handler(metrics *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := metrics.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})
}

// NewServeMux wires the observability endpoints: the JSON snapshot, the
// Prometheus exposition and, when events is set, the checkout event stream.
func NewServeMux(metrics *Metrics, prom http.Handler, events http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics.json", Handler(metrics))
	if prom != nil {
		mux.Handle("GET /metrics", prom)
	}
	if events != nil {
		mux.Handle("/events", events)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
