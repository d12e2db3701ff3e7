package apiserver

import (
	"net/http"
	"sync/atomic"
)

// HealthChecker tracks whether the sandbox control API is ready to accept
// requests — ready flips true once the HTTP listener is up and the cluster
// gateway has been constructed, and back to false while the server is
// draining during shutdown.
type HealthChecker struct {
	ready atomic.Bool
}

// NewHealthChecker returns a checker that starts not-ready.
func NewHealthChecker() *HealthChecker {
	hc := &HealthChecker{}
	hc.ready.Store(false)
	return hc
}

// SetReady flips the readiness state.
func (hc *HealthChecker) SetReady(ready bool) {
	hc.ready.Store(ready)
}

// IsReady reports the current readiness state.
func (hc *HealthChecker) IsReady() bool {
	return hc.ready.Load()
}

// LivenessHandler answers unconditionally: the process is up and serving.
func (hc *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

// ReadinessHandler answers 503 until the server has finished wiring its
// gateway and is accepting sandbox requests.
func (hc *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hc.IsReady() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready"))
		}
	})
}

// attachHealthEndpoints registers the liveness/readiness probes used by the
// deployment's own health checks; these are unauthenticated, unlike every
// /api/v1/* route.
func attachHealthEndpoints(mux *http.ServeMux, checker *HealthChecker) {
	mux.Handle("GET /healthz", checker.LivenessHandler())
	mux.Handle("GET /readyz", checker.ReadinessHandler())
}
