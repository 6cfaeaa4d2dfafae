// Package health serves Kubernetes-style /livez and /readyz probes backed by
// periodically evaluated checks.
//
// Checks flip state on consecutive results only: failThreshold failures in a
// row mark a check unhealthy, one success marks it healthy again. A single
// flaky evaluation therefore never drops the service out of rotation.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc evaluates one dependency, returning nil when it is healthy.
type CheckFunc func(ctx context.Context) error

const defaultFailThreshold = 3

type kind int

const (
	liveness kind = iota
	readiness
)

// check is one registered probe with its consecutive-result state. eval runs
// on a single goroutine per check; healthy and lastErr are also read by the
// HTTP endpoints, so they are atomics.
type check struct {
	name    string
	kind    kind
	timeout time.Duration
	fn      CheckFunc

	healthy atomic.Bool
	lastErr atomic.Pointer[error]
	fails   int
}

func (c *check) eval(ctx context.Context) {
	evalCtx, cancel := context.WithTimeout(ctx, c.timeout)
	err := c.fn(evalCtx)
	cancel()
	c.lastErr.Store(&err)

	if err == nil {
		c.fails = 0
		c.healthy.Store(true)
		return
	}
	c.fails++
	if c.fails >= defaultFailThreshold {
		c.healthy.Store(false)
	}
}

func (c *check) failure() (string, bool) {
	if c.healthy.Load() {
		return "", false
	}
	if p := c.lastErr.Load(); p != nil && *p != nil {
		return (*p).Error(), true
	}
	return "check is unhealthy", true
}

// Health tracks registered checks and the manual readiness gate. The zero
// readiness gate is closed; call SetReady(true) once startup completes.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks []*check
	cancel context.CancelFunc
}

// New creates a Health with no checks and the readiness gate closed.
func New() *Health {
	return &Health{}
}

func (h *Health) add(k kind, name string, timeout time.Duration, fn CheckFunc) {
	c := &check{name: name, kind: k, timeout: timeout, fn: fn}
	// Healthy until the failure threshold says otherwise.
	c.healthy.Store(true)

	h.mu.Lock()
	h.checks = append(h.checks, c)
	h.mu.Unlock()
}

// AddLivenessCheck registers a check gating /livez, for process-level problems
// such as goroutine leaks.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.add(liveness, name, timeout, fn)
}

// AddReadinessCheck registers a check gating /readyz, for dependencies the
// service needs before accepting traffic.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.add(readiness, name, timeout, fn)
}

// Start evaluates every registered check now and then on the given interval,
// each on its own goroutine, until ctx is cancelled or Stop is called.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := make([]*check, len(h.checks))
	copy(checks, h.checks)
	h.mu.Unlock()

	for _, c := range checks {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			c.eval(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					c.eval(ctx)
				}
			}
		}()
	}
}

// Stop cancels the background check goroutines. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady opens or closes the manual readiness gate. Graceful shutdown closes
// it first so the load balancer drains the instance before the listener stops.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the gate is open and every readiness check passes.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.checks {
		if c.kind == readiness && !c.healthy.Load() {
			return false
		}
	}
	return true
}

type probeResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 while every liveness check passes, 503 with
// per-check failures otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.serve(w, liveness, true)
}

// ReadyEndpoint serves /readyz: 200 while the readiness gate is open and every
// readiness check passes, 503 with details otherwise.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.serve(w, readiness, h.ready.Load())
}

func (h *Health) serve(w http.ResponseWriter, k kind, gate bool) {
	failures := make(map[string]string)
	if !gate {
		failures["_readiness"] = "service is not ready"
	}

	h.mu.RLock()
	for _, c := range h.checks {
		if c.kind != k {
			continue
		}
		if msg, failed := c.failure(); failed {
			failures[c.name] = msg
		}
	}
	h.mu.RUnlock()

	resp := probeResponse{Status: "ok"}
	code := http.StatusOK
	if len(failures) > 0 {
		resp = probeResponse{Status: "unhealthy", Checks: failures}
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
