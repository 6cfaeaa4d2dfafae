package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck reports unhealthy once the process holds more than limit
// goroutines, catching leaks before they exhaust memory.
func GoroutineCountCheck(limit int) CheckFunc {
	return func(_ context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("%d goroutines running, limit %d", n, limit)
		}
		return nil
	}
}

// Pinger is satisfied by connection pools exposing a Ping method.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts a connection pool's Ping into a readiness check.
func PingCheck(p Pinger) CheckFunc {
	return p.Ping
}
