// Package lifecycle holds the process-wide drain flag set when the forecast service receives
// SIGINT or SIGTERM.
package lifecycle

import "sync/atomic"

var draining atomic.Bool

// SetShuttingDown marks the service as draining. While set, /health answers 503
// "shutting-down" ahead of the breaker and cache checks so load balancers stop routing
// forecast traffic before the server closes its listener.
func SetShuttingDown(v bool) {
	draining.Store(v)
}

// IsShuttingDown reports whether shutdown has begun.
func IsShuttingDown() bool {
	return draining.Load()
}
