package observability

import (
	"fmt"

	"go.uber.org/zap"
)

// FlushTelemetry is the last shutdown step, after in-flight forecast requests have drained and
// the cache and redis connections are closed, so their close errors reach the log. Metrics are
// scraped from /metrics and need no flush.
func FlushTelemetry(logger *zap.Logger) error {
	if logger == nil {
		return nil
	}
	if err := logger.Sync(); err != nil {
		return fmt.Errorf("sync forecast-service logger: %w", err)
	}
	return nil
}
