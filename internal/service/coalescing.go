package service

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/skycast/forecast-service/internal/models"
)

// requestCoalescer lets concurrent misses for one key share a single fetch-and-store.
type requestCoalescer struct {
	group   singleflight.Group
	timeout time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{timeout: timeout}
}

// Do runs fn once per key among concurrent callers. fn gets a context detached from the
// first caller's cancellation and bounded by the coalescer timeout, so one caller leaving
// does not fail the others. Each caller still waits no longer than its own ctx or the timeout.
// shared reports whether the result was delivered to more than one caller.
func (rc *requestCoalescer) Do(ctx context.Context, key string, fn func(context.Context) (models.ForecastRecord, error)) (rec models.ForecastRecord, shared bool, err error) {
	ch := rc.group.DoChan(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
		defer cancel()
		return fn(fetchCtx)
	})

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()

	select {
	case res := <-ch:
		if res.Err != nil {
			return models.ForecastRecord{}, res.Shared, res.Err
		}
		return res.Val.(models.ForecastRecord), res.Shared, nil
	case <-waitCtx.Done():
		return models.ForecastRecord{}, false, waitCtx.Err()
	}
}
