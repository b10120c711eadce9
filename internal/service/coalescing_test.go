package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skycast/forecast-service/internal/models"
)

func TestRequestCoalescer_Do_ConcurrentRequests(t *testing.T) {
	coalescer := newRequestCoalescer(5 * time.Second)
	var callCount int32

	fn := func(ctx context.Context) (models.ForecastRecord, error) {
		atomic.AddInt32(&callCount, 1)
		time.Sleep(50 * time.Millisecond)
		return models.ForecastRecord{LocationKey: "seattle", QueryCost: 1}, nil
	}

	var wg sync.WaitGroup
	results := make([]models.ForecastRecord, 10)
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], _, errs[idx] = coalescer.Do(context.Background(), "seattle", fn)
		}(i)
	}
	wg.Wait()

	for i, result := range results {
		if errs[i] != nil {
			t.Errorf("Request %d error = %v, want nil", i, errs[i])
		}
		if result.LocationKey != "seattle" {
			t.Errorf("Request %d key = %q, want seattle", i, result.LocationKey)
		}
	}
	if got := atomic.LoadInt32(&callCount); got != 1 {
		t.Errorf("fn call count = %d, want 1", got)
	}
}

func TestRequestCoalescer_Do_ErrorPropagation(t *testing.T) {
	coalescer := newRequestCoalescer(5 * time.Second)
	wantErr := errors.New("api failure")

	_, _, err := coalescer.Do(context.Background(), "paris", func(ctx context.Context) (models.ForecastRecord, error) {
		return models.ForecastRecord{}, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Do() error = %v, want %v", err, wantErr)
	}
}

func TestRequestCoalescer_Do_DifferentKeys(t *testing.T) {
	coalescer := newRequestCoalescer(5 * time.Second)
	var callCount int32
	fn := func(ctx context.Context) (models.ForecastRecord, error) {
		atomic.AddInt32(&callCount, 1)
		return models.ForecastRecord{}, nil
	}

	_, _, _ = coalescer.Do(context.Background(), "a", fn)
	_, _, _ = coalescer.Do(context.Background(), "b", fn)
	if got := atomic.LoadInt32(&callCount); got != 2 {
		t.Errorf("fn call count = %d, want 2", got)
	}
}

func TestRequestCoalescer_Do_WaitTimeout(t *testing.T) {
	coalescer := newRequestCoalescer(20 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)

	_, _, err := coalescer.Do(context.Background(), "slow", func(ctx context.Context) (models.ForecastRecord, error) {
		<-release
		return models.ForecastRecord{}, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() error = %v, want context.DeadlineExceeded", err)
	}
}

// TestRequestCoalescer_Do_CallerCancelDoesNotCancelFetch verifies the shared fetch keeps running
// after the caller that started it goes away.
func TestRequestCoalescer_Do_CallerCancelDoesNotCancelFetch(t *testing.T) {
	coalescer := newRequestCoalescer(5 * time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	fetchErr := make(chan error, 1)
	go func() {
		_, _, _ = coalescer.Do(ctx, "rome", func(fctx context.Context) (models.ForecastRecord, error) {
			close(started)
			time.Sleep(50 * time.Millisecond)
			fetchErr <- fctx.Err()
			return models.ForecastRecord{LocationKey: "rome"}, nil
		})
	}()

	<-started
	cancel()

	select {
	case err := <-fetchErr:
		if err != nil {
			t.Errorf("fetch context error = %v, want nil after caller cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not finish")
	}
}
