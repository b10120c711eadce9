package service

import (
	"sync"
	"testing"
)

func TestMissTracker_BeginEnd(t *testing.T) {
	mt := newMissTracker()
	key := "seattle"

	if got := mt.begin(key); got != 1 {
		t.Errorf("begin first = %d, want 1", got)
	}
	if got := mt.begin(key); got != 2 {
		t.Errorf("begin second = %d, want 2", got)
	}

	mt.end(key)
	if got := mt.begin(key); got != 2 {
		t.Errorf("after one end, begin = %d, want 2", got)
	}
	mt.end(key)
	mt.end(key)
	if got := mt.begin(key); got != 1 {
		t.Errorf("after all ended, begin = %d, want 1", got)
	}
	mt.end(key)

	mt.end("never-started")
	if len(mt.active) != 0 {
		t.Errorf("active = %v, want empty", mt.active)
	}
}

func TestMissTracker_Concurrent(t *testing.T) {
	mt := newMissTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mt.begin("k")
			mt.end("k")
		}()
	}
	wg.Wait()
	if len(mt.active) != 0 {
		t.Errorf("active = %v, want empty", mt.active)
	}
}
