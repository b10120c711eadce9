package service

import (
	"sync"
)

// missTracker counts fetches in progress per key. More than one at a time for the same key
// is a cache stampede.
type missTracker struct {
	mu     sync.Mutex
	active map[string]int
}

func newMissTracker() *missTracker {
	return &missTracker{
		active: make(map[string]int),
	}
}

// begin records a miss for key and returns how many misses for key are now in progress.
// Pair every call with end.
func (t *missTracker) begin(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[key]++
	return t.active[key]
}

func (t *missTracker) end(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if count, ok := t.active[key]; ok && count > 0 {
		t.active[key]--
		if t.active[key] == 0 {
			delete(t.active, key)
		}
	}
}
