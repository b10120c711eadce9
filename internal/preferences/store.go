// Package preferences stores per-profile notification toggles.
package preferences

import (
	"context"
	"errors"
	"sync"

	"github.com/skycast/forecast-service/internal/models"
)

// ErrStoreUnavailable wraps backend failures.
var ErrStoreUnavailable = errors.New("preferences store unavailable")

// Store reads and patches notification preferences. Unknown profiles read as defaults.
type Store interface {
	Get(ctx context.Context, profile string) (models.NotificationPreferences, error)
	Update(ctx context.Context, profile string, patch models.PreferencesPatch) (models.NotificationPreferences, error)
}

// InMemoryStore keeps preferences in process memory.
type InMemoryStore struct {
	mu    sync.RWMutex
	prefs map[string]models.NotificationPreferences
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{prefs: make(map[string]models.NotificationPreferences)}
}

func (s *InMemoryStore) Get(ctx context.Context, profile string) (models.NotificationPreferences, error) {
	if err := ctx.Err(); err != nil {
		return models.NotificationPreferences{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.prefs[profile]; ok {
		return p, nil
	}
	return models.DefaultNotificationPreferences(), nil
}

func (s *InMemoryStore) Update(ctx context.Context, profile string, patch models.PreferencesPatch) (models.NotificationPreferences, error) {
	if err := ctx.Err(); err != nil {
		return models.NotificationPreferences{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.prefs[profile]
	if !ok {
		current = models.DefaultNotificationPreferences()
	}
	updated := current.Apply(patch)
	s.prefs[profile] = updated
	return updated, nil
}
