package preferences

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/skycast/forecast-service/internal/models"
)

const (
	fieldSevereAlerts        = "severe_alerts"
	fieldDailyForecast       = "daily_forecast"
	fieldPrecipitationAlerts = "precipitation_alerts"
)

// RedisStore keeps each profile in the hash preferences:{profile}. Missing fields read as defaults.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func hashKey(profile string) string {
	return "preferences:" + profile
}

func (s *RedisStore) Get(ctx context.Context, profile string) (models.NotificationPreferences, error) {
	fields, err := s.client.HGetAll(ctx, hashKey(profile)).Result()
	if err != nil {
		return models.NotificationPreferences{}, fmt.Errorf("%w: redis hgetall: %w", ErrStoreUnavailable, err)
	}
	prefs := models.DefaultNotificationPreferences()
	applyField(fields, fieldSevereAlerts, &prefs.SevereAlerts)
	applyField(fields, fieldDailyForecast, &prefs.DailyForecast)
	applyField(fields, fieldPrecipitationAlerts, &prefs.PrecipitationAlerts)
	return prefs, nil
}

// applyField overwrites dst when the hash holds a parseable value for name.
func applyField(fields map[string]string, name string, dst *bool) {
	raw, ok := fields[name]
	if !ok {
		return
	}
	if v, err := strconv.ParseBool(raw); err == nil {
		*dst = v
	}
}

// Update writes only the patched fields, then reads back the merged result.
func (s *RedisStore) Update(ctx context.Context, profile string, patch models.PreferencesPatch) (models.NotificationPreferences, error) {
	var values []interface{}
	if patch.SevereAlerts != nil {
		values = append(values, fieldSevereAlerts, strconv.FormatBool(*patch.SevereAlerts))
	}
	if patch.DailyForecast != nil {
		values = append(values, fieldDailyForecast, strconv.FormatBool(*patch.DailyForecast))
	}
	if patch.PrecipitationAlerts != nil {
		values = append(values, fieldPrecipitationAlerts, strconv.FormatBool(*patch.PrecipitationAlerts))
	}
	if len(values) > 0 {
		if err := s.client.HSet(ctx, hashKey(profile), values...).Err(); err != nil {
			return models.NotificationPreferences{}, fmt.Errorf("%w: redis hset: %w", ErrStoreUnavailable, err)
		}
	}
	return s.Get(ctx, profile)
}
