package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycast/forecast-service/internal/models"
)

func newMockSQLCache(t *testing.T, dialect Dialect) (*SQLCache, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLCache(db, dialect), mock
}

func forecastRows(recs ...models.ForecastRecord) *sqlmock.Rows {
	rows := sqlmock.NewRows(strings.Split(forecastColumns, ", "))
	for _, r := range recs {
		days, _ := json.Marshal(r.Days)
		rows.AddRow(r.LocationKey, r.QueryCost, r.Latitude, r.Longitude, r.ResolvedAddress,
			r.Address, r.Timezone, r.TZOffset, string(days), r.LastUpdated.UnixNano())
	}
	return rows
}

func TestSQLCache_Get(t *testing.T) {
	for _, dialect := range []Dialect{DialectMySQL, DialectPostgres} {
		t.Run(string(dialect), func(t *testing.T) {
			c, mock := newMockSQLCache(t, dialect)
			rec := sampleRecord("tokyo", time.Date(2026, 10, 17, 9, 0, 0, 123, time.UTC))

			mock.ExpectQuery(c.getQuery).WithArgs("tokyo").WillReturnRows(forecastRows(rec))

			got, ok, err := c.Get(context.Background(), "tokyo")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, rec, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLCache_Get_Miss(t *testing.T) {
	c, mock := newMockSQLCache(t, DialectMySQL)

	mock.ExpectQuery(c.getQuery).WithArgs("atlantis").WillReturnRows(forecastRows())

	_, ok, err := c.Get(context.Background(), "atlantis")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCache_Get_Error(t *testing.T) {
	c, mock := newMockSQLCache(t, DialectPostgres)

	mock.ExpectQuery(c.getQuery).WithArgs("tokyo").WillReturnError(errors.New("connection refused"))

	_, ok, err := c.Get(context.Background(), "tokyo")
	assert.ErrorIs(t, err, ErrCacheUnavailable)
	assert.False(t, ok)
}

func TestSQLCache_Put(t *testing.T) {
	for _, dialect := range []Dialect{DialectMySQL, DialectPostgres} {
		t.Run(string(dialect), func(t *testing.T) {
			c, mock := newMockSQLCache(t, dialect)
			rec := sampleRecord("paris", time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC))
			days, _ := json.Marshal(rec.Days)

			mock.ExpectExec(c.upsertQuery).
				WithArgs(rec.LocationKey, rec.QueryCost, rec.Latitude, rec.Longitude, rec.ResolvedAddress,
					rec.Address, rec.Timezone, rec.TZOffset, string(days), rec.LastUpdated.UnixNano()).
				WillReturnResult(sqlmock.NewResult(0, 1))

			require.NoError(t, c.Put(context.Background(), rec))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLCache_UpsertQueries(t *testing.T) {
	my := NewSQLCache(nil, DialectMySQL)
	assert.True(t, strings.HasPrefix(my.upsertQuery, "REPLACE INTO forecast_cache"))

	pg := NewSQLCache(nil, DialectPostgres)
	assert.Contains(t, pg.upsertQuery, "ON CONFLICT (location_key) DO UPDATE SET query_cost = EXCLUDED.query_cost")
	assert.Contains(t, pg.upsertQuery, "last_updated = EXCLUDED.last_updated")
	assert.NotContains(t, pg.upsertQuery, "location_key = EXCLUDED")
}

func TestSQLCache_GetUpdatedSince(t *testing.T) {
	c, mock := newMockSQLCache(t, DialectMySQL)
	since := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	a := sampleRecord("a", since.Add(time.Minute))
	b := sampleRecord("b", since.Add(time.Hour))

	mock.ExpectQuery(c.sinceQuery).WithArgs(since.UnixNano()).WillReturnRows(forecastRows(a, b))

	got, err := c.GetUpdatedSince(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, []models.ForecastRecord{a, b}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCache_EnsureSchema(t *testing.T) {
	c, mock := newMockSQLCache(t, DialectPostgres)
	for _, stmt := range c.schema {
		mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, c.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCache_EnsureSchema_Error(t *testing.T) {
	c, mock := newMockSQLCache(t, DialectMySQL)
	mock.ExpectExec(c.schema[0]).WillReturnError(errors.New("access denied"))

	err := c.EnsureSchema(context.Background())
	assert.ErrorContains(t, err, "initialize forecast_cache schema")
}
