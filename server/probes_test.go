package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ loaded time.Time }

func (f fixedClock) LoadedAt() time.Time { return f.loaded }

func ready(t *testing.T, h http.HandlerFunc) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	return rec.Code
}

func TestProbes_LiveWithoutDependencies(t *testing.T) {
	h := newProbes(nil, nil, nil, time.Now)
	rec := httptest.NewRecorder()
	h.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProbes_ReadyNeedsLoadedGate(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	assert.Equal(t, http.StatusServiceUnavailable, ready(t, newProbes(nil, nil, fixedClock{}, clock).ReadyEndpoint))
	assert.Equal(t, http.StatusOK, ready(t, newProbes(nil, nil, fixedClock{loaded: now.Add(-time.Minute)}, clock).ReadyEndpoint))
	assert.Equal(t, http.StatusServiceUnavailable, ready(t, newProbes(nil, nil, fixedClock{loaded: now.Add(-time.Hour)}, clock).ReadyEndpoint))
}

func TestProbes_ReadyPingsDatabaseAndRedis(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	h := newProbes(db, client, nil, time.Now)
	assert.Equal(t, http.StatusOK, ready(t, h.ReadyEndpoint))
	assert.NoError(t, mock.ExpectationsWereMet())

	mr.Close()
	mock.ExpectPing()
	assert.Equal(t, http.StatusServiceUnavailable, ready(t, h.ReadyEndpoint))
}
