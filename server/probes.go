package server

import (
	"context"
	"database/sql"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	probeTimeout       = 2 * time.Second
	maxGoroutines      = 5000
	maxGateSnapshotAge = 15 * time.Minute
)

type snapshotClock interface {
	LoadedAt() time.Time
}

// newProbes builds the /live and /ready handlers. db and redisClient may be nil.
func newProbes(db *sql.DB, redisClient redis.UniversalClient, gate snapshotClock, now func() time.Time) healthcheck.Handler {
	h := healthcheck.NewHandler()

	h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))

	if db != nil {
		h.AddReadinessCheck("database", healthcheck.DatabasePingCheck(db, probeTimeout))
	}
	if redisClient != nil {
		h.AddReadinessCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
			defer cancel()
			return redisClient.Ping(ctx).Err()
		})
	}
	if gate != nil {
		h.AddReadinessCheck("gate-snapshot", func() error {
			loaded := gate.LoadedAt()
			if loaded.IsZero() {
				return errors.New("gate snapshot not loaded")
			}
			if age := now().Sub(loaded); age > maxGateSnapshotAge {
				return errors.Errorf("gate snapshot is %s old", age.Truncate(time.Second))
			}
			return nil
		})
	}
	return h
}
