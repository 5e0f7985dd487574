package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/superkabe/healthstack/internal/enum"
)

// Deduplicator is the fast path in front of the unique index on delivery events.
type Deduplicator interface {
	// Claim reports true when the key was not seen within the window.
	Claim(ctx context.Context, key string) (bool, error)
	// Release drops a claim whose event could not be persisted.
	Release(ctx context.Context, key string)
	Store() string
}

func DedupKey(provider enum.Provider, providerEventID, mailboxID string) string {
	return fmt.Sprintf("dedup:%s:%s:%s", provider, providerEventID, mailboxID)
}

type redisDeduplicator struct {
	client  redis.UniversalClient
	window  time.Duration
	timeout time.Duration
}

// NewDeduplicator returns a Redis SETNX deduplicator, or a pass-through one when client is nil.
func NewDeduplicator(client redis.UniversalClient, window, timeout time.Duration) Deduplicator {
	if client == nil {
		return noopDeduplicator{}
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	return &redisDeduplicator{client: client, window: window, timeout: timeout}
}

func (d *redisDeduplicator) Claim(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ok, err := d.client.SetNX(ctx, key, 1, d.window).Result()
	if err != nil {
		return true, errors.Wrapf(err, "dedup claim %s", key)
	}
	return ok, nil
}

func (d *redisDeduplicator) Release(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	_ = d.client.Del(ctx, key).Err()
}

func (d *redisDeduplicator) Store() string {
	return "redis"
}

type noopDeduplicator struct{}

func (noopDeduplicator) Claim(context.Context, string) (bool, error) {
	return true, nil
}

func (noopDeduplicator) Release(context.Context, string) {}

func (noopDeduplicator) Store() string {
	return "none"
}
