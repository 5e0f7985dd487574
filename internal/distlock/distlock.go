package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	hserrors "github.com/superkabe/healthstack/errors"
)

// Locker serializes work per key. The returned release func must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLock is a single SET NX PX lock with a random owner token.
type RedisLock struct {
	client redis.UniversalClient
	key    string
	value  string
	ttl    time.Duration
}

func NewRedisLock(client redis.UniversalClient, key string, ttl time.Duration) *RedisLock {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return &RedisLock{
		client: client,
		key:    fmt.Sprintf("lock:%s", key),
		value:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "failed to acquire lock %s", l.key)
	}
	return ok, nil
}

// Release deletes the key only while we still own it.
func (l *RedisLock) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Result()
	return err
}

// KeyedMutex is a process-local lock per key; entries are dropped when unused.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*slot)}
}

func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	m.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		m.drop(key, s)
		return nil, errors.Wrapf(ctx.Err(), "waiting for lock %s", key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			m.drop(key, s)
		})
	}, nil
}

func (m *KeyedMutex) drop(key string, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}

// EntityLocker takes the local keyed mutex first and then, when a Redis client
// is configured, the distributed lock, polling until waitLimit.
type EntityLocker struct {
	local     *KeyedMutex
	client    redis.UniversalClient
	ttl       time.Duration
	waitLimit time.Duration
	poll      time.Duration
}

func NewEntityLocker(client redis.UniversalClient, ttl, waitLimit time.Duration) *EntityLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if waitLimit <= 0 {
		waitLimit = 5 * time.Second
	}
	return &EntityLocker{
		local:     NewKeyedMutex(),
		client:    client,
		ttl:       ttl,
		waitLimit: waitLimit,
		poll:      25 * time.Millisecond,
	}
}

func (l *EntityLocker) Lock(ctx context.Context, key string) (func(), error) {
	releaseLocal, err := l.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	if l.client == nil {
		return releaseLocal, nil
	}

	lock := NewRedisLock(l.client, key, l.ttl)
	deadline := time.Now().Add(l.waitLimit)
	for {
		ok, err := lock.Acquire(ctx)
		if err != nil {
			releaseLocal()
			return nil, err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			releaseLocal()
			return nil, errors.Wrapf(hserrors.ErrLockNotAcquired, "key %s", key)
		}
		select {
		case <-ctx.Done():
			releaseLocal()
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = lock.Release(releaseCtx)
		releaseLocal()
	}, nil
}

func MailboxKey(mailboxID string) string {
	return "mailbox:" + mailboxID
}

func DomainKey(domainID string) string {
	return "domain:" + domainID
}

func CampaignKey(campaignID string) string {
	return "campaign:" + campaignID
}
