package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// PeriodLocker serializes reconciliation runs for the same period. Runs for
// different periods do not block each other.
type PeriodLocker interface {
	// Lock blocks until the period is free or ctx is done. The returned
	// function releases the lock and is safe to call once.
	Lock(ctx context.Context, period string) (func(), error)
}

// KeyedMutex is an in-process PeriodLocker.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch      chan struct{}
	waiters int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock implements PeriodLocker.
func (k *KeyedMutex) Lock(ctx context.Context, period string) (func(), error) {
	k.mu.Lock()
	entry, ok := k.locks[period]
	if !ok {
		entry = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[period] = entry
	}
	entry.waiters++
	k.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(period, entry, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { k.release(period, entry, true) })
	}, nil
}

func (k *KeyedMutex) release(period string, entry *keyedEntry, held bool) {
	if held {
		<-entry.ch
	}
	k.mu.Lock()
	entry.waiters--
	if entry.waiters == 0 {
		delete(k.locks, period)
	}
	k.mu.Unlock()
}

// RedisLocker is a PeriodLocker shared by every process using the same Redis.
type RedisLocker struct {
	client *redislock.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker builds a RedisLocker. ttl bounds how long a crashed holder
// can block others. A live holder refreshes its lock every ttl/3.
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLocker{
		client: redislock.New(rdb),
		prefix: "reconcile",
		ttl:    ttl,
		retry:  200 * time.Millisecond,
	}
}

// Lock implements PeriodLocker. It retries until ctx is done.
func (r *RedisLocker) Lock(ctx context.Context, period string) (func(), error) {
	key := fmt.Sprintf("%s:%s", r.prefix, period)
	lock, err := r.client.Obtain(ctx, key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(r.retry),
	})
	if err == redislock.ErrNotObtained {
		return nil, fmt.Errorf("could not obtain lock for period %s", period)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock for period %s: %w", period, err)
	}
	return keepAlive(lock, r.ttl, r.ttl/3), nil
}

// heldLock is the part of *redislock.Lock used while a run holds it.
type heldLock interface {
	Refresh(ctx context.Context, ttl time.Duration, opt *redislock.Options) error
	Release(ctx context.Context) error
}

// keepAlive extends lock to ttl every interval until the returned function
// is called, which stops the refreshes and releases the lock.
func keepAlive(lock heldLock, ttl, interval time.Duration) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				// A failed refresh is retried on the next tick while the
				// current ttl still covers the holder.
				refreshCtx, cancel := context.WithTimeout(context.Background(), interval)
				_ = lock.Refresh(refreshCtx, ttl, nil)
				cancel()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// A fresh context so release still happens after the caller's
			// deadline has passed.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lock.Release(releaseCtx)
		})
	}
}
