package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// Lock is a lock held through a Locker.
type Lock struct {
	release func(ctx context.Context) error

	once sync.Once
	err  error

	lost     chan struct{}
	lostOnce sync.Once
}

func newLock(release func(ctx context.Context) error) *Lock {
	return &Lock{release: release, lost: make(chan struct{})}
}

// Lost is closed when the lock expired while still held. The holder no longer
// has exclusive use of the key.
func (l *Lock) Lost() <-chan struct{} {
	return l.lost
}

// Unlock releases the lock. Only the first call has an effect.
func (l *Lock) Unlock(ctx context.Context) error {
	l.once.Do(func() {
		l.err = l.release(ctx)
	})
	return l.err
}

func (l *Lock) markLost() {
	l.lostOnce.Do(func() { close(l.lost) })
}

// Locker guards an origin account so that only one session uses it at a time.
// Two sessions on the same origin would race on its remote balance.
type Locker interface {
	// TryLock takes the lock without waiting. Fails with ErrLocked when the
	// lock is held.
	TryLock(ctx context.Context, key string) (*Lock, error)
}

// LocalLocker is an in-process Locker for single-daemon deployments.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// TryLock implements Locker.
func (l *LocalLocker) TryLock(ctx context.Context, key string) (*Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, key)
	}
	l.held[key] = struct{}{}

	return newLock(func(context.Context) error {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
		return nil
	}), nil
}

// RedisLocker is a Locker shared between daemons through Redis. Held locks
// are extended in the background until released, so a crashed daemon frees
// its origins after one expiry. A lock that could not be extended before it
// expired is reported through Lock.Lost.
type RedisLocker struct {
	rs     *redsync.Redsync
	prefix string
	expiry time.Duration
	log    *slog.Logger
}

// NewRedisLocker creates a Redis backed locker.
func NewRedisLocker(client *redis.Client, expiry time.Duration, log *slog.Logger) *RedisLocker {
	if expiry <= 0 {
		expiry = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		prefix: "ledgermix:origin:",
		expiry: expiry,
		log:    log,
	}
}

// TryLock implements Locker.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (*Lock, error) {
	mutex := l.rs.NewMutex(l.prefix+key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(1),
	)

	acquired := time.Now()
	if err := mutex.LockContext(ctx); err != nil {
		if isLockContention(err) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, key)
		}
		return nil, fmt.Errorf("acquiring lock for %s: %w", key, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	lock := newLock(func(ctx context.Context) error {
		close(stop)
		<-done
		if _, err := mutex.UnlockContext(ctx); err != nil {
			return fmt.Errorf("releasing lock for %s: %w", key, err)
		}
		return nil
	})
	go l.keepAlive(mutex, lock, acquired, stop, done)

	return lock, nil
}

func (l *RedisLocker) keepAlive(mutex *redsync.Mutex, lock *Lock, acquired time.Time, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.expiry / 3)
	defer ticker.Stop()

	validUntil := acquired.Add(l.expiry)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			attempt := time.Now()
			ok, err := mutex.Extend()
			if err == nil && ok {
				validUntil = attempt.Add(l.expiry)
				continue
			}
			l.log.Warn("Could not extend origin lock", "lock", mutex.Name(), "err", err)

			if !time.Now().Before(validUntil) {
				l.log.Error("Origin lock expired while held", "lock", mutex.Name())
				lock.markLost()
				return
			}
		}
	}
}

func isLockContention(err error) bool {
	var taken *redsync.ErrTaken
	return errors.Is(err, redsync.ErrFailed) ||
		errors.As(err, &taken) ||
		strings.Contains(err.Error(), "lock already taken")
}
