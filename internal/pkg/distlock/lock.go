// Package distlock is a Redis lock that keeps ticks single-flight across
// processes sharing one database.
package distlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"papertrader/internal/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned by TryLock when another owner holds the key.
var ErrHeld = errors.New("distlock: lock already held")

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const extendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

type Locker struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// Lock is one acquisition. It renews itself every ttl/3 until released.
type Lock struct {
	locker *Locker
	token  string
	stop   chan struct{}
	once   sync.Once
	done   sync.WaitGroup
}

func New(client redis.UniversalClient, key string, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if key == "" {
		key = "papertrader:tick"
	}
	return &Locker{client: client, key: key, ttl: ttl}
}

// NewFromAddr dials a plain Redis client.
func NewFromAddr(addr, password string, db int, key string, ttl time.Duration) *Locker {
	return New(redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}), key, ttl)
}

// Ping checks connectivity.
func (l *Locker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *Locker) Close() error {
	return l.client.Close()
}

// TryLock acquires the key without waiting.
func (l *Locker) TryLock(ctx context.Context) (*Lock, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("distlock acquire: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}
	lock := &Lock{locker: l, token: token, stop: make(chan struct{})}
	lock.done.Add(1)
	go lock.renew()
	return lock, nil
}

func (lk *Lock) renew() {
	defer lk.done.Done()
	interval := lk.locker.ttl / 3
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-lk.stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := lk.locker.client.Eval(ctx, extendScript, []string{lk.locker.key}, lk.token, lk.locker.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				logger.Warnf("distlock renew failed: %v", err)
				continue
			}
			if n == 0 {
				logger.Warnf("distlock: lock %s lost before release", lk.locker.key)
				return
			}
		}
	}
}

// Release deletes the key if this lock still owns it. Calling it twice is safe.
func (lk *Lock) Release(ctx context.Context) error {
	if lk == nil {
		return nil
	}
	var err error
	lk.once.Do(func() {
		close(lk.stop)
		lk.done.Wait()
		var n int64
		n, err = lk.locker.client.Eval(ctx, releaseScript, []string{lk.locker.key}, lk.token).Int64()
		if err == nil && n == 0 {
			err = fmt.Errorf("distlock: lock %s was not held", lk.locker.key)
		}
	})
	return err
}
