package businessflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SyncLock guards a critical section across workers. Acquired is false when someone else holds it.
type SyncLock interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

type redisSyncLock struct {
	rc     *redis.Client
	prefix string
}

// NewRedisSyncLock uses SETNX with a per-acquire token and a TTL so a crashed holder cannot block forever.
// The TTL is extended while the lock is held and only the owner can release it.
func NewRedisSyncLock(rc *redis.Client, prefix string) SyncLock {
	return &redisSyncLock{rc: rc, prefix: prefix}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

func (l *redisSyncLock) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	lockKey := l.prefix + key
	token := uuid.NewString()
	ok, err := l.rc.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.refresh(lockKey, token, ttl, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, l.rc, []string{lockKey}, token).Err()
		})
	}, true, nil
}

// refresh keeps extending the key until stop closes or the token no longer owns it
func (l *redisSyncLock) refresh(lockKey, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	every := ttl / 3
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			n, err := refreshScript.Run(ctx, l.rc, []string{lockKey}, token, ttl.Milliseconds()).Int64()
			cancel()
			if err == nil && n == 0 {
				return
			}
		}
	}
}

// memorySyncLock only excludes holders inside this process
type memorySyncLock struct {
	mu   sync.Mutex
	held map[string]time.Time
}

func NewMemorySyncLock() SyncLock {
	return &memorySyncLock{held: make(map[string]time.Time)}
}

func (l *memorySyncLock) TryLock(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.held[key]; ok && time.Now().Before(until) {
		return nil, false, nil
	}
	until := time.Now().Add(ttl)
	l.held[key] = until
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if held, ok := l.held[key]; ok && held.Equal(until) {
			delete(l.held, key)
		}
	}, true, nil
}
