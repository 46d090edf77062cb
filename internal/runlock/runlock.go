// Package runlock keeps two runs of the same job from overlapping.
package runlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"bundlesync/pkg/platform/sentinel"
)

const keyPrefix = "bundlesync:run:"

// releaseScript deletes the key only while it still holds our token, so a run that
// outlived its TTL cannot release a lock taken over by a later run.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lock shared by every process pointed at the same Redis.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis constructs a Redis lock. ttl bounds how long a crashed run blocks the job.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Redis{client: client, ttl: ttl}
}

// Acquire takes the lock for job. A held lock returns an error wrapping
// sentinel.ErrConflict; a Redis failure wraps sentinel.ErrUnavailable.
func (l *Redis) Acquire(ctx context.Context, job string) (func(context.Context) error, error) {
	key := keyPrefix + job
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s run lock: %w: %w", job, sentinel.ErrUnavailable, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s run already in progress: %w", job, sentinel.ErrConflict)
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("release %s run lock: %w", job, err)
		}
		return nil
	}, nil
}

// Local is an in-process lock, used when no Redis is configured.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

// Acquire takes the lock for job, or fails with sentinel.ErrConflict.
func (l *Local) Acquire(_ context.Context, job string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[job]; busy {
		return nil, fmt.Errorf("%s run already in progress: %w", job, sentinel.ErrConflict)
	}
	l.held[job] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, job)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
