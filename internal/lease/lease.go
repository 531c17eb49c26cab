// Package lease guards an execution so that only one worker runs it at a time, in addition to the
// version checks made by the repository.
package lease

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned when a lease is already owned by someone else or has expired.
var ErrNotHeld = errors.New("lease not held")

type Locker interface {
	// Acquire takes the lease on key for ttl, failing with ErrNotHeld when another owner holds it.
	Acquire(ctx context.Context, key string, owner string, ttl time.Duration) error
	// Release gives the lease up if owner still holds it.
	Release(ctx context.Context, key string, owner string) error
}

type entry struct {
	owner   string
	expires time.Time
}

// LocalLocker keeps leases in process memory.
type LocalLocker struct {
	mu     sync.Mutex
	leases map[string]entry
	now    func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{leases: make(map[string]entry), now: time.Now}
}

func (l *LocalLocker) Acquire(_ context.Context, key string, owner string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if e, ok := l.leases[key]; ok && e.owner != owner && now.Before(e.expires) {
		return ErrNotHeld
	}
	l.leases[key] = entry{owner: owner, expires: now.Add(ttl)}
	return nil
}

func (l *LocalLocker) Release(_ context.Context, key string, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.leases[key]
	if !ok || e.owner != owner {
		return ErrNotHeld
	}
	delete(l.leases, key)
	return nil
}

// releaseScript deletes the key only when the stored owner matches.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the key's expiry only when the stored owner matches.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker shares leases between processes through SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client, prefix: "freightflow:lease:"}
}

// NewRedisLockerFromAddr dials a standalone Redis server and checks it answers.
func NewRedisLockerFromAddr(ctx context.Context, addr string) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return NewRedisLocker(client), nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, owner string, ttl time.Duration) error {
	ok, err := l.client.SetNX(ctx, l.prefix+key, owner, ttl).Result()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	n, err := renewScript.Run(ctx, l.client, []string{l.prefix + key}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func (l *RedisLocker) Release(ctx context.Context, key string, owner string) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.prefix + key}, owner).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}
