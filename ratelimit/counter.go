// Package ratelimit implements fixed-window request counting keyed by client.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Hit is the state of a window after a counted request.
type Hit struct {
	Count   int
	ResetAt time.Time
}

// Counter counts hits per key inside fixed windows. A window starts with the
// first hit for a key and the count resets once it elapses.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (Hit, error)
	Decr(ctx context.Context, key string) error
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryCounter keeps windows in process memory, so limits are per instance.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

const pruneThreshold = 10000

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (m *MemoryCounter) Incr(_ context.Context, key string, d time.Duration) (Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if len(m.windows) > pruneThreshold {
		m.pruneLocked(now)
	}

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(d)}
		m.windows[key] = w
	}
	w.count++
	return Hit{Count: w.count, ResetAt: w.resetAt}, nil
}

func (m *MemoryCounter) Decr(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.windows[key]; ok && w.count > 0 && m.now().Before(w.resetAt) {
		w.count--
	}
	return nil
}

func (m *MemoryCounter) pruneLocked(now time.Time) {
	for k, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, k)
		}
	}
}

// RedisCounter shares windows between API instances.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

func NewRedisCounter(client *redis.Client, prefix string) *RedisCounter {
	return &RedisCounter{client: client, prefix: prefix}
}

// decrIfExists never resurrects a window that already expired.
var decrIfExists = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	local n = redis.call("DECR", KEYS[1])
	if n < 0 then
		redis.call("SET", KEYS[1], 0, "KEEPTTL")
		return 0
	end
	return n
end
return 0
`)

func (r *RedisCounter) Incr(ctx context.Context, key string, d time.Duration) (Hit, error) {
	k := r.prefix + key

	var incr *redis.IntCmd
	var pttl *redis.DurationCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pttl = pipe.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return Hit{}, err
	}

	count := int(incr.Val())
	ttl := pttl.Val()
	if count == 1 || ttl < 0 {
		if err := r.client.PExpire(ctx, k, d).Err(); err != nil {
			return Hit{}, err
		}
		ttl = d
	}
	return Hit{Count: count, ResetAt: time.Now().Add(ttl)}, nil
}

func (r *RedisCounter) Decr(ctx context.Context, key string) error {
	return decrIfExists.Run(ctx, r.client, []string{r.prefix + key}).Err()
}
