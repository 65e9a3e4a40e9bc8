package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedup remembers delivered notification keys.
type Dedup interface {
	// Claim returns true when key was not seen within the retention window.
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// MemoryDedup keeps keys in process memory.
type MemoryDedup struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

func NewMemoryDedup(ttl time.Duration) *MemoryDedup {
	return &MemoryDedup{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

func (d *MemoryDedup) Claim(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	d.seen[key] = now.Add(d.ttl)
	if len(d.seen) > 10000 {
		for k, exp := range d.seen {
			if !now.Before(exp) {
				delete(d.seen, k)
			}
		}
	}
	return true, nil
}

func (d *MemoryDedup) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}

// RedisDedup shares delivered keys across API replicas.
type RedisDedup struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewRedisDedup(client redis.Cmdable, ttl time.Duration) *RedisDedup {
	return &RedisDedup{client: client, ttl: ttl, prefix: "secscan:webhook:"}
}

func (d *RedisDedup) Claim(ctx context.Context, key string) (bool, error) {
	return d.client.SetNX(ctx, d.prefix+key, time.Now().UTC().Unix(), d.ttl).Result()
}

func (d *RedisDedup) Release(ctx context.Context, key string) error {
	return d.client.Del(ctx, d.prefix+key).Err()
}
