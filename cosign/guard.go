package cosign

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ruteri/mpc-custody/interfaces"
)

// MemoryGuard is a process-local CompletionGuard. Claims expire after ttl;
// zero keeps them forever.
type MemoryGuard struct {
	mu     sync.Mutex
	claims map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	return &MemoryGuard{claims: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (g *MemoryGuard) Claim(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if at, ok := g.claims[key]; ok && (g.ttl == 0 || now.Sub(at) < g.ttl) {
		return interfaces.ErrConflict
	}
	g.claims[key] = now
	return nil
}

func (g *MemoryGuard) Release(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claims, key)
	return nil
}

// RedisGuard shares claims between processes with SET NX.
type RedisGuard struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisGuard(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisGuard {
	if prefix == "" {
		prefix = "custody:completion"
	}
	return &RedisGuard{client: client, prefix: prefix, ttl: ttl}
}

func (g *RedisGuard) Claim(ctx context.Context, key string) error {
	ok, err := g.client.SetNX(ctx, g.prefix+":"+key, time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return interfaces.Internal("claiming completion", err)
	}
	if !ok {
		return interfaces.ErrConflict
	}
	return nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.prefix+":"+key).Err(); err != nil {
		return interfaces.Internal("releasing completion", err)
	}
	return nil
}
