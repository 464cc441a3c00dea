package llm

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCooldownStore is a CooldownStore backed by Redis keys with a native
// TTL, so the cool-down deadline is shared across every replica of the host
// rather than per-process — the same role as the teacher's
// pkg/lane.RedisLane plays for distributed task queues, applied here to
// model-level rate-limit state instead of task state.
type RedisCooldownStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisCooldownStore(client redis.Cmdable) *RedisCooldownStore {
	return &RedisCooldownStore{client: client, prefix: "kestrel:llm:cooldown:"}
}

func (s *RedisCooldownStore) InCooldown(ctx context.Context, model string) bool {
	n, err := s.client.Exists(ctx, s.prefix+model).Result()
	if err != nil {
		// Fail open: a Redis hiccup must not make every model look
		// permanently cooled down.
		return false
	}
	return n > 0
}

func (s *RedisCooldownStore) SetCooldown(ctx context.Context, model string, d time.Duration) {
	if d <= 0 {
		return
	}
	s.client.Set(ctx, s.prefix+model, time.Now().Add(d).Unix(), d)
}
