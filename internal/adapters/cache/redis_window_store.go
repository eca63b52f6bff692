package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/viralforge/media-download-proxy/internal/ports"
)

const windowKeyPrefix = "proxy:window:"

// hitScript prunes, checks and appends in one server-side step.
// KEYS[1] window key; ARGV: now (ms), window (ms), limit, member.
// Returns {allowed, count, oldest_ms}.
var hitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, window)

local oldest = 0
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
  oldest = tonumber(first[2])
end
return {allowed, count, oldest}
`)

// RedisWindowStore keeps sliding windows as sorted sets scored by unix millis.
type RedisWindowStore struct {
	client *redis.Client
	seq    func() string
}

func NewRedisWindowStore(client *redis.Client) *RedisWindowStore {
	return &RedisWindowStore{client: client, seq: newMember}
}

var _ ports.WindowStore = (*RedisWindowStore)(nil)

func (s *RedisWindowStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (ports.WindowResult, error) {
	res, err := hitScript.Run(ctx, s.client, []string{windowKeyPrefix + key},
		now.UnixMilli(), window.Milliseconds(), limit, s.seq(),
	).Int64Slice()
	if err != nil {
		return ports.WindowResult{}, fmt.Errorf("window hit: %w", err)
	}
	if len(res) != 3 {
		return ports.WindowResult{}, fmt.Errorf("window hit: unexpected reply length %d", len(res))
	}
	out := ports.WindowResult{Allowed: res[0] == 1, Count: int(res[1])}
	if res[2] > 0 {
		out.Oldest = time.UnixMilli(res[2]).UTC()
	}
	return out, nil
}
