package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const windowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if current > tonumber(ARGV[2]) then
  return 0
end
return 1
`

// Redis shares windows across API replicas.
type Redis struct {
	client *redis.Client
	prefix string
	script *redis.Script
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if client == nil {
		return nil
	}
	return &Redis{
		client: client,
		prefix: strings.TrimSuffix(prefix, ":"),
		script: redis.NewScript(windowScript),
	}
}

func (l *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	if l == nil || l.client == nil {
		return true
	}
	if key == "" || limit <= 0 || window <= 0 {
		return true
	}
	key = l.key(key)
	ttl := window.Milliseconds()
	if ttl <= 0 {
		ttl = 1
	}
	ctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	allowed, err := l.script.Run(ctx, l.client, []string{key}, ttl, limit).Int64()
	if err != nil {
		return true
	}
	return allowed == 1
}

// key namespaces a window key as prefix:key.
func (l *Redis) key(key string) string {
	if l.prefix == "" {
		return key
	}
	return l.prefix + ":" + key
}
