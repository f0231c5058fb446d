package export

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/linnemanlabs-api/internal/xerrors"
)

// redisSetter is the subset of redis.Cmdable the sink needs
type redisSetter interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisSink stores the latest snapshot under one key with an expiry, so a
// stopped service stops advertising stale numbers.
type RedisSink struct {
	rdb redisSetter
	key string
	ttl time.Duration
}

type RedisOption func(*RedisSink)

func WithRedisKey(key string) RedisOption {
	return func(s *RedisSink) {
		if k := strings.Trim(key, ":"); k != "" {
			s.key = k
		}
	}
}

// WithRedisTTL sets the key expiry, 0 keeps the key forever.
func WithRedisTTL(d time.Duration) RedisOption {
	return func(s *RedisSink) { s.ttl = d }
}

func NewRedisSink(rdb redisSetter, opts ...RedisOption) *RedisSink {
	s := &RedisSink{
		rdb: rdb,
		key: "lmapi:metrics:latest",
		ttl: 10 * time.Minute,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Key() string { return s.key }

func (s *RedisSink) Write(ctx context.Context, _ time.Time, payload []byte) error {
	if err := s.rdb.Set(ctx, s.key, payload, s.ttl).Err(); err != nil {
		return xerrors.Wrapf(err, "redis set %s", s.key)
	}
	return nil
}
