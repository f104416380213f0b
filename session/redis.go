package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	restoreFlagOn  = "1"
	restoreFlagOff = "0"
)

// RedisDurable stores the refresh token and restore flag under two keys:
// "<prefix>:refresh_token" and "<prefix>:restore".
type RedisDurable struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisDurable returns a Redis-backed [Durable]. A ttl of zero keeps keys until cleared.
func NewRedisDurable(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisDurable {
	if prefix == "" {
		prefix = "authgate"
	}
	return &RedisDurable{
		redis:  client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisDurable) refreshKey() string {
	return s.prefix + ":refresh_token"
}

func (s *RedisDurable) restoreKey() string {
	return s.prefix + ":restore"
}

// Load reads both keys in one round trip. Missing keys yield the zero [Persisted].
func (s *RedisDurable) Load(ctx context.Context) (Persisted, error) {
	values, err := s.redis.MGet(ctx, s.refreshKey(), s.restoreKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Persisted{}, nil
		}
		return Persisted{}, fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
	}

	var p Persisted
	if len(values) > 0 {
		if v, ok := values[0].(string); ok {
			p.RefreshToken = v
		}
	}
	if len(values) > 1 {
		if v, ok := values[1].(string); ok {
			p.Restore = v == restoreFlagOn
		}
	}
	return p, nil
}

// Save writes both keys atomically. An empty refresh token deletes the token key.
func (s *RedisDurable) Save(ctx context.Context, p Persisted) error {
	flag := restoreFlagOff
	if p.Restore {
		flag = restoreFlagOn
	}

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if p.RefreshToken == "" {
			pipe.Del(ctx, s.refreshKey())
		} else {
			pipe.Set(ctx, s.refreshKey(), p.RefreshToken, s.ttl)
		}
		pipe.Set(ctx, s.restoreKey(), flag, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
	}
	return nil
}

// Clear deletes both keys. Clearing an already empty store is not an error.
func (s *RedisDurable) Clear(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.refreshKey(), s.restoreKey()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
	}
	return nil
}
