package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// redisTimeout bounds every Redis round trip so a dead server cannot wedge a loop.
const redisTimeout = 5 * time.Second

// RedisStore keeps the token set under a single Redis key.
type RedisStore struct {
	client redis.UniversalClient
	key    string
	opts   options
}

// NewRedisStore returns a store writing to key on client.
func NewRedisStore(client redis.UniversalClient, key string, opts ...Option) *RedisStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisStore{client: client, key: key, opts: o}
}

// Save writes ts. The key expires together with the refresh token when that is known.
func (s *RedisStore) Save(ctx context.Context, ts *TokenSet) error {
	if ts == nil {
		return fmt.Errorf("cannot save nil token set")
	}

	now := s.opts.now()
	ts.Normalize(now)

	data, err := encode(ts, s.opts.sealer)
	if err != nil {
		return err
	}

	var ttl time.Duration
	if exp := ts.RefreshTokenExpiry(); !exp.IsZero() && exp.After(now) {
		ttl = exp.Sub(now)
	}

	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	if err := s.client.Set(ctx, s.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write tokens to redis: %w", err)
	}

	s.opts.logger.WithFields(log.Fields{
		"key":                     s.key,
		"access_token_expires_at": ts.AccessTokenExpiry().Format(time.RFC3339),
	}).Info("tokens saved")
	return nil
}

// Load reads the token set; absent or corrupt data yields nil.
func (s *RedisStore) Load(ctx context.Context) *TokenSet {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			s.opts.logger.WithField("key", s.key).Debug("no tokens in redis")
			return nil
		}
		s.opts.logger.WithError(err).WithField("key", s.key).Warn("failed to read tokens from redis, treating as no session")
		return nil
	}

	ts, err := decode(data, s.opts.sealer)
	if err != nil {
		s.opts.logger.WithError(err).WithField("key", s.key).Warn("stored tokens are corrupt, treating as no session")
		return nil
	}
	return ts
}

// Delete removes the key.
func (s *RedisStore) Delete(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to delete tokens from redis: %w", err)
	}
	return nil
}
