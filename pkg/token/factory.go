package token

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// StoreType selects the persistence backend.
type StoreType string

const (
	// StoreTypeFile keeps tokens in an owner-only JSON file.
	StoreTypeFile StoreType = "file"
	// StoreTypeRedis keeps tokens under a Redis key.
	StoreTypeRedis StoreType = "redis"
)

// DefaultRedisKey is used when no key is configured.
const DefaultRedisKey = "saxotrader:tokens"

// Config describes which backend to build.
type Config struct {
	Type StoreType
	// Path is the token file for StoreTypeFile.
	Path string
	// RedisAddr, RedisPassword, RedisDB and RedisKey configure StoreTypeRedis.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string
}

// ParseStoreType maps a string to a StoreType, defaulting to file.
func ParseStoreType(s string) StoreType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "redis":
		return StoreTypeRedis
	default:
		return StoreTypeFile
	}
}

// NewStore builds the configured backend.
func NewStore(cfg Config, opts ...Option) (Store, error) {
	switch cfg.Type {
	case StoreTypeFile, "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("token file path is required")
		}
		return NewStorage(cfg.Path, opts...), nil
	case StoreTypeRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis address is required for the redis token store")
		}
		key := cfg.RedisKey
		if key == "" {
			key = DefaultRedisKey
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisStore(client, key, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported token store type: %s", cfg.Type)
	}
}
