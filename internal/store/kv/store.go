// Package kv provides the durable key/value backends the widget uses in place of
// browser storage.
package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidStoreType = errors.New("invalid store type")
	ErrClosed           = errors.New("store is closed")
)

// Store is a string key/value backend.
type Store interface {
	// Get returns found=false with a nil error when the key is absent.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set creates or overwrites a key.
	Set(ctx context.Context, key, value string) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}

// StoreType names a Store driver.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQL    StoreType = "sql"
)

// StoreOption configures NewStore.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient *redis.Client
	redisPrefix string
	ttl         time.Duration
	db          *gorm.DB
}

// WithRedisClient sets the client for the redis driver.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithRedisPrefix namespaces every redis key.
func WithRedisPrefix(prefix string) StoreOption {
	return func(c *storeConfig) {
		c.redisPrefix = prefix
	}
}

// WithTTL expires redis keys after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.ttl = ttl
	}
}

// WithDB sets the gorm handle for the sql driver.
func WithDB(db *gorm.DB) StoreOption {
	return func(c *storeConfig) {
		c.db = db
	}
}

// NewStore creates a Store of the given type.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	switch storeType {
	case StoreTypeMemory:
		return NewMemoryStore(), nil

	case StoreTypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return NewRedisStore(cfg.redisClient, cfg.redisPrefix, cfg.ttl), nil

	case StoreTypeSQL:
		if cfg.db == nil {
			return nil, ErrInvalidConfig
		}
		return NewSQLStore(cfg.db)

	default:
		return nil, ErrInvalidStoreType
	}
}
