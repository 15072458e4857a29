package cache

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/relister/backend/internal/infrastructure/config"
)

// DedupStoreFactory creates dedup stores based on configuration
type DedupStoreFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// DedupStoreFactoryOption is a functional option for configuring the factory
type DedupStoreFactoryOption func(*DedupStoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) DedupStoreFactoryOption {
	return func(f *DedupStoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to the in-memory store
// when Redis is unavailable. Default is true.
func WithInMemoryFallback(allow bool) DedupStoreFactoryOption {
	return func(f *DedupStoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewDedupStoreFactory creates a new factory
func NewDedupStoreFactory(cfg config.RedisConfig, opts ...DedupStoreFactoryOption) *DedupStoreFactory {
	f := &DedupStoreFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateStore creates a dedup store, preferring Redis and falling back to
// the in-memory store when allowed
func (f *DedupStoreFactory) CreateStore() (DedupStore, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("Redis disabled, using in-memory dedup store")
		return NewInMemoryDedupStore(), nil
	}

	store, err := NewRedisDedupStore(RedisOptions{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	if err == nil {
		f.logger.Info("Using Redis dedup store")
		return store, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("cache: Redis required for dedup but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory dedup store",
		zap.Error(err),
	)
	return NewInMemoryDedupStore(), nil
}
