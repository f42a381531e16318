package repository

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/cache"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/database"
)

// Backend is the closed set of storage variants
type Backend string

const (
	BackendMemory     Backend = "memory"
	BackendRelational Backend = "relational"
	BackendCache      Backend = "cache"
)

// BackendConfig selects and locates the storage backend. An empty Backend
// is resolved from the URLs: DatabaseURL wins over RedisURL, else memory.
// A non-nil Redis client is reused by the cache backend and left open on Close.
type BackendConfig struct {
	Backend     Backend
	DatabaseURL string
	RedisURL    string
	Redis       *redis.Client
}

// Resolve returns the backend that will be built for cfg
func (c BackendConfig) Resolve() (Backend, error) {
	switch c.Backend {
	case BackendMemory:
		return BackendMemory, nil
	case BackendRelational:
		if c.DatabaseURL == "" {
			return "", fmt.Errorf("backend %q requires DATABASE_URL", c.Backend)
		}
		return BackendRelational, nil
	case BackendCache:
		if c.RedisURL == "" && c.Redis == nil {
			return "", fmt.Errorf("backend %q requires REDIS_URL", c.Backend)
		}
		return BackendCache, nil
	case "":
	default:
		return "", fmt.Errorf("unknown backend %q", c.Backend)
	}

	if c.DatabaseURL != "" {
		return BackendRelational, nil
	}
	if c.RedisURL != "" || c.Redis != nil {
		return BackendCache, nil
	}
	return BackendMemory, nil
}

// Stores bundles the repositories of one backend
type Stores struct {
	Backend     Backend
	Jobs        JobStore
	Conversions ConversionLedger

	db    *gorm.DB
	redis *redis.Client
}

// DB returns the relational handle, nil for other backends
func (s *Stores) DB() *gorm.DB {
	return s.db
}

// Close releases connections owned by the stores
func (s *Stores) Close() error {
	if s.redis != nil {
		return s.redis.Close()
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// Factory builds the repositories for the configured backend
type Factory struct {
	cfg BackendConfig
}

// NewFactory creates a new repository factory
func NewFactory(cfg BackendConfig) *Factory {
	return &Factory{cfg: cfg}
}

// Build connects the selected backend and returns its stores
func (f *Factory) Build(ctx context.Context) (*Stores, error) {
	backend, err := f.cfg.Resolve()
	if err != nil {
		return nil, err
	}

	switch backend {
	case BackendRelational:
		db, err := database.Open(ctx, f.cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Infof("[Repository] Using relational job store (%s)", db.Dialector.Name())
		return NewRelationalStores(db), nil
	case BackendCache:
		log.Info("[Repository] Using redis job store")
		if f.cfg.Redis != nil {
			stores := NewRedisStores(f.cfg.Redis)
			stores.redis = nil
			return stores, nil
		}
		client, err := cache.NewClient(ctx, f.cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return NewRedisStores(client), nil
	default:
		log.Warn("[Repository] Using in-memory job store; jobs are lost on restart")
		return NewMemoryStores(), nil
	}
}

// NewMemoryStores wires the in-process backend
func NewMemoryStores() *Stores {
	return &Stores{
		Backend:     BackendMemory,
		Jobs:        NewMemoryJobStore(),
		Conversions: NewMemoryConversionLedger(),
	}
}

// NewRelationalStores wires the GORM backend on an open, migrated db
func NewRelationalStores(db *gorm.DB) *Stores {
	return &Stores{
		Backend:     BackendRelational,
		Jobs:        NewJobRepository(db),
		Conversions: NewConversionRepository(db),
		db:          db,
	}
}

// NewRedisStores wires the Redis backend on a connected client
func NewRedisStores(client *redis.Client) *Stores {
	return &Stores{
		Backend:     BackendCache,
		Jobs:        NewRedisJobStore(client),
		Conversions: NewRedisConversionLedger(client),
		redis:       client,
	}
}
