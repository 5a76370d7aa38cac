package store

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"inviteledger.app/tracker/core/config"
)

// Backends carries the connections a KV backend may be built on.
// Only the one matching the configured backend needs to be set.
type Backends struct {
	Redis    redis.Cmdable
	Postgres Querier
}

// NewKV picks the KV implementation for the configured backend.
func NewKV(backend config.StoreBackend, b Backends) (KV, error) {
	switch backend {
	case config.StoreBackendRedis:
		if b.Redis == nil {
			return nil, fmt.Errorf("redis backend selected without a redis client")
		}
		return NewRedisKV(b.Redis), nil
	case config.StoreBackendPostgres:
		if b.Postgres == nil {
			return nil, fmt.Errorf("postgres backend selected without a database")
		}
		return NewPostgresKV(b.Postgres), nil
	case config.StoreBackendMemory:
		return NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
