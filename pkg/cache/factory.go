package cache

import "fmt"

// Config selects and configures a cache backend.
type Config struct {
	Enabled  bool        `mapstructure:"enabled"`
	Backend  string      `mapstructure:"backend"`
	MaxItems int         `mapstructure:"max_items"`
	Redis    RedisConfig `mapstructure:"redis"`
}

// New builds the cache backend named by cfg. Disabled caching yields a
// NoopCache so callers never branch on the setting.
func New(cfg Config) (Cache, error) {
	if !cfg.Enabled {
		return NewNoopCache(), nil
	}
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryCache(cfg.MaxItems)
	case "redis":
		return NewRedisCache(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
