package cache

import "time"

type (
	RedisOption   func(*RedisConfig)
	MemoryOption  func(*MemoryConfig)
	LayeredOption func(*LayeredConfig)
)

// RedisConfig is the connection the Redis-backed cache and job queue share.
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	PoolTimeout  time.Duration
	MinIdleConns int
	Prefix       string // namespace for every key, e.g. "finguard"
}

func defaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
		MinIdleConns: 2,
		Prefix:       "finguard",
	}
}

func WithRedisAddr(host string, port int) RedisOption {
	return func(c *RedisConfig) { c.Host, c.Port = host, port }
}

func WithRedisAuth(password string, db int) RedisOption {
	return func(c *RedisConfig) { c.Password, c.DB = password, db }
}

// WithRedisPool sizes the pool. Zero values keep the defaults.
func WithRedisPool(poolSize, minIdleConns int, timeout time.Duration) RedisOption {
	return func(c *RedisConfig) {
		if poolSize > 0 {
			c.PoolSize = poolSize
		}
		if minIdleConns > 0 {
			c.MinIdleConns = minIdleConns
		}
		if timeout > 0 {
			c.PoolTimeout = timeout
		}
	}
}

func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) {
		if prefix != "" {
			c.Prefix = prefix
		}
	}
}

// MemoryConfig bounds the in-process cache. Entries past MaxSize evict the
// one closest to expiry.
type MemoryConfig struct {
	MaxSize         int
	CleanupInterval time.Duration // 0 disables the sweeper
	DefaultTTL      time.Duration
}

func defaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{MaxSize: 1000, CleanupInterval: 5 * time.Minute, DefaultTTL: 24 * time.Hour}
}

func WithMemoryMaxSize(size int) MemoryOption {
	return func(c *MemoryConfig) {
		if size > 0 {
			c.MaxSize = size
		}
	}
}

func WithMemoryCleanup(interval time.Duration) MemoryOption {
	return func(c *MemoryConfig) { c.CleanupInterval = interval }
}

// WithMemoryDefaultTTL sets the lifetime used when Set gets no expiration.
func WithMemoryDefaultTTL(ttl time.Duration) MemoryOption {
	return func(c *MemoryConfig) {
		if ttl > 0 {
			c.DefaultTTL = ttl
		}
	}
}

// LayeredConfig sizes the L1 memory tier of a LayeredCache.
type LayeredConfig struct {
	MemoryMaxSize int
	// L1TTL caps how long an entry read from L2 stays in memory.
	L1TTL time.Duration
}

func defaultLayeredConfig() *LayeredConfig {
	return &LayeredConfig{MemoryMaxSize: 1000, L1TTL: time.Minute}
}

func WithLayeredMemorySize(size int) LayeredOption {
	return func(c *LayeredConfig) { c.MemoryMaxSize = size }
}

// WithLayeredL1TTL sets the L1 lifetime of entries promoted from L2.
func WithLayeredL1TTL(ttl time.Duration) LayeredOption {
	return func(c *LayeredConfig) { c.L1TTL = ttl }
}
