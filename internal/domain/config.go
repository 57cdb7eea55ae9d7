package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Routing settings
	Routing RoutingConfig `json:"routing"`

	// Executor settings
	Executor ExecutorConfig `json:"executor"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// RoutingConfig holds scoring defaults.
type RoutingConfig struct {
	// DefaultWeights is used when a decision request carries no
	// custom weights.
	DefaultWeights ScoringWeights `json:"defaultWeights"`

	// DecisionCacheTTL bounds how long a decision stays in the
	// read-through cache.
	DecisionCacheTTL time.Duration `json:"decisionCacheTtl"`
}

// ExecutorConfig holds rail execution settings.
type ExecutorConfig struct {
	// AttemptTimeout bounds a single rail call. Expiry is treated as
	// a retryable failure.
	AttemptTimeout time.Duration `json:"attemptTimeout"`

	// Circuit breaker settings per rail.
	BreakerConsecutiveFailures uint32        `json:"breakerConsecutiveFailures"`
	BreakerOpenTimeout         time.Duration `json:"breakerOpenTimeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// DefaultConfig returns a single-node default configuration:
// SQLite + in-memory cache + channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Routing: RoutingConfig{
			DefaultWeights:   DefaultWeights(),
			DecisionCacheTTL: 10 * time.Minute,
		},
		Executor: ExecutorConfig{
			AttemptTimeout:             10 * time.Second,
			BreakerConsecutiveFailures: 5,
			BreakerOpenTimeout:         30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// DistributedConfig returns a configuration for multi-node deployments:
// PostgreSQL + two-phase Redis cache + NATS.
func DistributedConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
