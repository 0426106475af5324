package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `koanf:"server"`

	// Tier determines feature availability
	Tier Tier `koanf:"tier"`

	// Component configurations
	Repository RepositoryConfig `koanf:"repository"`
	Cache      CacheConfig      `koanf:"cache"`
	EventBus   EventBusConfig   `koanf:"eventbus"`
	Training   TrainingConfig   `koanf:"training"`
	Worker     WorkerConfig     `koanf:"worker"`

	// Observability
	Logging LoggingConfig `koanf:"logging"`
	Tracing TracingConfig `koanf:"tracing"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `koanf:"host"`
	Port         int    `koanf:"port"`
	ReadTimeout  int    `koanf:"read_timeout"`  // seconds
	WriteTimeout int    `koanf:"write_timeout"` // seconds
}

// TrainingConfig controls model training and scheduled retraining.
type TrainingConfig struct {
	// MaxValidationMAE is the acceptance floor: a retrained model whose
	// cross-validated MAE exceeds it is rejected.
	MaxValidationMAE float64 `koanf:"max_validation_mae"`

	// Folds is the number of cross-validation folds.
	Folds int `koanf:"folds"`

	// Seed makes training reproducible.
	Seed uint64 `koanf:"seed"`

	// CorpusTenant is the tenant whose labelled invoices form the corpus.
	CorpusTenant string `koanf:"corpus_tenant"`

	// CorpusLimit caps the number of training records loaded.
	CorpusLimit int `koanf:"corpus_limit"`

	// RetrainInterval enables scheduled retraining when positive.
	RetrainInterval time.Duration `koanf:"retrain_interval"`

	// TrainOnStart trains from the corpus at startup when no artifact exists.
	TrainOnStart bool `koanf:"train_on_start"`
}

// WorkerConfig controls the async scoring worker.
type WorkerConfig struct {
	Enabled   bool     `koanf:"enabled"`
	TenantIDs []string `koanf:"tenant_ids"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Namespace string `koanf:"namespace"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:          "memory",
			LocalMaxSize:  10000,
			LocalTTL:      5 * time.Minute,
			AssessmentTTL: 24 * time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Training: TrainingConfig{
			MaxValidationMAE: 0.35,
			Folds:            5,
			Seed:             42,
			CorpusTenant:     "*",
			CorpusLimit:      50000,
			TrainOnStart:     true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
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
		AssessmentTTL:  24 * time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "kestrel-workers",
	}
	cfg.Training.RetrainInterval = 24 * time.Hour
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}
