// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All tenant-scoped methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Invoice operations
	SaveInvoice(ctx context.Context, tenantID string, inv *Invoice, items []LineItem) error
	GetInvoice(ctx context.Context, tenantID string, invoiceID string) (*Invoice, []LineItem, error)
	ListHistoricalInvoices(ctx context.Context, tenantID string, vendorID string, matterID string, before time.Time) ([]*Invoice, error)
	ListTrainingRecords(ctx context.Context, tenantID string, limit int) ([]TrainingRecord, error)

	// Assessment results
	SaveAssessment(ctx context.Context, tenantID string, assessment *RiskAssessment) error
	GetAssessment(ctx context.Context, tenantID string, assessmentID string) (*RiskAssessment, error)

	// Model artifacts are global: one active model serves every tenant.
	SaveModelArtifact(ctx context.Context, artifact *ModelArtifact) error
	LatestModelArtifact(ctx context.Context) (*ModelArtifact, error)

	// Custom rule operations
	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ModelArtifact is a serialized trained model with its version.
type ModelArtifact struct {
	Version       string    `json:"version"`
	Algorithm     string    `json:"algorithm"`
	SampleCount   int       `json:"sampleCount"`
	ValidationMAE float64   `json:"validationMae"`
	Payload       []byte    `json:"-"`
	CreatedAt     time.Time `json:"createdAt"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `koanf:"driver"`

	// SQLite specific
	SQLitePath string `koanf:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `koanf:"postgres_host"`
	PostgresPort     int    `koanf:"postgres_port"`
	PostgresUser     string `koanf:"postgres_user"`
	PostgresPassword string `koanf:"postgres_password"`
	PostgresDB       string `koanf:"postgres_db"`
	PostgresSSLMode  string `koanf:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}
