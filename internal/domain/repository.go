package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	GetTransactionsByUser(ctx context.Context, userID string, since time.Time) ([]*Transaction, error)

	// Audit records. SaveAuditRecord is idempotent on the transaction id:
	// re-storing the same verdict must not duplicate records.
	SaveAuditRecord(ctx context.Context, verdict *Verdict, tx *Transaction) error
	GetAuditRecord(ctx context.Context, txID string) (*Verdict, error)
	ListAlerts(ctx context.Context, since time.Time) ([]*Verdict, error)

	// Merchant risk registry
	GetMerchantRisk(ctx context.Context, merchantID string) (float64, bool, error)
	UpsertMerchantRisk(ctx context.Context, merchantID string, score float64) error
	ListMerchantRisks(ctx context.Context) (map[string]float64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
