package domain

import (
	"context"
	"time"
)

// ParseRecord is one entry of a tenant's coverage library.
type ParseRecord struct {
	ID           string        `json:"id"`
	TenantID     string        `json:"tenantId"`
	ClauseHash   string        `json:"clauseHash"`
	CoverageType CoverageType  `json:"coverageType"`
	CoverageName string        `json:"coverageName,omitempty"`
	PolicyDocID  string        `json:"policyDocumentId,omitempty"`
	ClauseText   string        `json:"clauseText"`
	Status       OutcomeStatus `json:"status"`
	ParseMethod  ParseMethod   `json:"parseMethod,omitempty"`
	Confidence   float64       `json:"confidence"`
	Outcome      *Outcome      `json:"outcome"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// RecordFilter narrows ListParseRecords.
type RecordFilter struct {
	CoverageType CoverageType
	Status       OutcomeStatus
	Limit        int
}

// Repository persists parse records.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	SaveParseRecord(ctx context.Context, tenantID string, rec *ParseRecord) error
	GetParseRecord(ctx context.Context, tenantID string, id string) (*ParseRecord, error)
	ListParseRecords(ctx context.Context, tenantID string, filter RecordFilter) ([]*ParseRecord, error)

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	SQLitePath string `json:"sqlitePath" yaml:"sqlite_path"`

	PostgresHost     string `json:"postgresHost" yaml:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgres_port"`
	PostgresUser     string `json:"postgresUser" yaml:"postgres_user"`
	PostgresPassword string `json:"-" yaml:"-"`
	PostgresDB       string `json:"postgresDB" yaml:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSSLMode" yaml:"postgres_ssl_mode"`

	MaxOpenConns    int           `json:"maxOpenConns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"conn_max_lifetime"`
}
