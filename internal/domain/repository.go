// Package domain defines the core types and collaborator interfaces for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Policy operations. SavePolicy with IsActive=true and ActivatePolicy
	// both deactivate any other policy for the tenant, preserving the
	// at-most-one-active invariant.
	SavePolicy(ctx context.Context, tenantID string, policy *Policy) error
	GetPolicy(ctx context.Context, tenantID string, policyID string) (*Policy, error)
	GetActivePolicy(ctx context.Context, tenantID string) (*Policy, error)
	ListPolicies(ctx context.Context, tenantID string) ([]*Policy, error)
	ActivatePolicy(ctx context.Context, tenantID string, policyID string) error
	DeletePolicy(ctx context.Context, tenantID string, policyID string) error

	// Return request history, used for behavioral counters.
	SaveReturnRequest(ctx context.Context, tenantID string, req *ReturnRequest) error
	GetReturnsByCustomer(ctx context.Context, tenantID string, customerID string, since time.Time) ([]*ReturnRequest, error)

	// Evaluation results
	SaveEvaluation(ctx context.Context, tenantID string, eval *EvaluationResult) error
	GetEvaluation(ctx context.Context, tenantID string, evalID string) (*EvaluationResult, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
