// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openreturns/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SavePolicy stores a policy with tenant isolation. The full policy
// document is stored as a JSON blob alongside a few denormalized
// columns used for listing and activation queries. Saving a policy
// with IsActive set deactivates every other policy for the tenant.
func (r *SQLRepository) SavePolicy(ctx context.Context, tenantID string, policy *domain.Policy) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if policy == nil || policy.ID == "" {
		return fmt.Errorf("%w: policy with an ID is required", ErrInvalidInput)
	}

	policy.TenantID = tenantID
	now := time.Now().UTC()
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = now
	}
	policy.UpdatedAt = now

	config, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("failed to serialize policy: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if policy.IsActive {
		deactivate := `UPDATE policies SET is_active = 0, updated_at = ? WHERE tenant_id = ? AND id != ?`
		if _, err := tx.ExecContext(ctx, r.rebind(deactivate), now, tenantID, policy.ID); err != nil {
			return err
		}
	}

	active := 0
	if policy.IsActive {
		active = 1
	}

	query := `
		INSERT INTO policies (
			id, tenant_id, name, description, version, is_active, config, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			is_active = excluded.is_active,
			config = excluded.config,
			updated_at = excluded.updated_at
	`

	if _, err := tx.ExecContext(ctx, r.rebind(query),
		policy.ID, tenantID, policy.Name, policy.Description,
		policy.Version, active, string(config),
		policy.CreatedAt, policy.UpdatedAt,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// GetPolicy retrieves a policy by ID with tenant isolation.
func (r *SQLRepository) GetPolicy(ctx context.Context, tenantID string, policyID string) (*domain.Policy, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT config, is_active, created_at, updated_at
		FROM policies
		WHERE tenant_id = ? AND id = ?
	`
	return r.scanPolicy(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, policyID))
}

// GetActivePolicy retrieves the tenant's single active policy.
func (r *SQLRepository) GetActivePolicy(ctx context.Context, tenantID string) (*domain.Policy, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT config, is_active, created_at, updated_at
		FROM policies
		WHERE tenant_id = ? AND is_active = 1
		ORDER BY updated_at DESC
		LIMIT 1
	`
	return r.scanPolicy(r.db.QueryRowContext(ctx, r.rebind(query), tenantID))
}

func (r *SQLRepository) scanPolicy(row *sql.Row) (*domain.Policy, error) {
	var config string
	var active int
	var createdAt, updatedAt time.Time

	err := row.Scan(&config, &active, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var policy domain.Policy
	if err := json.Unmarshal([]byte(config), &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy config: %w", err)
	}

	// Columns win over the stored blob for mutable flags.
	policy.IsActive = active == 1
	policy.CreatedAt = createdAt
	policy.UpdatedAt = updatedAt

	return &policy, nil
}

// ListPolicies retrieves all policies for a tenant, newest first.
func (r *SQLRepository) ListPolicies(ctx context.Context, tenantID string) ([]*domain.Policy, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT config, is_active, created_at, updated_at
		FROM policies
		WHERE tenant_id = ?
		ORDER BY updated_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []*domain.Policy
	for rows.Next() {
		var config string
		var active int
		var createdAt, updatedAt time.Time

		if err := rows.Scan(&config, &active, &createdAt, &updatedAt); err != nil {
			return nil, err
		}

		var policy domain.Policy
		if err := json.Unmarshal([]byte(config), &policy); err != nil {
			return nil, fmt.Errorf("failed to parse policy config: %w", err)
		}
		policy.IsActive = active == 1
		policy.CreatedAt = createdAt
		policy.UpdatedAt = updatedAt
		policies = append(policies, &policy)
	}

	return policies, rows.Err()
}

// ActivatePolicy makes the given policy the tenant's only active one.
func (r *SQLRepository) ActivatePolicy(ctx context.Context, tenantID string, policyID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	activate := `UPDATE policies SET is_active = 1, updated_at = ? WHERE tenant_id = ? AND id = ?`
	result, err := tx.ExecContext(ctx, r.rebind(activate), now, tenantID, policyID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	deactivate := `UPDATE policies SET is_active = 0, updated_at = ? WHERE tenant_id = ? AND id != ? AND is_active = 1`
	if _, err := tx.ExecContext(ctx, r.rebind(deactivate), now, tenantID, policyID); err != nil {
		return err
	}

	return tx.Commit()
}

// DeletePolicy removes a policy with tenant isolation.
func (r *SQLRepository) DeletePolicy(ctx context.Context, tenantID string, policyID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `DELETE FROM policies WHERE tenant_id = ? AND id = ?`
	result, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, policyID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveReturnRequest stores a return request with tenant isolation.
func (r *SQLRepository) SaveReturnRequest(ctx context.Context, tenantID string, req *domain.ReturnRequest) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if req == nil || req.ID == "" {
		return fmt.Errorf("%w: return request with an ID is required", ErrInvalidInput)
	}

	items, err := json.Marshal(req.Items)
	if err != nil {
		return fmt.Errorf("failed to serialize items: %w", err)
	}
	destination, _ := json.Marshal(req.Destination)

	vip := 0
	if req.VIP {
		vip = 1
	}

	query := `
		INSERT INTO returns (
			id, tenant_id, order_id, customer_id, items, destination, vip, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		req.ID, tenantID, req.OrderID, req.CustomerID,
		string(items), string(destination), vip, req.CreatedAt,
	)
	return err
}

// GetReturnsByCustomer retrieves a customer's return requests since a
// point in time, newest first. Used for trailing-window counters.
func (r *SQLRepository) GetReturnsByCustomer(ctx context.Context, tenantID string, customerID string, since time.Time) ([]*domain.ReturnRequest, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, order_id, customer_id, items, destination, vip, created_at
		FROM returns
		WHERE tenant_id = ? AND customer_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, customerID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []*domain.ReturnRequest
	for rows.Next() {
		var req domain.ReturnRequest
		var items, destination string
		var vip int

		if err := rows.Scan(
			&req.ID, &req.TenantID, &req.OrderID, &req.CustomerID,
			&items, &destination, &vip, &req.CreatedAt,
		); err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(items), &req.Items); err != nil {
			return nil, fmt.Errorf("failed to parse return items for %s: %w", req.ID, err)
		}
		json.Unmarshal([]byte(destination), &req.Destination)
		req.VIP = vip == 1

		requests = append(requests, &req)
	}

	return requests, rows.Err()
}

// SaveEvaluation stores an evaluation result with tenant isolation.
func (r *SQLRepository) SaveEvaluation(ctx context.Context, tenantID string, eval *domain.EvaluationResult) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	reasons, _ := json.Marshal(eval.Reasons)
	zone, _ := json.Marshal(eval.Zone)
	items, _ := json.Marshal(eval.Items)
	resolutions, _ := json.Marshal(eval.Resolutions)
	fraud, _ := json.Marshal(eval.Fraud)
	metadata, _ := json.Marshal(eval.Metadata)

	query := `
		INSERT INTO evaluations (
			id, tenant_id, policy_id, order_id, outcome, reasons,
			zone, items, resolutions, fraud, timestamp, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		eval.ID, tenantID, eval.PolicyID, eval.OrderID,
		eval.Outcome, string(reasons),
		string(zone), string(items), string(resolutions), string(fraud),
		eval.Timestamp, string(metadata),
	)
	return err
}

// GetEvaluation retrieves an evaluation by ID with tenant isolation.
func (r *SQLRepository) GetEvaluation(ctx context.Context, tenantID string, evalID string) (*domain.EvaluationResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, policy_id, order_id, outcome, reasons,
			   zone, items, resolutions, fraud, timestamp, metadata
		FROM evaluations
		WHERE tenant_id = ? AND id = ?
	`

	var eval domain.EvaluationResult
	var reasons, zone, items, resolutions, fraud, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, evalID).Scan(
		&eval.ID, &eval.TenantID, &eval.PolicyID, &eval.OrderID,
		&eval.Outcome, &reasons,
		&zone, &items, &resolutions, &fraud,
		&eval.Timestamp, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(reasons), &eval.Reasons)
	json.Unmarshal([]byte(zone), &eval.Zone)
	json.Unmarshal([]byte(items), &eval.Items)
	json.Unmarshal([]byte(resolutions), &eval.Resolutions)
	json.Unmarshal([]byte(fraud), &eval.Fraud)
	json.Unmarshal([]byte(metadata), &eval.Metadata)

	return &eval, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
