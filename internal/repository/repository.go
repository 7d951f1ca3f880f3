// Package repository persists parse records, the tenant's coverage library.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/insurelab/coverage-parser/internal/domain"
)

// DefaultListLimit caps ListParseRecords when the filter sets no limit.
const DefaultListLimit = 100

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a repository for the configured driver and runs migrations.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var (
		db  *sql.DB
		err error
	)
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

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{db: db, driver: cfg.Driver}
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

// SaveParseRecord inserts or replaces a record. Status, method and
// confidence are derived from the outcome.
func (r *SQLRepository) SaveParseRecord(ctx context.Context, tenantID string, rec *domain.ParseRecord) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: record id is required", domain.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.TenantID = tenantID
	summarize(rec)

	outcome, err := json.Marshal(rec.Outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}

	query := `
		INSERT INTO parse_records (
			id, tenant_id, clause_hash, coverage_type, coverage_name,
			policy_doc_id, clause_text, status, parse_method, confidence,
			outcome, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			parse_method = excluded.parse_method,
			confidence = excluded.confidence,
			outcome = excluded.outcome,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, tenantID, rec.ClauseHash, string(rec.CoverageType), rec.CoverageName,
		rec.PolicyDocID, rec.ClauseText, string(rec.Status), string(rec.ParseMethod), rec.Confidence,
		string(outcome), rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

// summarize copies the searchable columns out of the outcome.
func summarize(rec *domain.ParseRecord) {
	o := rec.Outcome
	if o == nil {
		return
	}
	rec.Status = o.Status
	switch {
	case o.Result != nil:
		rec.ParseMethod = o.Result.ParseMethod
		rec.Confidence = o.Result.OverallConfidence
		if rec.ClauseHash == "" {
			rec.ClauseHash = o.Result.ClauseHash
		}
	case o.NotApplicable != nil:
		rec.ParseMethod = o.NotApplicable.ParseMethod
		if rec.ClauseHash == "" {
			rec.ClauseHash = o.NotApplicable.ClauseHash
		}
	}
}

const selectRecord = `
	SELECT id, tenant_id, clause_hash, coverage_type, coverage_name,
		   policy_doc_id, clause_text, status, parse_method, confidence,
		   outcome, created_at, updated_at
	FROM parse_records
`

// GetParseRecord retrieves a record by ID with tenant isolation.
func (r *SQLRepository) GetParseRecord(ctx context.Context, tenantID string, id string) (*domain.ParseRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	row := r.db.QueryRowContext(ctx, r.rebind(selectRecord+` WHERE tenant_id = ? AND id = ?`), tenantID, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListParseRecords returns the newest records first.
func (r *SQLRepository) ListParseRecords(ctx context.Context, tenantID string, filter domain.RecordFilter) ([]*domain.ParseRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	var (
		where = []string{"tenant_id = ?"}
		args  = []any{tenantID}
	)
	if filter.CoverageType != "" {
		where = append(where, "coverage_type = ?")
		args = append(args, string(filter.CoverageType))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := selectRecord + ` WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC LIMIT ` + strconv.Itoa(limit)
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.ParseRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*domain.ParseRecord, error) {
	var (
		rec                       domain.ParseRecord
		coverageType, status      string
		coverageName, policyDocID sql.NullString
		method                    sql.NullString
		outcome                   string
	)
	err := s.Scan(
		&rec.ID, &rec.TenantID, &rec.ClauseHash, &coverageType, &coverageName,
		&policyDocID, &rec.ClauseText, &status, &method, &rec.Confidence,
		&outcome, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.CoverageType = domain.CoverageType(coverageType)
	rec.CoverageName = coverageName.String
	rec.PolicyDocID = policyDocID.String
	rec.Status = domain.OutcomeStatus(status)
	rec.ParseMethod = domain.ParseMethod(method.String)

	if outcome != "" && outcome != "null" {
		var o domain.Outcome
		if err := json.Unmarshal([]byte(outcome), &o); err != nil {
			return nil, fmt.Errorf("decode outcome of %s: %w", rec.ID, err)
		}
		rec.Outcome = &o
	}
	return &rec, nil
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

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
