// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// AllTenants selects every tenant in corpus-style listings
// (training records, rule reloads).
const AllTenants = "*"

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

// SaveInvoice stores an invoice and replaces its line items in one
// transaction. Saving the same invoice ID again overwrites it.
func (r *SQLRepository) SaveInvoice(ctx context.Context, tenantID string, inv *domain.Invoice, items []domain.LineItem) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if inv == nil || inv.ID == "" {
		return fmt.Errorf("%w: invoice id is required", ErrInvalidInput)
	}

	createdAt := inv.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var label sql.NullFloat64
	if inv.RiskLabel != nil {
		label = sql.NullFloat64{Float64: *inv.RiskLabel, Valid: true}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO invoices (
			id, tenant_id, vendor_id, matter_id, practice_area,
			total_amount, currency, description,
			total_hours, average_rate, line_item_count, unique_timekeepers,
			risk_label, submitted_at, submitted_nanos, period_end, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			vendor_id = excluded.vendor_id,
			matter_id = excluded.matter_id,
			practice_area = excluded.practice_area,
			total_amount = excluded.total_amount,
			currency = excluded.currency,
			description = excluded.description,
			total_hours = excluded.total_hours,
			average_rate = excluded.average_rate,
			line_item_count = excluded.line_item_count,
			unique_timekeepers = excluded.unique_timekeepers,
			risk_label = excluded.risk_label,
			submitted_at = excluded.submitted_at,
			submitted_nanos = excluded.submitted_nanos,
			period_end = excluded.period_end
	`

	_, err = tx.ExecContext(ctx, r.rebind(query),
		inv.ID, tenantID, inv.VendorID, inv.MatterID, inv.PracticeArea,
		inv.TotalAmount, inv.Currency, inv.Description,
		inv.TotalHours, inv.AverageRate, inv.LineItemCount, inv.UniqueTimekeepers,
		label, inv.SubmittedAt.UTC(), inv.SubmittedAt.UnixNano(), inv.PeriodEnd.UTC(), createdAt.UTC(),
	)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM line_items WHERE tenant_id = ? AND invoice_id = ?`), tenantID, inv.ID); err != nil {
		return err
	}

	itemQuery := r.rebind(`
		INSERT INTO line_items (
			tenant_id, invoice_id, position, id, description, hours, rate, amount,
			timekeeper_name, timekeeper_title, entry_date, item_type
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	for i, li := range items {
		_, err := tx.ExecContext(ctx, itemQuery,
			tenantID, inv.ID, i, li.ID, li.Description, li.Hours, li.Rate, li.Amount,
			li.TimekeeperName, li.TimekeeperTitle, li.EntryDate.UTC(), string(li.Type),
		)
		if err != nil {
			return fmt.Errorf("line item %d: %w", i, err)
		}
	}

	return tx.Commit()
}

const invoiceColumns = `
	id, tenant_id, vendor_id, matter_id, practice_area,
	total_amount, currency, description,
	total_hours, average_rate, line_item_count, unique_timekeepers,
	risk_label, submitted_at, period_end, created_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*domain.Invoice, error) {
	var inv domain.Invoice
	var practiceArea, currency, description sql.NullString
	var label sql.NullFloat64

	err := row.Scan(
		&inv.ID, &inv.TenantID, &inv.VendorID, &inv.MatterID, &practiceArea,
		&inv.TotalAmount, &currency, &description,
		&inv.TotalHours, &inv.AverageRate, &inv.LineItemCount, &inv.UniqueTimekeepers,
		&label, &inv.SubmittedAt, &inv.PeriodEnd, &inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	inv.PracticeArea = practiceArea.String
	inv.Currency = currency.String
	inv.Description = description.String
	if label.Valid {
		v := label.Float64
		inv.RiskLabel = &v
	}
	return &inv, nil
}

// GetInvoice retrieves an invoice and its line items with tenant isolation.
func (r *SQLRepository) GetInvoice(ctx context.Context, tenantID string, invoiceID string) (*domain.Invoice, []domain.LineItem, error) {
	if tenantID == "" {
		return nil, nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE tenant_id = ? AND id = ?`

	inv, err := scanInvoice(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, invoiceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	items, err := r.lineItems(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, nil, err
	}
	return inv, items, nil
}

func (r *SQLRepository) lineItems(ctx context.Context, tenantID, invoiceID string) ([]domain.LineItem, error) {
	query := `
		SELECT id, description, hours, rate, amount,
			   timekeeper_name, timekeeper_title, entry_date, item_type
		FROM line_items
		WHERE tenant_id = ? AND invoice_id = ?
		ORDER BY position
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		var li domain.LineItem
		var id, name, title, itemType sql.NullString

		if err := rows.Scan(
			&id, &li.Description, &li.Hours, &li.Rate, &li.Amount,
			&name, &title, &li.EntryDate, &itemType,
		); err != nil {
			return nil, err
		}

		li.ID = id.String
		li.InvoiceID = invoiceID
		li.TimekeeperName = name.String
		li.TimekeeperTitle = title.String
		li.Type = domain.ItemType(itemType.String)
		items = append(items, li)
	}

	return items, rows.Err()
}

// ListHistoricalInvoices retrieves invoices for a vendor submitted strictly
// before the given instant, newest first. An empty matterID matches every
// matter of the vendor.
func (r *SQLRepository) ListHistoricalInvoices(ctx context.Context, tenantID string, vendorID string, matterID string, before time.Time) ([]*domain.Invoice, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE tenant_id = ? AND vendor_id = ? AND submitted_nanos < ?`
	args := []any{tenantID, vendorID, before.UnixNano()}
	if matterID != "" {
		query += ` AND matter_id = ?`
		args = append(args, matterID)
	}
	query += ` ORDER BY submitted_nanos DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []*domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}

	return invoices, rows.Err()
}

// ListTrainingRecords loads labelled invoices with their line items, oldest
// first. A limit keeps the most recent invoices. AllTenants pools every
// tenant into one corpus. Records whose label falls outside [0,1] are skipped.
func (r *SQLRepository) ListTrainingRecords(ctx context.Context, tenantID string, limit int) ([]domain.TrainingRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = math.MaxInt32
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE risk_label IS NOT NULL AND risk_label >= 0 AND risk_label <= 1`
	var args []any
	if tenantID != AllTenants {
		query += ` AND tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY submitted_nanos DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}

	var invoices []*domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	slices.Reverse(invoices)

	records := make([]domain.TrainingRecord, 0, len(invoices))
	for _, inv := range invoices {
		items, err := r.lineItems(ctx, inv.TenantID, inv.ID)
		if err != nil {
			return nil, err
		}
		if rec, ok := domain.TrainingRecordFromInvoice(*inv, items); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// SaveAssessment stores a risk assessment with tenant isolation.
func (r *SQLRepository) SaveAssessment(ctx context.Context, tenantID string, assessment *domain.RiskAssessment) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if assessment == nil || assessment.ID == "" {
		return fmt.Errorf("%w: assessment id is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(assessment)
	if err != nil {
		return fmt.Errorf("encode assessment: %w", err)
	}

	query := `
		INSERT INTO assessments (id, tenant_id, invoice_id, score, level, model_version, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		assessment.ID, tenantID, assessment.InvoiceID,
		assessment.Score, string(assessment.Level), assessment.Metadata.ModelVersion,
		assessment.CreatedAt.UTC(), string(payload),
	)
	return err
}

// GetAssessment retrieves an assessment with tenant isolation.
func (r *SQLRepository) GetAssessment(ctx context.Context, tenantID string, assessmentID string) (*domain.RiskAssessment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT payload FROM assessments WHERE tenant_id = ? AND id = ?`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, assessmentID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var assessment domain.RiskAssessment
	if err := json.Unmarshal([]byte(payload), &assessment); err != nil {
		return nil, fmt.Errorf("decode assessment %s: %w", assessmentID, err)
	}
	return &assessment, nil
}

// SaveModelArtifact stores a trained model. Versions are unique.
func (r *SQLRepository) SaveModelArtifact(ctx context.Context, artifact *domain.ModelArtifact) error {
	if artifact == nil || artifact.Version == "" || len(artifact.Payload) == 0 {
		return fmt.Errorf("%w: artifact version and payload are required", ErrInvalidInput)
	}

	createdAt := artifact.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO model_artifacts (version, algorithm, sample_count, validation_mae, payload, created_at, created_nanos)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		artifact.Version, artifact.Algorithm, artifact.SampleCount, artifact.ValidationMAE,
		string(artifact.Payload), createdAt.UTC(), createdAt.UnixNano(),
	)
	return err
}

// LatestModelArtifact returns the most recently saved model, or nil when
// none has been saved.
func (r *SQLRepository) LatestModelArtifact(ctx context.Context) (*domain.ModelArtifact, error) {
	query := `
		SELECT version, algorithm, sample_count, validation_mae, payload, created_at
		FROM model_artifacts
		ORDER BY created_nanos DESC, version DESC
		LIMIT 1
	`

	var a domain.ModelArtifact
	var payload string
	err := r.db.QueryRowContext(ctx, query).Scan(
		&a.Version, &a.Algorithm, &a.SampleCount, &a.ValidationMAE, &payload, &a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	a.Payload = []byte(payload)
	return &a, nil
}

// SaveRuleConfig stores a rule configuration with tenant isolation.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rule == nil || rule.ID == "" || rule.Expression == "" {
		return fmt.Errorf("%w: rule id and expression are required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, tenant_id, name, description, version, expression, severity, weight, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			severity = excluded.severity,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, string(rule.Severity), rule.Weight, enabled,
		now, now,
	)
	return err
}

const ruleColumns = `id, tenant_id, name, description, version, expression, severity, weight, enabled`

func scanRule(row rowScanner) (*domain.RuleConfig, error) {
	var cfg domain.RuleConfig
	var description sql.NullString
	var severity string
	var enabled int

	if err := row.Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &description,
		&cfg.Version, &cfg.Expression, &severity, &cfg.Weight, &enabled,
	); err != nil {
		return nil, err
	}

	cfg.Description = description.String
	cfg.Severity = domain.Severity(severity)
	cfg.Enabled = enabled == 1
	return &cfg, nil
}

// GetRuleConfig retrieves the latest version of a rule with tenant
// isolation, whether or not it is enabled.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM rule_configs
		WHERE tenant_id = ? AND id = ?
		ORDER BY version DESC
		LIMIT 1
	`

	cfg, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ListRuleConfigs retrieves active rules for a tenant, or for every tenant
// with AllTenants. Only the latest version of each rule is considered, so
// disabling a new version retires the rule.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + ruleColumns + ` FROM rule_configs`
	var args []any
	if tenantID != AllTenants {
		query += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY tenant_id, id, version DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	seen := make(map[string]bool)
	for rows.Next() {
		cfg, err := scanRule(rows)
		if err != nil {
			return nil, err
		}

		key := cfg.TenantID + "/" + cfg.ID
		if seen[key] {
			continue
		}
		seen[key] = true

		if cfg.Enabled {
			configs = append(configs, cfg)
		}
	}

	return configs, rows.Err()
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
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
