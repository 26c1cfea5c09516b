// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
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

// SaveTransaction stores a normalized transaction. Replays of the same
// transaction id are no-ops so audit delivery retries stay idempotent.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(tx.Metadata)

	hasCoords := 0
	if tx.Location.HasCoords {
		hasCoords = 1
	}

	query := `
		INSERT INTO transactions (
			id, user_id, amount, currency, timestamp,
			lat, lon, location_label, has_coords,
			payment_method, device_fingerprint, merchant_id, ip,
			created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.UserID, tx.Amount, tx.Currency, tx.Timestamp,
		tx.Location.Lat, tx.Location.Lon, tx.Location.Label, hasCoords,
		string(tx.PaymentMethod), tx.DeviceFingerprint, tx.MerchantID, tx.IP,
		tx.CreatedAt, string(metadata),
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `
		SELECT id, user_id, amount, currency, timestamp,
			   lat, lon, location_label, has_coords,
			   payment_method, device_fingerprint, merchant_id, ip,
			   created_at, metadata
		FROM transactions
		WHERE id = ?
	`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

// GetTransactionsByUser retrieves a user's transactions since a point in
// time, newest first.
func (r *SQLRepository) GetTransactionsByUser(ctx context.Context, userID string, since time.Time) ([]*domain.Transaction, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, user_id, amount, currency, timestamp,
			   lat, lon, location_label, has_coords,
			   payment_method, device_fingerprint, merchant_id, ip,
			   created_at, metadata
		FROM transactions
		WHERE user_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var method, metadata string
	var lat, lon sql.NullFloat64
	var label, device, merchant, ip sql.NullString
	var hasCoords int

	err := row.Scan(
		&tx.ID, &tx.UserID, &tx.Amount, &tx.Currency, &tx.Timestamp,
		&lat, &lon, &label, &hasCoords,
		&method, &device, &merchant, &ip,
		&tx.CreatedAt, &metadata,
	)
	if err != nil {
		return nil, err
	}

	tx.PaymentMethod = domain.PaymentMethod(method)
	tx.DeviceFingerprint = device.String
	tx.MerchantID = merchant.String
	tx.IP = ip.String
	tx.Location = domain.Location{
		Lat:       lat.Float64,
		Lon:       lon.Float64,
		Label:     label.String,
		HasCoords: hasCoords == 1,
	}

	if metadata != "" && metadata != "null" {
		json.Unmarshal([]byte(metadata), &tx.Metadata)
	}

	return &tx, nil
}

// SaveAuditRecord stores the verdict as the transaction's audit record.
// Idempotent on tx_id: re-emitting the same verdict does not duplicate.
func (r *SQLRepository) SaveAuditRecord(ctx context.Context, verdict *domain.Verdict, tx *domain.Transaction) error {
	if verdict == nil || verdict.TxID == "" {
		return fmt.Errorf("%w: verdict txId is required", ErrInvalidInput)
	}

	signals, _ := json.Marshal(verdict.Signals)
	metadata, _ := json.Marshal(verdict.Metadata)

	query := `
		INSERT INTO audit_records (
			tx_id, verdict_id, user_id, score, decision,
			signals, decided_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tx_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		verdict.TxID, verdict.ID, verdict.UserID, verdict.Score, string(verdict.Decision),
		string(signals), verdict.DecidedAt, string(metadata),
	)
	return err
}

// GetAuditRecord retrieves the verdict recorded for a transaction.
func (r *SQLRepository) GetAuditRecord(ctx context.Context, txID string) (*domain.Verdict, error) {
	query := `
		SELECT tx_id, verdict_id, user_id, score, decision, signals, decided_at, metadata
		FROM audit_records
		WHERE tx_id = ?
	`

	v, err := scanVerdict(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

// ListAlerts retrieves review and blocked verdicts since a point in time,
// newest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, since time.Time) ([]*domain.Verdict, error) {
	query := `
		SELECT tx_id, verdict_id, user_id, score, decision, signals, decided_at, metadata
		FROM audit_records
		WHERE decision IN (?, ?) AND decided_at >= ?
		ORDER BY decided_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query),
		string(domain.DecisionReview), string(domain.DecisionBlocked), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var verdicts []*domain.Verdict
	for rows.Next() {
		v, err := scanVerdict(rows)
		if err != nil {
			return nil, err
		}
		verdicts = append(verdicts, v)
	}

	return verdicts, rows.Err()
}

func scanVerdict(row rowScanner) (*domain.Verdict, error) {
	var v domain.Verdict
	var decision, signals, metadata string

	err := row.Scan(
		&v.TxID, &v.ID, &v.UserID, &v.Score, &decision,
		&signals, &v.DecidedAt, &metadata,
	)
	if err != nil {
		return nil, err
	}

	v.Decision = domain.Decision(decision)
	json.Unmarshal([]byte(signals), &v.Signals)
	json.Unmarshal([]byte(metadata), &v.Metadata)

	return &v, nil
}

// GetMerchantRisk looks up the registry risk score for a merchant. The
// second return is false when the merchant is not listed.
func (r *SQLRepository) GetMerchantRisk(ctx context.Context, merchantID string) (float64, bool, error) {
	query := `SELECT score FROM merchant_risk WHERE merchant_id = ?`

	var score float64
	err := r.db.QueryRowContext(ctx, r.rebind(query), merchantID).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return score, true, nil
}

// UpsertMerchantRisk sets the registry risk score for a merchant.
func (r *SQLRepository) UpsertMerchantRisk(ctx context.Context, merchantID string, score float64) error {
	if merchantID == "" {
		return fmt.Errorf("%w: merchantID is required", ErrInvalidInput)
	}
	if score < 0 || score > 1 {
		return fmt.Errorf("%w: score must be in [0,1]", ErrInvalidInput)
	}

	query := `
		INSERT INTO merchant_risk (merchant_id, score, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(merchant_id) DO UPDATE SET
			score = excluded.score,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), merchantID, score, time.Now().UTC())
	return err
}

// ListMerchantRisks retrieves the full merchant risk registry.
func (r *SQLRepository) ListMerchantRisks(ctx context.Context) (map[string]float64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT merchant_id, score FROM merchant_risk`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	risks := make(map[string]float64)
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, err
		}
		risks[id] = score
	}

	return risks, rows.Err()
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
