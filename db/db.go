package db

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/slashbinslashnoname/hire-checkout/models"
)

// Database wraps the SQLite ledger of checkout attempts and refunds
type Database struct {
	db *sql.DB
}

// NewDatabase initializes the database connection and schema
func NewDatabase(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// a single writer avoids SQLITE_BUSY between bot and API handlers
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS checkout_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			idempotency_key TEXT NOT NULL UNIQUE,
			proposal_id INTEGER NOT NULL,
			job_id INTEGER NOT NULL,
			amount_cents INTEGER NOT NULL,
			currency TEXT NOT NULL,
			brand TEXT NOT NULL,
			status TEXT NOT NULL,
			escrow_payment_id TEXT NOT NULL DEFAULT '',
			contract_id INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_checkout_attempts_status ON checkout_attempts(status);
		CREATE TABLE IF NOT EXISTS refunds (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			proposal_id INTEGER NOT NULL,
			job_id INTEGER NOT NULL,
			contract_id INTEGER NOT NULL DEFAULT 0,
			reason TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create schema")
	}

	return &Database{db: db}, nil
}

// StartAttempt records a checkout attempt as pending. Re-submitting the same
// key resets the row to pending and clears the previous error.
func (d *Database) StartAttempt(a models.Attempt) error {
	now := time.Now().UTC()
	_, err := d.db.Exec(`
		INSERT INTO checkout_attempts
			(idempotency_key, proposal_id, job_id, amount_cents, currency, brand, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(idempotency_key) DO UPDATE SET
			status = excluded.status, error = '', updated_at = excluded.updated_at`,
		a.IdempotencyKey, a.ProposalID, a.JobID, a.AmountCents, a.Currency, a.Brand,
		models.AttemptPending, now, now,
	)
	if err != nil {
		return errors.Wrap(err, "failed to record checkout attempt")
	}
	return nil
}

// MarkFunded records the escrow payment for an attempt
func (d *Database) MarkFunded(key, paymentID string) error {
	return d.updateAttempt(key, "status = ?, escrow_payment_id = ?, error = ''", models.AttemptFunded, paymentID)
}

// MarkContracted records the created contract for an attempt
func (d *Database) MarkContracted(key string, contractID int64) error {
	return d.updateAttempt(key, "status = ?, contract_id = ?, error = ''", models.AttemptContracted, contractID)
}

// MarkFailed records a funding failure
func (d *Database) MarkFailed(key, errMsg string) error {
	return d.updateAttempt(key, "status = ?, error = ?", models.AttemptFailed, errMsg)
}

// MarkPartialFailure records a funded attempt whose contract could not be created
func (d *Database) MarkPartialFailure(key, errMsg string) error {
	return d.updateAttempt(key, "status = ?, error = ?", models.AttemptPartialFailure, errMsg)
}

func (d *Database) updateAttempt(key, set string, args ...any) error {
	args = append(args, time.Now().UTC(), key)
	res, err := d.db.Exec("UPDATE checkout_attempts SET "+set+", updated_at = ? WHERE idempotency_key = ?", args...)
	if err != nil {
		return errors.Wrapf(err, "failed to update checkout attempt %s", key)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf("checkout attempt %s not found", key)
	}
	return nil
}

const attemptColumns = `id, idempotency_key, proposal_id, job_id, amount_cents, currency, brand, status,
	escrow_payment_id, contract_id, error, created_at, updated_at`

func scanAttempt(row interface{ Scan(...any) error }) (models.Attempt, error) {
	var a models.Attempt
	err := row.Scan(&a.ID, &a.IdempotencyKey, &a.ProposalID, &a.JobID, &a.AmountCents, &a.Currency, &a.Brand,
		&a.Status, &a.EscrowPaymentID, &a.ContractID, &a.Error, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// GetAttempt retrieves an attempt by idempotency key
func (d *Database) GetAttempt(key string) (*models.Attempt, error) {
	row := d.db.QueryRow("SELECT "+attemptColumns+" FROM checkout_attempts WHERE idempotency_key = ?", key)
	a, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, errors.Errorf("checkout attempt %s not found", key)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch checkout attempt")
	}
	return &a, nil
}

// ListAttempts retrieves attempts in a status, newest first, with optional limit
func (d *Database) ListAttempts(status models.AttemptStatus, limit int) ([]models.Attempt, error) {
	query := "SELECT " + attemptColumns + " FROM checkout_attempts WHERE status = ? ORDER BY updated_at DESC, id DESC"
	args := []any{status}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch checkout attempts")
	}
	defer rows.Close()

	var attempts []models.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan checkout attempt")
		}
		attempts = append(attempts, a)
	}
	return attempts, errors.Wrap(rows.Err(), "failed to iterate checkout attempts")
}

// ListPartialFailures returns funded attempts that never got a contract
func (d *Database) ListPartialFailures(limit int) ([]models.Attempt, error) {
	return d.ListAttempts(models.AttemptPartialFailure, limit)
}

// PendingAttempt returns the newest attempt for a proposal whose escrow was
// funded but which has no contract, or nil when there is none
func (d *Database) PendingAttempt(proposalID int64) (*models.Attempt, error) {
	row := d.db.QueryRow("SELECT "+attemptColumns+` FROM checkout_attempts
		WHERE proposal_id = ? AND status IN (?, ?)
		ORDER BY updated_at DESC, id DESC LIMIT 1`,
		proposalID, models.AttemptFunded, models.AttemptPartialFailure)
	a, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch pending checkout attempt")
	}
	return &a, nil
}

// RecordRefund stores the outcome of a discard
func (d *Database) RecordRefund(r models.Refund) error {
	_, err := d.db.Exec(
		"INSERT INTO refunds (proposal_id, job_id, contract_id, reason, status, error, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		r.ProposalID, r.JobID, r.ContractID, r.Reason, r.Status, r.Error, time.Now().UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "failed to record refund")
	}
	return nil
}

// ListRefunds retrieves all refunds recorded for a proposal, oldest first
func (d *Database) ListRefunds(proposalID int64) ([]models.Refund, error) {
	rows, err := d.db.Query(
		"SELECT id, proposal_id, job_id, contract_id, reason, status, error, created_at FROM refunds WHERE proposal_id = ? ORDER BY id",
		proposalID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch refunds")
	}
	defer rows.Close()

	var refunds []models.Refund
	for rows.Next() {
		var r models.Refund
		if err := rows.Scan(&r.ID, &r.ProposalID, &r.JobID, &r.ContractID, &r.Reason, &r.Status, &r.Error, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan refund")
		}
		refunds = append(refunds, r)
	}
	return refunds, errors.Wrap(rows.Err(), "failed to iterate refunds")
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}
