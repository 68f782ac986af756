package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/zeebo/errs"

	"africorex-crm/internal/domain"
)

// Error is the ledger error class.
var Error = errs.Class("ledger")

var (
	// ErrNotFound means no row matched the lookup.
	ErrNotFound = errs.New("not found")
	// ErrDuplicateCorrelationRef means the (gateway, correlation ref) pair
	// already exists; the caller must retry with a fresh reference.
	ErrDuplicateCorrelationRef = errs.New("duplicate correlation ref")
)

type AttemptRepo interface {
	// CreatePending inserts a new attempt in the pending state.
	CreatePending(ctx context.Context, attempt *domain.PaymentAttempt) error
	// MarkTerminal moves the attempt identified by (gateway, correlationRef)
	// from pending to the given terminal status with a single conditional
	// update. fresh is false when the row was already terminal, in which
	// case the stored row is returned untouched.
	MarkTerminal(ctx context.Context, gateway domain.Gateway, correlationRef string, status domain.AttemptStatus, providerRef string, metadata json.RawMessage) (attempt *domain.PaymentAttempt, fresh bool, err error)
	// SumSuccessfulByInvoice returns the exact decimal sum of all
	// successful attempts against the invoice, across both gateways.
	SumSuccessfulByInvoice(ctx context.Context, tx *sql.Tx, invoiceID uuid.UUID) (decimal.Decimal, error)
	FindByCorrelation(ctx context.Context, gateway domain.Gateway, correlationRef string) (*domain.PaymentAttempt, error)
	// FindPendingBefore lists attempts still pending since before the
	// cutoff, oldest first. Used by the sweep worker.
	FindPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.PaymentAttempt, error)
}

type attemptRepo struct {
	db *sql.DB
}

func NewAttemptRepo(db *sql.DB) AttemptRepo {
	return &attemptRepo{db: db}
}

const attemptColumns = `id, gateway, invoice_id, payer_id, amount, currency, correlation_ref, provider_ref, status, metadata, created_at, updated_at`

func scanAttempt(row interface{ Scan(...any) error }) (*domain.PaymentAttempt, error) {
	var a domain.PaymentAttempt
	err := row.Scan(
		&a.ID,
		&a.Gateway,
		&a.InvoiceID,
		&a.PayerID,
		&a.Amount,
		&a.Currency,
		&a.CorrelationRef,
		&a.ProviderRef,
		&a.Status,
		&a.Metadata,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *attemptRepo) CreatePending(ctx context.Context, attempt *domain.PaymentAttempt) error {
	query := `INSERT INTO payment_attempts (` + attemptColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	metadata := attempt.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}

	_, err := r.db.ExecContext(
		ctx, query,
		attempt.ID,
		attempt.Gateway,
		attempt.InvoiceID,
		attempt.PayerID,
		attempt.Amount,
		attempt.Currency,
		attempt.CorrelationRef,
		attempt.ProviderRef,
		domain.AttemptPending,
		metadata,
		attempt.CreatedAt,
		attempt.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateCorrelationRef
		}
		return Error.Wrap(err)
	}
	return nil
}

// MarkTerminal is the idempotency boundary: the status filter in the UPDATE
// makes the pending->terminal transition a compare-and-set, so two racing
// duplicate deliveries cannot both win.
func (r *attemptRepo) MarkTerminal(ctx context.Context, gateway domain.Gateway, correlationRef string, status domain.AttemptStatus, providerRef string, metadata json.RawMessage) (*domain.PaymentAttempt, bool, error) {
	if !status.Terminal() {
		return nil, false, Error.New("non-terminal target status %q", status)
	}
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}

	query := `
		UPDATE payment_attempts
		SET status = $3,
		    provider_ref = COALESCE(NULLIF($4, ''), provider_ref),
		    metadata = $5,
		    updated_at = now()
		WHERE gateway = $1 AND correlation_ref = $2 AND status = 'pending'
		RETURNING ` + attemptColumns

	attempt, err := scanAttempt(r.db.QueryRowContext(ctx, query, gateway, correlationRef, status, providerRef, metadata))
	if err == nil {
		return attempt, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, Error.Wrap(err)
	}

	// No pending row matched: either the attempt is unknown or it already
	// reached a terminal state. Re-read to tell the two apart.
	attempt, err = r.FindByCorrelation(ctx, gateway, correlationRef)
	if err != nil {
		return nil, false, err
	}
	return attempt, false, nil
}

func (r *attemptRepo) SumSuccessfulByInvoice(ctx context.Context, tx *sql.Tx, invoiceID uuid.UUID) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM payment_attempts
		WHERE invoice_id = $1 AND status = $2
	`
	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, query, invoiceID, domain.AttemptSuccessful)
	} else {
		row = r.db.QueryRowContext(ctx, query, invoiceID, domain.AttemptSuccessful)
	}

	var sum decimal.Decimal
	if err := row.Scan(&sum); err != nil {
		return decimal.Zero, Error.Wrap(err)
	}
	return sum, nil
}

func (r *attemptRepo) FindByCorrelation(ctx context.Context, gateway domain.Gateway, correlationRef string) (*domain.PaymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE gateway = $1 AND correlation_ref = $2`
	attempt, err := scanAttempt(r.db.QueryRowContext(ctx, query, gateway, correlationRef))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return attempt, nil
}

func (r *attemptRepo) FindPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.PaymentAttempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM payment_attempts
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, domain.AttemptPending, before, limit)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer rows.Close()

	var attempts []domain.PaymentAttempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		attempts = append(attempts, *attempt)
	}
	return attempts, rows.Err()
}
