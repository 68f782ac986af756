package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"africorex-crm/internal/domain"
)

type InvoiceRepo interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error)
	// FindByIDForUpdate reads the invoice inside tx with a row lock, so a
	// reconciliation transaction observes a stable paid sum.
	FindByIDForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Invoice, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Invoice, error)
	ListAll(ctx context.Context) ([]domain.Invoice, error)
	Create(ctx context.Context, invoice *domain.Invoice) error
	UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.InvoiceStatus) error
}

type invoiceRepo struct {
	db *sql.DB
}

func NewInvoiceRepo(db *sql.DB) InvoiceRepo {
	return &invoiceRepo{db: db}
}

const invoiceColumns = `id, user_id, invoice_number, total_amount, currency, status, issue_date, due_date, created_at, updated_at`

func scanInvoice(row interface{ Scan(...any) error }) (*domain.Invoice, error) {
	var inv domain.Invoice
	var dueDate sql.NullTime
	err := row.Scan(
		&inv.ID,
		&inv.UserID,
		&inv.InvoiceNumber,
		&inv.TotalAmount,
		&inv.Currency,
		&inv.Status,
		&inv.IssueDate,
		&dueDate,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.DueDate = dueDate.Time
	return &inv, nil
}

func (r *invoiceRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	inv, err := scanInvoice(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return inv, nil
}

func (r *invoiceRepo) FindByIDForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1 FOR UPDATE`
	inv, err := scanInvoice(tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return inv, nil
}

func (r *invoiceRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE user_id = $1 ORDER BY issue_date DESC`
	return r.list(ctx, query, ownerID)
}

func (r *invoiceRepo) ListAll(ctx context.Context) ([]domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices ORDER BY issue_date DESC`
	return r.list(ctx, query)
}

func (r *invoiceRepo) list(ctx context.Context, query string, args ...any) ([]domain.Invoice, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer rows.Close()

	var invoices []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

func (r *invoiceRepo) Create(ctx context.Context, invoice *domain.Invoice) error {
	query := `INSERT INTO invoices (` + invoiceColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.ExecContext(
		ctx, query,
		invoice.ID,
		invoice.UserID,
		invoice.InvoiceNumber,
		invoice.TotalAmount,
		invoice.Currency,
		invoice.Status,
		invoice.IssueDate,
		invoice.DueDate,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	)
	if err != nil {
		return Error.Wrap(err)
	}
	return nil
}

func (r *invoiceRepo) UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.InvoiceStatus) error {
	query := `UPDATE invoices SET status = $2, updated_at = now() WHERE id = $1`
	_, err := tx.ExecContext(ctx, query, id, status)
	if err != nil {
		return Error.Wrap(err)
	}
	return nil
}
