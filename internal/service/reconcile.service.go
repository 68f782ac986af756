package service

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"africorex-crm/internal/repo"
)

// ReconcileError is the settlement reconciler error class.
var ReconcileError = errs.Class("reconcile")

// Reconciler recomputes an invoice's settlement status from the ledger. Both
// gateways funnel through this one aggregation rule so they cannot disagree
// on rounding or clamping.
type Reconciler interface {
	Reconcile(ctx context.Context, invoiceID uuid.UUID) error
}

type reconcileService struct {
	log         *zap.Logger
	db          *sql.DB
	invoiceRepo repo.InvoiceRepo
	attemptRepo repo.AttemptRepo
}

func NewReconcileService(log *zap.Logger, db *sql.DB, invoiceRepo repo.InvoiceRepo, attemptRepo repo.AttemptRepo) Reconciler {
	return &reconcileService{
		log:         log,
		db:          db,
		invoiceRepo: invoiceRepo,
		attemptRepo: attemptRepo,
	}
}

// Reconcile derives the invoice status from the exact decimal sum of all
// successful attempts. Idempotent: with no new ledger rows a second call
// writes nothing. The row lock on the invoice serializes concurrent
// reconciliations so neither computes against a stale sum.
func (s *reconcileService) Reconcile(ctx context.Context, invoiceID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ReconcileError.Wrap(err)
	}
	defer tx.Rollback()

	invoice, err := s.invoiceRepo.FindByIDForUpdate(ctx, tx, invoiceID)
	if err != nil {
		return ReconcileError.Wrap(err)
	}

	paid, err := s.attemptRepo.SumSuccessfulByInvoice(ctx, tx, invoiceID)
	if err != nil {
		return ReconcileError.Wrap(err)
	}

	if paid.GreaterThan(invoice.TotalAmount) {
		// Overpayment is clamped to paid; refunds are handled manually.
		s.log.Warn("invoice overpaid",
			zap.Stringer("invoice_id", invoiceID),
			zap.String("total", invoice.TotalAmount.String()),
			zap.String("paid", paid.String()))
	}

	next := invoice.SettlementStatus(paid)
	if next == invoice.Status {
		return nil
	}

	if err := s.invoiceRepo.UpdateStatus(ctx, tx, invoiceID, next); err != nil {
		return ReconcileError.Wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return ReconcileError.Wrap(err)
	}

	s.log.Info("invoice settlement updated",
		zap.Stringer("invoice_id", invoiceID),
		zap.String("paid", paid.String()),
		zap.String("status", string(next)))
	return nil
}
