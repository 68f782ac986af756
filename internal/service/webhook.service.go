package service

import (
	"context"
	"errors"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"africorex-crm/internal/domain"
	"africorex-crm/internal/infrastructure/payment"
	"africorex-crm/internal/repo"
)

// IngestError is the webhook ingestion error class.
var IngestError = errs.Class("ingest")

// ErrUnknownAttempt means the callback referenced a correlation ref no
// initiation call ever produced. Logged for manual review; never mutates
// the ledger.
var ErrUnknownAttempt = errs.New("unknown attempt")

// Ingestor applies one authenticated, parsed provider callback to the ledger.
type Ingestor interface {
	Ingest(ctx context.Context, cb payment.Callback) error
}

type ingestService struct {
	log         *zap.Logger
	attemptRepo repo.AttemptRepo
	reconciler  Reconciler
}

func NewIngestService(log *zap.Logger, attemptRepo repo.AttemptRepo, reconciler Reconciler) Ingestor {
	return &ingestService{
		log:         log,
		attemptRepo: attemptRepo,
		reconciler:  reconciler,
	}
}

// Ingest records the callback's outcome exactly once. Redelivered callbacks
// land on an already-terminal row and become no-ops, so the caller can
// acknowledge them to the provider. Reconciliation runs only on a fresh
// transition to successful, and its failure never unwinds the ledger write:
// the attempt is already durable and reconciliation can be replayed through
// the admin endpoint or the sweep.
func (s *ingestService) Ingest(ctx context.Context, cb payment.Callback) error {
	attempt, fresh, err := s.attemptRepo.MarkTerminal(ctx, cb.Gateway, cb.CorrelationRef, cb.Outcome, cb.ProviderRef, cb.Raw)
	if errors.Is(err, repo.ErrNotFound) {
		s.log.Warn("callback for unknown correlation ref",
			zap.String("gateway", string(cb.Gateway)),
			zap.String("correlation_ref", cb.CorrelationRef))
		return ErrUnknownAttempt
	}
	if err != nil {
		return IngestError.Wrap(err)
	}

	if !fresh {
		if attempt.Status != cb.Outcome {
			// First terminal write wins; a conflicting late delivery is
			// discarded, loudly.
			s.log.Warn("conflicting terminal callback discarded",
				zap.String("gateway", string(cb.Gateway)),
				zap.String("correlation_ref", cb.CorrelationRef),
				zap.String("recorded", string(attempt.Status)),
				zap.String("delivered", string(cb.Outcome)))
		}
		return nil
	}

	if !cb.Amount.IsZero() && !cb.Amount.Equal(attempt.Amount) {
		s.log.Warn("callback amount differs from initiated amount",
			zap.String("correlation_ref", cb.CorrelationRef),
			zap.String("initiated", attempt.Amount.String()),
			zap.String("reported", cb.Amount.String()))
	}

	s.log.Info("payment attempt settled",
		zap.String("gateway", string(cb.Gateway)),
		zap.String("correlation_ref", cb.CorrelationRef),
		zap.Stringer("invoice_id", attempt.InvoiceID),
		zap.String("status", string(cb.Outcome)))

	if cb.Outcome != domain.AttemptSuccessful {
		return nil
	}

	if err := s.reconciler.Reconcile(ctx, attempt.InvoiceID); err != nil {
		s.log.Error("reconciliation failed; ledger row kept, replay required",
			zap.Stringer("invoice_id", attempt.InvoiceID),
			zap.Error(err))
	}
	return nil
}
