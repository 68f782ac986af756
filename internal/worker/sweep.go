package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"africorex-crm/internal/domain"
	"africorex-crm/internal/infrastructure/payment"
	"africorex-crm/internal/repo"
	"africorex-crm/internal/service"
)

// SweepWorker periodically asks the providers for the truth about attempts
// that have sat pending past the threshold: callbacks get lost, and a charge
// the provider completed must not linger unpaid locally. Resolved outcomes
// funnel through the same idempotent ingestion path as webhooks, so a
// late-arriving callback racing the sweep is harmless.
type SweepWorker struct {
	log         *zap.Logger
	attemptRepo repo.AttemptRepo
	ingestor    service.Ingestor
	checkers    map[domain.Gateway]payment.StatusChecker
	interval    time.Duration
	pendingAge  time.Duration
	batchSize   int
}

func NewSweepWorker(
	log *zap.Logger,
	attemptRepo repo.AttemptRepo,
	ingestor service.Ingestor,
	checkers map[domain.Gateway]payment.StatusChecker,
	interval time.Duration,
	pendingAge time.Duration,
) *SweepWorker {
	return &SweepWorker{
		log:         log,
		attemptRepo: attemptRepo,
		ingestor:    ingestor,
		checkers:    checkers,
		interval:    interval,
		pendingAge:  pendingAge,
		batchSize:   100,
	}
}

func (w *SweepWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("pending attempt sweep started",
		zap.Duration("interval", w.interval),
		zap.Duration("pending_age", w.pendingAge))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.log.Error("sweep pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single sweep pass.
func (w *SweepWorker) RunOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-w.pendingAge)
	stuck, err := w.attemptRepo.FindPendingBefore(ctx, cutoff, w.batchSize)
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		return nil
	}

	w.log.Info("sweeping stuck attempts", zap.Int("count", len(stuck)))

	for _, attempt := range stuck {
		checker, ok := w.checkers[attempt.Gateway]
		if !ok {
			continue
		}

		status, providerRef, err := checker.CheckStatus(ctx, attempt.CorrelationRef)
		if err != nil {
			// Provider unreachable; the next pass retries.
			w.log.Warn("status check failed",
				zap.String("gateway", string(attempt.Gateway)),
				zap.String("correlation_ref", attempt.CorrelationRef),
				zap.Error(err))
			continue
		}
		if !status.Terminal() {
			continue
		}

		raw, _ := json.Marshal(map[string]string{
			"source":     "status_sweep",
			"status":     string(status),
			"checked_at": time.Now().UTC().Format(time.RFC3339),
		})

		err = w.ingestor.Ingest(ctx, payment.Callback{
			Gateway:        attempt.Gateway,
			CorrelationRef: attempt.CorrelationRef,
			Outcome:        status,
			Amount:         attempt.Amount,
			ProviderRef:    providerRef,
			Raw:            raw,
		})
		if err != nil {
			w.log.Warn("sweep ingestion failed",
				zap.String("correlation_ref", attempt.CorrelationRef),
				zap.Error(err))
		}
	}
	return nil
}
