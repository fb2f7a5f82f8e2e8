package jobs

import (
	"context"
	"time"

	"escrow-pay.backend/internal/usecases"
	"escrow-pay.backend/pkg/logger"
	"go.uber.org/zap"
)

const (
	ReconciliationPollJobName = "reconciliation_poll"
	RetryDrainJobName         = "retry_drain"
)

type poller interface {
	PollOnce(ctx context.Context) (usecases.PollReport, error)
}

type drainer interface {
	DrainRetryQueue(ctx context.Context) (usecases.DrainReport, error)
}

// NewReconciliationPollJob checks in-flight settlement transactions on every tick.
func NewReconciliationPollJob(p poller, interval time.Duration) *PeriodicJob {
	return NewPeriodicJob(ReconciliationPollJobName, interval, func(ctx context.Context) error {
		report, err := p.PollOnce(ctx)
		if err != nil {
			return err
		}
		if report.Checked > 0 {
			logger.Info(ctx, "Reconciliation poll finished",
				zap.Uint64("block_number", report.BlockNumber),
				zap.Int("checked", report.Checked),
				zap.Int("settled", report.Settled),
				zap.Int("failed", report.Failed),
				zap.Int("errors", report.Errors),
			)
		}
		return nil
	})
}

// NewRetryDrainJob redelivers due retry queue entries on every tick.
func NewRetryDrainJob(d drainer, interval time.Duration) *PeriodicJob {
	return NewPeriodicJob(RetryDrainJobName, interval, func(ctx context.Context) error {
		report, err := d.DrainRetryQueue(ctx)
		if err != nil {
			return err
		}
		if report.Due > 0 {
			logger.Info(ctx, "Retry queue drained",
				zap.Int("due", report.Due),
				zap.Int("processed", report.Processed),
				zap.Int("retried", report.Retried),
			)
		}
		return nil
	})
}
