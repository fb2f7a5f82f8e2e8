package jobs

import (
	"context"
	"time"

	"escrow-pay.backend/pkg/logger"
	"go.uber.org/zap"
)

const PaymentExpiryJobName = "payment_expiry"

type paymentExpirer interface {
	ExpireDue(ctx context.Context, limit int) (int, error)
}

// NewPaymentExpiryJob expires payments left unclaimed or unpaid past their
// deadline, in batches of batchSize.
func NewPaymentExpiryJob(expirer paymentExpirer, interval time.Duration, batchSize int) *PeriodicJob {
	return NewPeriodicJob(PaymentExpiryJobName, interval, func(ctx context.Context) error {
		return processExpiredPayments(ctx, expirer, batchSize)
	})
}

func processExpiredPayments(ctx context.Context, expirer paymentExpirer, batchSize int) error {
	n, err := expirer.ExpireDue(ctx, batchSize)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Info(ctx, "Expired overdue payments", zap.Int("count", n))
	}
	return nil
}
