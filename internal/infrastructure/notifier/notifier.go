package notifier

import (
	"context"
	"encoding/json"

	"escrow-pay.backend/internal/domain/entities"
	"escrow-pay.backend/pkg/logger"
	"escrow-pay.backend/pkg/metrics"
	"go.uber.org/zap"
)

// Sink delivers an encoded notification to one transport.
type Sink interface {
	Name() string
	Publish(ctx context.Context, topic string, payload []byte) error
}

// FanOut publishes status changes to every configured sink. Delivery is
// fire-and-forget: a failing sink is logged and counted, never surfaced to
// the caller, and never blocks the other sinks.
type FanOut struct {
	sinks []Sink
}

// NewFanOut creates a publisher over sinks. Nil sinks are skipped.
func NewFanOut(sinks ...Sink) *FanOut {
	f := &FanOut{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Sinks returns the names of the active sinks.
func (f *FanOut) Sinks() []string {
	names := make([]string, 0, len(f.sinks))
	for _, s := range f.sinks {
		names = append(names, s.Name())
	}
	return names
}

// NotifyStatusChanged encodes ev and hands it to every sink.
func (f *FanOut) NotifyStatusChanged(ctx context.Context, ev entities.StatusChangedEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Error(ctx, "Failed to encode status notification",
			zap.String("payment_id", ev.PaymentID.String()),
			zap.Error(err),
		)
		return
	}

	for _, s := range f.sinks {
		if err := s.Publish(ctx, entities.StatusChangedTopic, payload); err != nil {
			metrics.NotificationFailures.WithLabelValues(s.Name()).Inc()
			logger.Warn(ctx, "Status notification not delivered",
				zap.String("sink", s.Name()),
				zap.String("payment_id", ev.PaymentID.String()),
				zap.Error(err),
			)
		}
	}
}
