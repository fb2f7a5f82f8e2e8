package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrow-pay.backend/internal/domain/entities"
	domainerrors "escrow-pay.backend/internal/domain/errors"
	domainRepos "escrow-pay.backend/internal/domain/repositories"
	"escrow-pay.backend/internal/domain/status"
	"escrow-pay.backend/pkg/logger"
	"escrow-pay.backend/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TransitionInput carries everything recorded alongside a status change.
type TransitionInput struct {
	Note                string
	Metadata            map[string]any
	TxHash              string
	BlockchainPaymentID string
	Proof               map[string]any
	Updates             entities.PaymentIntentUpdate
}

// TransitionHook runs inside the transition's transaction once the new state
// is applied to intent and before it is persisted. Returning an error rolls
// the transition back.
type TransitionHook func(ctx context.Context, from status.Main, intent *entities.PaymentIntent) error

// TransitionOutcome describes what UpdateStatus did.
type TransitionOutcome struct {
	Intent  *entities.PaymentIntent
	From    status.Main
	Changed bool
}

// HistoryReport is the result of re-verifying a payment's audit chain.
type HistoryReport struct {
	PaymentID uuid.UUID              `json:"paymentId"`
	Entries   int                    `json:"entries"`
	Valid     bool                   `json:"valid"`
	BrokenAt  *int                   `json:"brokenAt,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	History   entities.StatusHistory `json:"history"`
}

// StatusTransitionUsecase is the only writer of a payment's status.
type StatusTransitionUsecase struct {
	paymentRepo domainRepos.PaymentIntentRepository
	uow         domainRepos.UnitOfWork
	notifier    StatusNotifier
	hooks       []TransitionHook
	now         func() time.Time
}

func NewStatusTransitionUsecase(
	paymentRepo domainRepos.PaymentIntentRepository,
	uow domainRepos.UnitOfWork,
	notifier StatusNotifier,
	hooks ...TransitionHook,
) *StatusTransitionUsecase {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &StatusTransitionUsecase{
		paymentRepo: paymentRepo,
		uow:         uow,
		notifier:    notifier,
		hooks:       hooks,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// UpdateStatus moves a payment to newMain. newEscrow may be nil, in which case
// it is derived from newMain.
func (uc *StatusTransitionUsecase) UpdateStatus(ctx context.Context, paymentID uuid.UUID, newMain status.Main, newEscrow *status.Escrow, in TransitionInput) (*entities.PaymentIntent, error) {
	out, err := uc.Transition(ctx, paymentID, newMain, newEscrow, in)
	if err != nil {
		return nil, err
	}
	return out.Intent, nil
}

// Transition is UpdateStatus that also reports the previous status and
// whether anything changed.
func (uc *StatusTransitionUsecase) Transition(ctx context.Context, paymentID uuid.UUID, newMain status.Main, newEscrow *status.Escrow, in TransitionInput) (*TransitionOutcome, error) {
	if !newMain.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domainerrors.ErrInvalidInput, newMain)
	}
	target := status.MainToEscrow(newMain)
	if newEscrow != nil {
		if !newEscrow.Valid() {
			return nil, fmt.Errorf("%w: unknown escrow status %q", domainerrors.ErrInvalidInput, *newEscrow)
		}
		target = *newEscrow
	}

	var out *TransitionOutcome
	err := uc.uow.Do(ctx, func(txCtx context.Context) error {
		intent, err := uc.paymentRepo.GetByID(uc.uow.WithLock(txCtx), paymentID)
		if err != nil {
			return err
		}

		if err := intent.StatusHistory.Verify(); err != nil {
			metrics.HistoryIntegrityFaults.Inc()
			logger.Error(ctx, "Status history failed verification",
				zap.String("payment_id", paymentID.String()),
				zap.Error(err),
			)
			return fmt.Errorf("%w: payment %s: %v", domainerrors.ErrHistoryIntegrity, paymentID, err)
		}

		curMain, curEscrow := intent.Status, intent.EscrowStatus()
		if curMain.Canonical() == newMain.Canonical() && curEscrow == target {
			out = &TransitionOutcome{Intent: intent, From: curMain}
			return nil
		}

		if !status.IsValidTransition(curMain, newMain, curEscrow, target) {
			metrics.RejectedTransitions.WithLabelValues(string(curMain), string(newMain)).Inc()
			return &domainerrors.TransitionError{
				PaymentID:       paymentID,
				CurrentMain:     curMain,
				CurrentEscrow:   curEscrow,
				AttemptedMain:   newMain,
				AttemptedEscrow: target,
			}
		}

		metadata := in.Metadata
		if ignored := intent.MergeProof(in.Proof); len(ignored) > 0 {
			metadata = make(map[string]any, len(in.Metadata)+1)
			for k, v := range in.Metadata {
				metadata[k] = v
			}
			metadata["ignoredProofKeys"] = ignored
			logger.Warn(ctx, "Proof keys already recorded, keeping stored values",
				zap.String("payment_id", intent.ID.String()),
				zap.Strings("keys", ignored))
		}

		now := uc.now()
		entry := entities.StatusHistoryEntry{
			Status:              newMain,
			EscrowStatus:        target,
			Timestamp:           now,
			Note:                in.Note,
			Metadata:            metadata,
			TxHash:              in.TxHash,
			BlockchainPaymentID: in.BlockchainPaymentID,
		}
		if entry.TxHash == "" && in.Updates.TransactionHash != nil {
			entry.TxHash = *in.Updates.TransactionHash
		}
		if entry.BlockchainPaymentID == "" && in.Updates.BlockchainPaymentID != nil {
			entry.BlockchainPaymentID = *in.Updates.BlockchainPaymentID
		}
		history, err := intent.StatusHistory.Append(entry)
		if err != nil {
			return err
		}

		intent.StatusHistory = history
		intent.Status = newMain
		in.Updates.Apply(intent)
		stampMilestone(intent, newMain, now)

		for _, hook := range uc.hooks {
			if err := hook(txCtx, curMain, intent); err != nil {
				return err
			}
		}

		if err := uc.paymentRepo.Save(txCtx, intent); err != nil {
			return err
		}

		ev := entities.StatusChangedEvent{
			PaymentID:  intent.ID,
			OldMain:    curMain,
			NewMain:    newMain,
			OldEscrow:  curEscrow,
			NewEscrow:  target,
			Metadata:   in.Metadata,
			OccurredAt: now,
		}
		uc.uow.AfterCommit(txCtx, func() {
			metrics.StatusTransitions.WithLabelValues(string(ev.OldMain), string(ev.NewMain)).Inc()
			logger.Info(ctx, "Payment status changed",
				zap.String("payment_id", ev.PaymentID.String()),
				zap.String("from", string(ev.OldMain)),
				zap.String("to", string(ev.NewMain)),
			)
			uc.notifier.NotifyStatusChanged(context.WithoutCancel(ctx), ev)
		})

		out = &TransitionOutcome{Intent: intent, From: curMain, Changed: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyHistory recomputes the hash chain of one payment. A broken chain is
// reported in the result, not as an error.
func (uc *StatusTransitionUsecase) VerifyHistory(ctx context.Context, paymentID uuid.UUID) (*HistoryReport, error) {
	intent, err := uc.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	report := &HistoryReport{
		PaymentID: intent.ID,
		Entries:   len(intent.StatusHistory),
		Valid:     true,
		History:   intent.StatusHistory,
	}
	if err := intent.StatusHistory.Verify(); err != nil {
		report.Valid = false
		report.Reason = err.Error()
		var ie *entities.HistoryIntegrityError
		if errors.As(err, &ie) {
			idx := ie.Index
			report.BrokenAt = &idx
			report.Reason = ie.Reason
		}
		metrics.HistoryIntegrityFaults.Inc()
		logger.Error(ctx, "Status history failed verification",
			zap.String("payment_id", paymentID.String()),
			zap.Error(err),
		)
	}
	return report, nil
}

func stampMilestone(p *entities.PaymentIntent, m status.Main, at time.Time) {
	t := at
	switch m.Canonical() {
	case status.Claimed:
		p.ClaimedAt = &t
	case status.Paid:
		p.PaidAt = &t
	case status.Confirmed:
		p.ConfirmedAt = &t
	case status.Settled:
		p.SettledAt = &t
		if p.ReleasedAt == nil {
			p.ReleasedAt = &t
		}
	}
}
