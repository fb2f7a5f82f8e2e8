package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"escrow-pay.backend/internal/domain/entities"
	domainerrors "escrow-pay.backend/internal/domain/errors"
	domainRepos "escrow-pay.backend/internal/domain/repositories"
	"escrow-pay.backend/internal/domain/status"
	"escrow-pay.backend/internal/infrastructure/blockchain"
	"escrow-pay.backend/pkg/logger"
	"escrow-pay.backend/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errUnresolved = errors.New("no payment matches the event")

// ReconciliationConfig tunes the engine. Zero values take the defaults.
type ReconciliationConfig struct {
	ConfirmationThreshold uint64
	RPCTimeout            time.Duration
	PollBatchSize         int
	DrainBatchSize        int
	StaleProcessingAge    time.Duration
}

func (c *ReconciliationConfig) applyDefaults() {
	if c.ConfirmationThreshold == 0 {
		c.ConfirmationThreshold = DefaultConfirmationThreshold
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = DefaultRPCTimeout
	}
	if c.PollBatchSize <= 0 {
		c.PollBatchSize = DefaultPollBatchSize
	}
	if c.DrainBatchSize <= 0 {
		c.DrainBatchSize = DefaultDrainBatchSize
	}
	if c.StaleProcessingAge <= 0 {
		c.StaleProcessingAge = DefaultStaleProcessingAge
	}
}

// PollReport summarises one reconciliation pass.
type PollReport struct {
	BlockNumber uint64 `json:"blockNumber"`
	Checked     int    `json:"checked"`
	Settled     int    `json:"settled"`
	Failed      int    `json:"failed"`
	Errors      int    `json:"errors"`
}

// DrainReport summarises one retry queue pass.
type DrainReport struct {
	Due       int `json:"due"`
	Processed int `json:"processed"`
	Retried   int `json:"retried"`
}

type eventOutcome int

const (
	outcomeApplied eventOutcome = iota
	outcomeDropped
	outcomeUnresolved
	outcomeMalformed
)

// ReconciliationUsecase keeps payments aligned with the escrow contract. It
// consumes pushed events, polls in-flight transactions, and drains events
// that could not be matched on arrival.
type ReconciliationUsecase struct {
	chain       ChainClient
	paymentRepo domainRepos.PaymentIntentRepository
	transitions *StatusTransitionUsecase
	retry       *RetryQueueUsecase
	cfg         ReconciliationConfig
	now         func() time.Time
	head        atomic.Uint64
}

func NewReconciliationUsecase(
	chain ChainClient,
	paymentRepo domainRepos.PaymentIntentRepository,
	transitions *StatusTransitionUsecase,
	retry *RetryQueueUsecase,
	cfg ReconciliationConfig,
) *ReconciliationUsecase {
	cfg.applyDefaults()
	return &ReconciliationUsecase{
		chain:       chain,
		paymentRepo: paymentRepo,
		transitions: transitions,
		retry:       retry,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Initialize proves the provider is reachable and recovers retry entries a
// previous process left in processing. Failure here must stop start-up.
func (uc *ReconciliationUsecase) Initialize(ctx context.Context) error {
	head, err := uc.blockNumber(ctx)
	if err != nil {
		return fmt.Errorf("%w: cannot read block height: %v", domainerrors.ErrProviderFault, err)
	}
	logger.Info(ctx, "Reconciliation engine initialised", zap.Uint64("block_number", head))

	if _, err := uc.retry.RecoverStale(ctx, uc.cfg.StaleProcessingAge); err != nil {
		return fmt.Errorf("recover stale retry entries: %w", err)
	}
	return nil
}

// LastBlockNumber is the most recent height seen by the engine.
func (uc *ReconciliationUsecase) LastBlockNumber() uint64 {
	return uc.head.Load()
}

// Subscribe attaches HandleBlockchainEvent to the provider's event stream.
func (uc *ReconciliationUsecase) Subscribe(ctx context.Context) (blockchain.Subscription, error) {
	return uc.chain.SubscribeEvents(ctx, func(ctx context.Context, ev entities.ChainEvent) {
		if _, err := uc.HandleBlockchainEvent(ctx, ev); err != nil {
			logger.Error(ctx, "Failed to handle chain event",
				zap.String("kind", string(ev.Kind)),
				zap.String("tx_hash", ev.TxHash),
				zap.Error(err),
			)
		}
	})
}

// HandleBlockchainEvent applies one contract event. It returns true when the
// event was applied, dropped as an invalid transition, or queued for retry,
// and false when it is malformed.
func (uc *ReconciliationUsecase) HandleBlockchainEvent(ctx context.Context, ev entities.ChainEvent) (bool, error) {
	ev = normalizeEvent(ev)
	outcome, err := uc.process(ctx, ev)
	switch {
	case outcome == outcomeMalformed:
		metrics.ChainEvents.WithLabelValues(string(ev.Kind), metrics.OutcomeMalformed).Inc()
		logger.Warn(ctx, "Malformed chain event ignored",
			zap.String("kind", string(ev.Kind)),
			zap.String("blockchain_payment_id", ev.BlockchainPaymentID),
			zap.String("tx_hash", ev.TxHash),
			zap.Error(err),
		)
		return false, nil
	case err != nil:
		return false, err
	case outcome == outcomeUnresolved:
		if _, err := uc.retry.Enqueue(ctx, RetryTypeChainEvent, ev); err != nil {
			return false, fmt.Errorf("queue unresolved event: %w", err)
		}
		metrics.ChainEvents.WithLabelValues(string(ev.Kind), metrics.OutcomeQueued).Inc()
		return true, nil
	case outcome == outcomeDropped:
		metrics.ChainEvents.WithLabelValues(string(ev.Kind), metrics.OutcomeDropped).Inc()
		return true, nil
	default:
		metrics.ChainEvents.WithLabelValues(string(ev.Kind), metrics.OutcomeApplied).Inc()
		return true, nil
	}
}

func (uc *ReconciliationUsecase) process(ctx context.Context, ev entities.ChainEvent) (eventOutcome, error) {
	if !ev.Kind.Known() {
		return outcomeMalformed, fmt.Errorf("%w: unknown event kind %q", domainerrors.ErrMalformedEvent, ev.Kind)
	}
	if ev.BlockchainPaymentID == "" && ev.TxHash == "" {
		return outcomeMalformed, fmt.Errorf("%w: event carries no payment id or tx hash", domainerrors.ErrMalformedEvent)
	}
	target, err := targetForEvent(ev)
	if err != nil {
		return outcomeMalformed, err
	}

	intent, err := uc.resolve(ctx, ev)
	if errors.Is(err, domainerrors.ErrNotFound) {
		return outcomeUnresolved, nil
	}
	if err != nil {
		return outcomeUnresolved, err
	}

	in := TransitionInput{
		Note:                "chain event " + string(ev.Kind),
		Metadata:            eventMetadata(ev),
		TxHash:              ev.TxHash,
		BlockchainPaymentID: ev.BlockchainPaymentID,
	}
	if !intent.BlockchainPaymentID.Valid && ev.BlockchainPaymentID != "" {
		id := ev.BlockchainPaymentID
		in.Updates.BlockchainPaymentID = &id
	}

	_, err = uc.transitions.UpdateStatus(ctx, intent.ID, target.Main, &target.Escrow, in)
	var transErr *domainerrors.TransitionError
	if errors.As(err, &transErr) {
		logger.Warn(ctx, "Chain event does not fit current status, dropped",
			zap.String("payment_id", intent.ID.String()),
			zap.String("kind", string(ev.Kind)),
			zap.Error(err),
		)
		return outcomeDropped, nil
	}
	if err != nil {
		return outcomeUnresolved, err
	}
	return outcomeApplied, nil
}

// resolve finds the payment an event refers to: by chain id, then by
// transaction hash, then by any tx hash recorded in status history.
func (uc *ReconciliationUsecase) resolve(ctx context.Context, ev entities.ChainEvent) (*entities.PaymentIntent, error) {
	if ev.BlockchainPaymentID != "" {
		intent, err := uc.paymentRepo.GetByBlockchainPaymentID(ctx, ev.BlockchainPaymentID)
		if !errors.Is(err, domainerrors.ErrNotFound) {
			return intent, err
		}
	}
	if ev.TxHash == "" {
		return nil, domainerrors.ErrNotFound
	}
	intent, err := uc.paymentRepo.GetByTransactionHash(ctx, ev.TxHash)
	if !errors.Is(err, domainerrors.ErrNotFound) {
		return intent, err
	}
	return uc.paymentRepo.FindByHistoryTxHash(ctx, ev.TxHash)
}

// PollOnce checks the settlement transaction of every in-flight payment. A
// failure on one payment is recorded on it and does not stop the batch.
func (uc *ReconciliationUsecase) PollOnce(ctx context.Context) (PollReport, error) {
	start := time.Now()
	defer func() { metrics.PollDuration.Observe(time.Since(start).Seconds()) }()

	var report PollReport
	head, err := uc.blockNumber(ctx)
	if err != nil {
		metrics.PollRPCErrors.Inc()
		return report, fmt.Errorf("%w: block height: %v", domainerrors.ErrProviderFault, err)
	}
	report.BlockNumber = head

	intents, err := uc.paymentRepo.ListForReconciliation(ctx, uc.cfg.PollBatchSize)
	if err != nil {
		return report, err
	}

	for _, intent := range intents {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++
		moved, err := uc.syncOne(ctx, intent, head)
		if err != nil {
			report.Errors++
			logger.Warn(ctx, "Payment sync failed",
				zap.String("payment_id", intent.ID.String()),
				zap.Error(err),
			)
			continue
		}
		switch moved {
		case status.Settled:
			report.Settled++
		case status.Failed:
			report.Failed++
		}
	}
	return report, nil
}

// syncOne reconciles one payment against its transaction receipt and returns
// the status it moved to, if any.
func (uc *ReconciliationUsecase) syncOne(ctx context.Context, intent *entities.PaymentIntent, head uint64) (status.Main, error) {
	txHash := intent.TransactionHash.String

	rctx, cancel := context.WithTimeout(ctx, uc.cfg.RPCTimeout)
	receipt, err := uc.chain.TransactionReceipt(rctx, txHash)
	cancel()
	now := uc.now()
	if err != nil {
		metrics.PollRPCErrors.Inc()
		if recErr := uc.paymentRepo.RecordSyncError(ctx, intent.ID, err.Error(), now); recErr != nil {
			return "", recErr
		}
		return "", fmt.Errorf("%w: receipt %s: %v", domainerrors.ErrProviderFault, txHash, err)
	}

	if !receipt.Found {
		return "", uc.paymentRepo.UpdateSyncState(ctx, intent.ID, entities.SyncState{
			TxStatus:     status.TxPending,
			LastSyncedAt: now,
		})
	}

	confirmations := int64(0)
	if head >= receipt.BlockNumber {
		confirmations = int64(head - receipt.BlockNumber + 1)
	}

	if !receipt.Succeeded {
		if err := uc.paymentRepo.UpdateSyncState(ctx, intent.ID, entities.SyncState{
			TxStatus:           status.TxFailed,
			BlockConfirmations: confirmations,
			LastSyncedAt:       now,
			SyncError:          "transaction reverted",
		}); err != nil {
			return "", err
		}
		return uc.moveFromChain(ctx, intent, status.Failed, "settlement transaction reverted", txHash, confirmations)
	}

	if uint64(confirmations) < uc.cfg.ConfirmationThreshold {
		return "", uc.paymentRepo.UpdateSyncState(ctx, intent.ID, entities.SyncState{
			TxStatus:           status.TxProcessing,
			BlockConfirmations: confirmations,
			LastSyncedAt:       now,
		})
	}

	if err := uc.paymentRepo.UpdateSyncState(ctx, intent.ID, entities.SyncState{
		TxStatus:           status.TxCompleted,
		BlockConfirmations: confirmations,
		LastSyncedAt:       now,
	}); err != nil {
		return "", err
	}
	if intent.Status != status.Confirmed {
		return "", nil
	}
	return uc.moveFromChain(ctx, intent, status.Settled, "settlement transaction final", txHash, confirmations)
}

func (uc *ReconciliationUsecase) moveFromChain(ctx context.Context, intent *entities.PaymentIntent, to status.Main, note, txHash string, confirmations int64) (status.Main, error) {
	_, err := uc.transitions.UpdateStatus(ctx, intent.ID, to, nil, TransitionInput{
		Note:     note,
		Metadata: map[string]any{"source": "poll", "confirmations": confirmations},
		TxHash:   txHash,
	})
	var transErr *domainerrors.TransitionError
	if errors.As(err, &transErr) {
		logger.Warn(ctx, "Chain state does not fit current status",
			zap.String("payment_id", intent.ID.String()),
			zap.Error(err),
		)
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return to, nil
}

// DrainRetryQueue re-attempts due queued events.
func (uc *ReconciliationUsecase) DrainRetryQueue(ctx context.Context) (DrainReport, error) {
	var report DrainReport
	entries, err := uc.retry.DueEntries(ctx, uc.cfg.DrainBatchSize)
	if err != nil {
		return report, err
	}
	report.Due = len(entries)

	for _, entry := range entries {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if err := uc.retry.MarkProcessing(ctx, entry); err != nil {
			logger.Error(ctx, "Failed to claim retry entry", zap.String("retry_id", entry.ID.String()), zap.Error(err))
			continue
		}

		cause := uc.redeliver(ctx, entry)
		if cause == nil {
			if err := uc.retry.MarkProcessed(ctx, entry); err != nil {
				logger.Error(ctx, "Failed to mark retry entry processed", zap.String("retry_id", entry.ID.String()), zap.Error(err))
				continue
			}
			report.Processed++
			continue
		}
		if err := uc.retry.MarkFailed(ctx, entry, cause); err != nil {
			logger.Error(ctx, "Failed to reschedule retry entry", zap.String("retry_id", entry.ID.String()), zap.Error(err))
			continue
		}
		report.Retried++
	}
	return report, nil
}

func (uc *ReconciliationUsecase) redeliver(ctx context.Context, entry *entities.RetryQueueEntry) error {
	if entry.Type != RetryTypeChainEvent {
		return fmt.Errorf("unsupported retry type %q", entry.Type)
	}
	var ev entities.ChainEvent
	if err := json.Unmarshal(entry.Data, &ev); err != nil {
		return fmt.Errorf("%w: %v", domainerrors.ErrMalformedEvent, err)
	}

	outcome, err := uc.process(ctx, normalizeEvent(ev))
	if err != nil {
		return err
	}
	switch outcome {
	case outcomeUnresolved:
		return errUnresolved
	case outcomeDropped:
		metrics.ChainEvents.WithLabelValues(string(ev.Kind), metrics.OutcomeDropped).Inc()
	default:
		metrics.ChainEvents.WithLabelValues(string(ev.Kind), metrics.OutcomeApplied).Inc()
	}
	return nil
}

// ManualSync reconciles a single payment now and returns its fresh state.
// Payments already in a terminal state are returned without chain calls.
func (uc *ReconciliationUsecase) ManualSync(ctx context.Context, paymentID uuid.UUID) (*entities.PaymentIntent, error) {
	intent, err := uc.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if status.IsTerminal(intent.Status) {
		return intent, nil
	}
	if !intent.TransactionHash.Valid || intent.TransactionHash.String == "" {
		return nil, fmt.Errorf("%w: %s", domainerrors.ErrNoTxHash, paymentID)
	}

	head, err := uc.blockNumber(ctx)
	if err != nil {
		metrics.PollRPCErrors.Inc()
		return nil, fmt.Errorf("%w: block height: %v", domainerrors.ErrProviderFault, err)
	}
	if _, err := uc.syncOne(ctx, intent, head); err != nil {
		return nil, err
	}
	return uc.paymentRepo.GetByID(ctx, paymentID)
}

func (uc *ReconciliationUsecase) blockNumber(ctx context.Context) (uint64, error) {
	rctx, cancel := context.WithTimeout(ctx, uc.cfg.RPCTimeout)
	defer cancel()
	head, err := uc.chain.BlockNumber(rctx)
	if err != nil {
		return 0, err
	}
	uc.head.Store(head)
	return head, nil
}

// targetForEvent maps an event kind onto the status it asserts.
func targetForEvent(ev entities.ChainEvent) (status.Pair, error) {
	switch ev.Kind {
	case entities.ChainEventPaymentConfirmed:
		return status.Pair{Main: status.Confirmed, Escrow: status.EscrowConfirmed}, nil
	case entities.ChainEventPaymentRejected:
		return status.Pair{Main: status.Rejected, Escrow: status.EscrowRefunded}, nil
	case entities.ChainEventPaymentSettled, entities.ChainEventPaymentReleased:
		return status.Pair{Main: status.Settled, Escrow: status.EscrowReleased}, nil
	case entities.ChainEventPaymentFailed:
		return status.Pair{Main: status.Failed, Escrow: status.EscrowRefunded}, nil
	case entities.ChainEventPaymentStatusChanged:
		if ev.NewStatus == nil {
			return status.Pair{}, fmt.Errorf("%w: status change without newStatus", domainerrors.ErrMalformedEvent)
		}
		pair, err := status.FromChainCode(status.ChainCode(*ev.NewStatus))
		if err != nil {
			return status.Pair{}, fmt.Errorf("%w: %v", domainerrors.ErrMalformedEvent, err)
		}
		return pair, nil
	}
	return status.Pair{}, fmt.Errorf("%w: unknown event kind %q", domainerrors.ErrMalformedEvent, ev.Kind)
}

func eventMetadata(ev entities.ChainEvent) map[string]any {
	md := map[string]any{
		"source": "chain",
		"event":  string(ev.Kind),
	}
	if ev.BlockNumber > 0 {
		md["blockNumber"] = ev.BlockNumber
		md["logIndex"] = ev.LogIndex
	}
	if len(ev.Args) > 0 {
		md["args"] = ev.Args
	}
	return md
}

func normalizeEvent(ev entities.ChainEvent) entities.ChainEvent {
	ev.BlockchainPaymentID = normalizeHash(ev.BlockchainPaymentID)
	ev.TxHash = normalizeHash(ev.TxHash)
	ev.Kind = entities.ChainEventKind(strings.TrimSpace(string(ev.Kind)))
	return ev
}
