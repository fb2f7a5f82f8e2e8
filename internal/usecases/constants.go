package usecases

import "time"

// Payment intake
const (
	DefaultPaymentTTL = 30 * time.Minute
	MaxFeeRate        = "0.2"
)

// Reconciliation
const (
	DefaultConfirmationThreshold = 12
	DefaultRPCTimeout            = 10 * time.Second
	DefaultPollBatchSize         = 100
	DefaultDrainBatchSize        = 50
	DefaultStaleProcessingAge    = 10 * time.Minute
)

// Retry queue
const (
	RetryInitialDelay   = time.Minute
	RetryBackoffUnit    = time.Minute
	RetryTypeChainEvent = "chain_event"
)
