package usecases

import "time"

var Backoff = backoff

func (uc *RetryQueueUsecase) SetClock(now func() time.Time) { uc.now = now }
func (uc *ReconciliationUsecase) SetClock(now func() time.Time) { uc.now = now }
func (uc *PaymentFlowUsecase) SetClock(now func() time.Time) { uc.now = now }
func (uc *StatusTransitionUsecase) SetClock(now func() time.Time) { uc.now = now }
