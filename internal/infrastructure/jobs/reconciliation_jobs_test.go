package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"escrow-pay.backend/internal/usecases"
	"github.com/stretchr/testify/require"
)

type pollerStub struct {
	report usecases.PollReport
	err    error
	calls  int
}

func (s *pollerStub) PollOnce(context.Context) (usecases.PollReport, error) {
	s.calls++
	return s.report, s.err
}

type drainerStub struct {
	report usecases.DrainReport
	err    error
	calls  int
}

func (s *drainerStub) DrainRetryQueue(context.Context) (usecases.DrainReport, error) {
	s.calls++
	return s.report, s.err
}

func TestReconciliationPollJob(t *testing.T) {
	stub := &pollerStub{report: usecases.PollReport{BlockNumber: 10, Checked: 2, Settled: 1}}
	job := NewReconciliationPollJob(stub, time.Hour)
	require.Equal(t, ReconciliationPollJobName, job.Name())

	require.True(t, job.RunOnce(context.Background()))
	require.Equal(t, 1, stub.calls)

	stub.err = errors.New("provider unreachable")
	require.True(t, job.RunOnce(context.Background()), "a failed tick still counts as run")
	require.Equal(t, 2, stub.calls)
}

func TestRetryDrainJob(t *testing.T) {
	stub := &drainerStub{report: usecases.DrainReport{Due: 3, Processed: 2, Retried: 1}}
	job := NewRetryDrainJob(stub, time.Hour)
	require.Equal(t, RetryDrainJobName, job.Name())

	require.True(t, job.RunOnce(context.Background()))
	require.Equal(t, 1, stub.calls)

	stub.err = errors.New("db down")
	require.True(t, job.RunOnce(context.Background()))
}
