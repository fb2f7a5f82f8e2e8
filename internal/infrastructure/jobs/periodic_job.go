package jobs

import (
	"context"
	"sync"
	"time"

	"escrow-pay.backend/pkg/logger"
	"escrow-pay.backend/pkg/metrics"
	"escrow-pay.backend/pkg/redis"
	"go.uber.org/zap"
)

// Task is the work done on every tick.
type Task func(ctx context.Context) error

type releaseFunc func(ctx context.Context) error

// acquireRunLock takes the cross-instance run lock for one tick. Without a
// redis client every tick runs.
var acquireRunLock = func(ctx context.Context, key string, ttl time.Duration) (releaseFunc, bool, error) {
	if redis.GetClient() == nil {
		return func(context.Context) error { return nil }, true, nil
	}
	lock, ok, err := redis.TryLock(ctx, key, ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	return lock.Release, true, nil
}

// PeriodicJob runs a Task on a fixed interval until stopped. A tick in
// progress always finishes before the job exits.
type PeriodicJob struct {
	name     string
	interval time.Duration
	task     Task
	lockKey  string
	lockTTL  time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewPeriodicJob(name string, interval time.Duration, task Task) *PeriodicJob {
	return &PeriodicJob{
		name:     name,
		interval: interval,
		task:     task,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// WithRunLock makes ticks exclusive across instances sharing the redis.
func (j *PeriodicJob) WithRunLock(key string, ttl time.Duration) *PeriodicJob {
	j.lockKey = key
	j.lockTTL = ttl
	return j
}

func (j *PeriodicJob) Name() string { return j.name }

// Start blocks until ctx is cancelled or Stop is called.
func (j *PeriodicJob) Start(ctx context.Context) {
	defer close(j.done)
	logger.Info(ctx, "Starting periodic job", zap.String("job", j.name), zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Periodic job stopped (context cancelled)", zap.String("job", j.name))
			return
		case <-j.stop:
			logger.Info(ctx, "Periodic job stopped", zap.String("job", j.name))
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *PeriodicJob) Stop() {
	j.stopOnce.Do(func() { close(j.stop) })
}

// Done is closed once Start has returned.
func (j *PeriodicJob) Done() <-chan struct{} { return j.done }

// RunOnce executes a single tick. It reports whether the task ran.
func (j *PeriodicJob) RunOnce(ctx context.Context) bool {
	if j.lockKey != "" {
		release, ok, err := acquireRunLock(ctx, j.lockKey, j.lockTTL)
		if err != nil {
			logger.Warn(ctx, "Job run lock unavailable", zap.String("job", j.name), zap.Error(err))
			metrics.JobRuns.WithLabelValues(j.name, metrics.OutcomeFailed).Inc()
			return false
		}
		if !ok {
			logger.Debug(ctx, "Job tick held by another instance", zap.String("job", j.name))
			metrics.JobRuns.WithLabelValues(j.name, metrics.OutcomeSkipped).Inc()
			return false
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn(ctx, "Failed to release job run lock", zap.String("job", j.name), zap.Error(err))
			}
		}()
	}

	start := time.Now()
	if err := j.task(ctx); err != nil {
		logger.Error(ctx, "Periodic job tick failed",
			zap.String("job", j.name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		metrics.JobRuns.WithLabelValues(j.name, metrics.OutcomeFailed).Inc()
		return true
	}
	metrics.JobRuns.WithLabelValues(j.name, metrics.OutcomeProcessed).Inc()
	return true
}
