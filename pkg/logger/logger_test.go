package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func resetLogger(t *testing.T) {
	t.Helper()
	origLog, origBuild := log, buildLogger
	t.Cleanup(func() {
		log = origLog
		buildLogger = origBuild
		once = sync.Once{}
	})
	once = sync.Once{}
}

func TestUninitialisedLoggerIsNoop(t *testing.T) {
	resetLogger(t)
	log = zap.NewNop()
	require.NotPanics(t, func() {
		Info(context.Background(), "nobody listens")
		Error(nil, "still fine") //nolint:staticcheck
	})
}

func TestInitAndContextLogging(t *testing.T) {
	resetLogger(t)
	Init("development")
	require.NotNil(t, GetLogger())

	ctx := context.WithValue(context.Background(), "request_id", "req-1")
	require.NotNil(t, WithContext(ctx))

	Info(ctx, "info")
	Debug(ctx, "debug")
	Warn(ctx, "warn")
	Error(ctx, "error")
	LogRequest(ctx, "GET", "/health", 200, 10*time.Millisecond, "127.0.0.1")
	Sync()
}

func TestWithContextFields(t *testing.T) {
	resetLogger(t)
	core, logs := observer.New(zapcore.DebugLevel)
	log = zap.New(core)

	ctx := context.WithValue(context.Background(), RequestIDKey, "typed-req-id")
	ctx = WithPaymentID(ctx, "pay-1")
	ctx = WithJob(ctx, "reconciliation-poll")
	Info(ctx, "transition applied", zap.String("new_status", "settled"))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "typed-req-id", fields["request_id"])
	require.Equal(t, "pay-1", fields["payment_id"])
	require.Equal(t, "reconciliation-poll", fields["job"])
	require.Equal(t, "settled", fields["new_status"])

	require.Equal(t, log, WithContext(nil)) //nolint:staticcheck
	require.Equal(t, log, WithContext(context.Background()))
}

func TestSetLevel(t *testing.T) {
	resetLogger(t)
	Init("production")
	require.NoError(t, SetLevel("warn"))
	require.False(t, GetLogger().Core().Enabled(zapcore.InfoLevel))
	require.NoError(t, SetLevel("info"))
	require.Error(t, SetLevel("loud"))
}

func TestInit_PanicWhenLoggerBuildFails(t *testing.T) {
	resetLogger(t)
	buildLogger = func(zap.Config) (*zap.Logger, error) {
		return nil, errors.New("build failed")
	}

	require.Panics(t, func() { Init("production") })
}
