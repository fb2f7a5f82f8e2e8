package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"testing"
	"time"

	"escrow-pay.backend/internal/config"
	"escrow-pay.backend/internal/infrastructure/blockchain"
	"escrow-pay.backend/internal/infrastructure/notifier"
	"escrow-pay.backend/internal/infrastructure/repositories"
	"escrow-pay.backend/internal/usecases"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeSubscription struct {
	errCh chan error
}

func (s *fakeSubscription) Err() <-chan error { return s.errCh }
func (s *fakeSubscription) Unsubscribe()      {}

type fakeChain struct {
	head    uint64
	headErr error
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) { return f.head, f.headErr }

func (f *fakeChain) TransactionReceipt(context.Context, string) (blockchain.ReceiptResult, error) {
	return blockchain.ReceiptResult{}, errors.New("not found")
}

func (f *fakeChain) SubscribeEvents(context.Context, blockchain.EventSink) (blockchain.Subscription, error) {
	return &fakeSubscription{errCh: make(chan error)}, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Port = "0"
	cfg.Redis.URL = ""
	cfg.NATS.URL = ""
	cfg.Database.MaxOpenConns = 0
	cfg.Database.MaxIdleConns = 0
	cfg.JWT.Secret = "test-secret"
	return cfg
}

// withMainHooks swaps the process dependencies for in-memory fakes.
func withMainHooks(t *testing.T, db *gorm.DB, chain usecases.ChainClient) {
	t.Helper()
	origDotenv, origCfg, origLog, origRedis := loadDotenv, loadCfg, initLog, initRedis
	origOpen, origStd, origDial, origNATS := openDB, getStdDB, dialChain, newNATSSink
	origSignal, origRun := shutdownSignal, runServer
	t.Cleanup(func() {
		loadDotenv, loadCfg, initLog, initRedis = origDotenv, origCfg, origLog, origRedis
		openDB, getStdDB, dialChain, newNATSSink = origOpen, origStd, origDial, origNATS
		shutdownSignal, runServer = origSignal, origRun
	})

	loadDotenv = func(...string) error { return errors.New("no .env") }
	loadCfg = func(string) (*config.Config, error) { return testConfig(), nil }
	initLog = func(string) {}
	openDB = func(string) (*gorm.DB, error) { return db, nil }
	dialChain = func(context.Context, config.BlockchainConfig) (usecases.ChainClient, func(), error) {
		return chain, func() {}, nil
	}
	runServer = func(*http.Server) error { return http.ErrServerClosed }
}

func TestRunMainProcess_StartsAndShutsDown(t *testing.T) {
	withMainHooks(t, repositories.NewTestDB(t), &fakeChain{head: 100})

	done := make(chan error, 1)
	go func() { done <- runMainProcess() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("runMainProcess did not return")
	}
}

func TestRunMainProcess_StopsOnSignal(t *testing.T) {
	withMainHooks(t, repositories.NewTestDB(t), &fakeChain{head: 100})

	ctx, cancel := context.WithCancel(context.Background())
	shutdownSignal = func() (context.Context, context.CancelFunc) { return ctx, cancel }
	serving := make(chan *http.Server, 1)
	runServer = func(srv *http.Server) error {
		serving <- srv
		<-ctx.Done()
		return http.ErrServerClosed
	}

	done := make(chan error, 1)
	go func() { done <- runMainProcess() }()

	srv := <-serving
	assert.Equal(t, ":0", srv.Addr)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("runMainProcess did not return after signal")
	}
}

func TestRunMainProcess_Errors(t *testing.T) {
	t.Run("config", func(t *testing.T) {
		withMainHooks(t, repositories.NewTestDB(t), &fakeChain{head: 1})
		loadCfg = func(string) (*config.Config, error) { return nil, errors.New("bad config") }
		assert.ErrorContains(t, runMainProcess(), "failed to load config")
	})

	t.Run("database", func(t *testing.T) {
		withMainHooks(t, repositories.NewTestDB(t), &fakeChain{head: 1})
		openDB = func(string) (*gorm.DB, error) { return nil, errors.New("refused") }
		assert.ErrorContains(t, runMainProcess(), "failed to connect to database")
	})

	t.Run("std db", func(t *testing.T) {
		withMainHooks(t, repositories.NewTestDB(t), &fakeChain{head: 1})
		getStdDB = func(*gorm.DB) (*sql.DB, error) { return nil, errors.New("no pool") }
		assert.ErrorContains(t, runMainProcess(), "generic database object")
	})

	t.Run("chain dial", func(t *testing.T) {
		withMainHooks(t, repositories.NewTestDB(t), &fakeChain{head: 1})
		dialChain = func(context.Context, config.BlockchainConfig) (usecases.ChainClient, func(), error) {
			return nil, nil, errors.New("dial tcp: refused")
		}
		assert.ErrorContains(t, runMainProcess(), "chain provider")
	})

	t.Run("chain unreachable at boot", func(t *testing.T) {
		withMainHooks(t, repositories.NewTestDB(t), &fakeChain{headErr: errors.New("timeout")})
		assert.ErrorContains(t, runMainProcess(), "failed to initialize reconciliation")
	})

	t.Run("redis", func(t *testing.T) {
		withMainHooks(t, repositories.NewTestDB(t), &fakeChain{head: 1})
		loadCfg = func(string) (*config.Config, error) {
			cfg := testConfig()
			cfg.Redis.URL = "redis://nowhere:6379"
			return cfg, nil
		}
		initRedis = func(string, string) error { return errors.New("dial failed") }
		assert.ErrorContains(t, runMainProcess(), "failed to initialize redis")
	})

	t.Run("nats", func(t *testing.T) {
		withMainHooks(t, repositories.NewTestDB(t), &fakeChain{head: 1})
		loadCfg = func(string) (*config.Config, error) {
			cfg := testConfig()
			cfg.NATS.URL = "nats://nowhere:4222"
			return cfg, nil
		}
		newNATSSink = func(config.NATSConfig) (notifier.Sink, func(), error) {
			return nil, nil, errors.New("no servers available")
		}
		assert.ErrorContains(t, runMainProcess(), "no servers available")
	})

	t.Run("listen", func(t *testing.T) {
		withMainHooks(t, repositories.NewTestDB(t), &fakeChain{head: 1})
		runServer = func(*http.Server) error { return errors.New("address already in use") }
		assert.ErrorContains(t, runMainProcess(), "failed to start server")
	})
}
