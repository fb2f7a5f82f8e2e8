package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"escrow-pay.backend/internal/config"
	"escrow-pay.backend/internal/infrastructure/blockchain"
	"escrow-pay.backend/internal/infrastructure/jobs"
	"escrow-pay.backend/internal/infrastructure/models"
	"escrow-pay.backend/internal/infrastructure/notifier"
	"escrow-pay.backend/internal/infrastructure/repositories"
	"escrow-pay.backend/internal/interfaces/http/handlers"
	"escrow-pay.backend/internal/interfaces/ws"
	"escrow-pay.backend/internal/usecases"
	"escrow-pay.backend/pkg/jwt"
	"escrow-pay.backend/pkg/logger"
	"escrow-pay.backend/pkg/redis"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const shutdownTimeout = 15 * time.Second

var (
	loadDotenv = godotenv.Load
	loadCfg    = config.Load
	initLog    = logger.Init
	initRedis  = redis.Init
	openDB     = func(dsn string) (*gorm.DB, error) {
		return gorm.Open(postgres.New(postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true,
		}), &gorm.Config{
			PrepareStmt:    false,
			TranslateError: true,
		})
	}
	getStdDB  = func(db *gorm.DB) (*sql.DB, error) { return db.DB() }
	dialChain = func(ctx context.Context, cfg config.BlockchainConfig) (usecases.ChainClient, func(), error) {
		decoder, err := blockchain.NewEscrowEventDecoder(cfg.ContractAddress)
		if err != nil {
			return nil, nil, err
		}
		factory := blockchain.NewClientFactory(decoder)
		client, err := factory.NewFailover(ctx, cfg.RPCURLs, cfg.WSURL, cfg.FailoverThreshold)
		if err != nil {
			factory.Close()
			return nil, nil, err
		}
		return client, factory.Close, nil
	}
	newNATSSink = func(cfg config.NATSConfig) (notifier.Sink, func(), error) {
		sink, err := notifier.NewNATSSink(cfg.URL, cfg.SubjectPrefix, cfg.Timeout)
		if err != nil {
			return nil, nil, err
		}
		return sink, sink.Close, nil
	}
	shutdownSignal = func() (context.Context, context.CancelFunc) {
		return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	}
	runServer = func(srv *http.Server) error { return srv.ListenAndServe() }
)

// worker is a background loop started with the server.
type worker interface {
	Start(ctx context.Context)
	Stop()
	Done() <-chan struct{}
}

func main() {
	if err := runMainProcess(); err != nil {
		log.Fatal(err)
	}
}

func runMainProcess() error {
	if err := loadDotenv(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := loadCfg("")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	initLog(cfg.Server.Env)
	defer logger.Sync()
	bootCtx := context.Background()
	logger.Info(bootCtx, "Logger initialized", zap.String("env", cfg.Server.Env))

	if cfg.Redis.URL != "" {
		if err := initRedis(cfg.Redis.URL, cfg.Redis.Password); err != nil {
			logger.Error(bootCtx, "Failed to initialize Redis", zap.Error(err))
			return fmt.Errorf("failed to initialize redis: %w", err)
		}
		defer func() { _ = redis.Close() }()
		logger.Info(bootCtx, "Redis initialized")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := openDB(cfg.Database.URL())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := getStdDB(db)
	if err != nil {
		return fmt.Errorf("failed to get generic database object: %w", err)
	}
	defer sqlDB.Close()
	if cfg.Database.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if err := sqlDB.PingContext(bootCtx); err != nil {
		return fmt.Errorf("database not available: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(&models.PaymentIntent{}, &models.LiquidityProvider{}, &models.RetryQueueEntry{}); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
		logger.Info(bootCtx, "Schema migrated")
	}

	chainCtx, cancelDial := context.WithTimeout(bootCtx, cfg.Blockchain.RPCTimeout)
	chain, closeChain, err := dialChain(chainCtx, cfg.Blockchain)
	cancelDial()
	if err != nil {
		return fmt.Errorf("failed to connect to chain provider: %w", err)
	}
	defer closeChain()

	broker := notifier.NewBroker()
	defer broker.Close()
	sinks := []notifier.Sink{broker}
	if redis.GetClient() != nil {
		sinks = append(sinks, notifier.NewRedisSink(""))
	}
	if cfg.NATS.URL != "" {
		sink, closeNATS, err := newNATSSink(cfg.NATS)
		if err != nil {
			return err
		}
		defer closeNATS()
		sinks = append(sinks, sink)
	}
	fanOut := notifier.NewFanOut(sinks...)
	logger.Info(bootCtx, "Notifier ready", zap.Strings("sinks", fanOut.Sinks()))

	paymentRepo := repositories.NewPaymentIntentRepository(db)
	lpRepo := repositories.NewLiquidityProviderRepository(db)
	retryRepo := repositories.NewRetryQueueRepository(db)
	uow := repositories.NewUnitOfWork(db)

	quotaUsecase := usecases.NewQuotaUsecase(lpRepo, uow)
	transitionUsecase := usecases.NewStatusTransitionUsecase(paymentRepo, uow, fanOut, quotaUsecase.ReleaseHook)
	flowUsecase := usecases.NewPaymentFlowUsecase(paymentRepo, uow, transitionUsecase, quotaUsecase, cfg.Payments.TTL)
	retryUsecase := usecases.NewRetryQueueUsecase(retryRepo)
	reconUsecase := usecases.NewReconciliationUsecase(chain, paymentRepo, transitionUsecase, retryUsecase, usecases.ReconciliationConfig{
		ConfirmationThreshold: cfg.Blockchain.ConfirmationThreshold,
		RPCTimeout:            cfg.Blockchain.RPCTimeout,
		PollBatchSize:         cfg.Jobs.PollBatchSize,
		DrainBatchSize:        cfg.Jobs.DrainBatchSize,
		StaleProcessingAge:    cfg.Jobs.StaleProcessingAge,
	})

	if err := reconUsecase.Initialize(bootCtx); err != nil {
		return fmt.Errorf("failed to initialize reconciliation: %w", err)
	}

	ctx, stop := shutdownSignal()
	defer stop()

	hub := ws.NewHub(broker, cfg.Server.AllowedOrigins)
	go hub.Run(ctx)

	workers := []worker{
		jobs.NewChainEventSubscriber(reconUsecase, cfg.Blockchain.ResubscribeMin, cfg.Blockchain.ResubscribeMax),
		withRunLock(jobs.NewReconciliationPollJob(reconUsecase, cfg.Jobs.PollInterval), cfg.Jobs.RunLockTTL),
		withRunLock(jobs.NewRetryDrainJob(reconUsecase, cfg.Jobs.DrainInterval), cfg.Jobs.RunLockTTL),
		withRunLock(jobs.NewPaymentExpiryJob(flowUsecase, cfg.Jobs.ExpiryInterval, cfg.Jobs.ExpiryBatchSize), cfg.Jobs.RunLockTTL),
	}
	for _, w := range workers {
		go w.Start(ctx)
	}

	if cfg.Blockchain.WebhookSecret == "" {
		logger.Warn(bootCtx, "CHAIN_WEBHOOK_SECRET not set, chain event webhook disabled")
	}
	jwtService := jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	r := newRouter(routeDeps{
		paymentHandler:    handlers.NewPaymentHandler(flowUsecase, transitionUsecase, reconUsecase),
		lpHandler:         handlers.NewLPHandler(quotaUsecase),
		chainEventHandler: handlers.NewChainEventHandler(reconUsecase, cfg.Blockchain.WebhookSecret),
		adminHandler:      handlers.NewAdminHandler(retryUsecase),
		healthHandler: handlers.NewHealthHandler(reconUsecase, map[string]handlers.HealthCheck{
			"database": sqlDB.PingContext,
		}),
		hub:            hub,
		jwtService:     jwtService,
		allowedOrigins: cfg.Server.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info(ctx, "Escrow backend starting", zap.String("port", cfg.Server.Port))
		serveErr <- runServer(srv)
	}()

	var runErr error
	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
		logger.Info(bootCtx, "Shutting down server")
	}

	stop()
	shutdownCtx, cancel := context.WithTimeout(bootCtx, shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(bootCtx, "HTTP shutdown incomplete", zap.Error(err))
	}
	for _, w := range workers {
		w.Stop()
	}
	for _, w := range workers {
		select {
		case <-w.Done():
		case <-shutdownCtx.Done():
			logger.Warn(bootCtx, "Background worker did not stop in time")
		}
	}

	return runErr
}

func withRunLock(job *jobs.PeriodicJob, ttl time.Duration) *jobs.PeriodicJob {
	return job.WithRunLock("jobs:lock:"+job.Name(), ttl)
}
