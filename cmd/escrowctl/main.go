package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"escrow-pay.backend/internal/config"
	"escrow-pay.backend/internal/domain/entities"
	"escrow-pay.backend/internal/infrastructure/blockchain"
	"escrow-pay.backend/internal/infrastructure/notifier"
	"escrow-pay.backend/internal/infrastructure/repositories"
	"escrow-pay.backend/internal/usecases"
	"escrow-pay.backend/pkg/jwt"
	"escrow-pay.backend/pkg/redis"
	"escrow-pay.backend/pkg/utils"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/urfave/cli/v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var errHistoryBroken = errors.New("history verification failed")

var openCtlDB = func(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{DSN: dsn, PreferSimpleProtocol: true}), &gorm.Config{
		PrepareStmt:    false,
		TranslateError: true,
	})
}

var dialChain = func(ctx context.Context, cfg config.BlockchainConfig) (usecases.ChainClient, func(), error) {
	decoder, err := blockchain.NewEscrowEventDecoder(cfg.ContractAddress)
	if err != nil {
		return nil, nil, err
	}
	factory := blockchain.NewClientFactory(decoder)
	client, err := factory.NewFailover(ctx, cfg.RPCURLs, "", cfg.FailoverThreshold)
	if err != nil {
		factory.Close()
		return nil, nil, err
	}
	return client, factory.Close, nil
}

// ctlRuntime is the slice of the backend the operator commands drive.
type ctlRuntime interface {
	ListRetry(ctx context.Context, status entities.RetryQueueStatus, page, limit int) ([]*entities.RetryQueueEntry, utils.PaginationMeta, error)
	RetryStats(ctx context.Context) (map[entities.RetryQueueStatus]int64, error)
	Requeue(ctx context.Context, id uuid.UUID) (*entities.RetryQueueEntry, error)
	VerifyHistory(ctx context.Context, paymentID uuid.UUID) (*usecases.HistoryReport, error)
	ExpireDue(ctx context.Context, limit int) (int, error)
	Sync(ctx context.Context, paymentID uuid.UUID) (*entities.PaymentIntent, error)
}

type ctlDeps struct {
	loadEnv func() error
	loadCfg func(path string) (*config.Config, error)
	prepare func(cfg *config.Config) (ctlRuntime, io.Closer, error)
	out     io.Writer
}

type ctlRuntimeImpl struct {
	retry       *usecases.RetryQueueUsecase
	transitions *usecases.StatusTransitionUsecase
	flow        *usecases.PaymentFlowUsecase
	paymentRepo *repositories.PaymentIntentRepository
	cfg         *config.Config
}

func (r ctlRuntimeImpl) ListRetry(ctx context.Context, status entities.RetryQueueStatus, page, limit int) ([]*entities.RetryQueueEntry, utils.PaginationMeta, error) {
	return r.retry.List(ctx, status, page, limit)
}

func (r ctlRuntimeImpl) RetryStats(ctx context.Context) (map[entities.RetryQueueStatus]int64, error) {
	return r.retry.Stats(ctx)
}

func (r ctlRuntimeImpl) Requeue(ctx context.Context, id uuid.UUID) (*entities.RetryQueueEntry, error) {
	return r.retry.Requeue(ctx, id)
}

func (r ctlRuntimeImpl) VerifyHistory(ctx context.Context, paymentID uuid.UUID) (*usecases.HistoryReport, error) {
	return r.transitions.VerifyHistory(ctx, paymentID)
}

func (r ctlRuntimeImpl) ExpireDue(ctx context.Context, limit int) (int, error) {
	return r.flow.ExpireDue(ctx, limit)
}

// Sync dials the chain for this call only.
func (r ctlRuntimeImpl) Sync(ctx context.Context, paymentID uuid.UUID) (*entities.PaymentIntent, error) {
	dctx, cancel := context.WithTimeout(ctx, r.cfg.Blockchain.RPCTimeout)
	chain, closeChain, err := dialChain(dctx, r.cfg.Blockchain)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain provider: %w", err)
	}
	defer closeChain()

	recon := usecases.NewReconciliationUsecase(chain, r.paymentRepo, r.transitions, r.retry, usecases.ReconciliationConfig{
		ConfirmationThreshold: r.cfg.Blockchain.ConfirmationThreshold,
		RPCTimeout:            r.cfg.Blockchain.RPCTimeout,
	})
	return recon.ManualSync(ctx, paymentID)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func newRuntime(db *gorm.DB, cfg *config.Config) ctlRuntime {
	paymentRepo := repositories.NewPaymentIntentRepository(db)
	uow := repositories.NewUnitOfWork(db)

	var sinks []notifier.Sink
	if redis.GetClient() != nil {
		sinks = append(sinks, notifier.NewRedisSink(""))
	}
	quota := usecases.NewQuotaUsecase(repositories.NewLiquidityProviderRepository(db), uow)
	transitions := usecases.NewStatusTransitionUsecase(paymentRepo, uow, notifier.NewFanOut(sinks...), quota.ReleaseHook)
	return ctlRuntimeImpl{
		retry:       usecases.NewRetryQueueUsecase(repositories.NewRetryQueueRepository(db)),
		transitions: transitions,
		flow:        usecases.NewPaymentFlowUsecase(paymentRepo, uow, transitions, quota, cfg.Payments.TTL),
		paymentRepo: paymentRepo,
		cfg:         cfg,
	}
}

func defaultCtlDeps() ctlDeps {
	return ctlDeps{
		loadEnv: func() error { return godotenv.Load() },
		loadCfg: config.Load,
		prepare: func(cfg *config.Config) (ctlRuntime, io.Closer, error) {
			db, err := openCtlDB(cfg.Database.URL())
			if err != nil {
				return nil, nil, fmt.Errorf("failed to connect db: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, nil, fmt.Errorf("failed to init sql db: %w", err)
			}
			if cfg.Redis.URL != "" {
				if err := redis.Init(cfg.Redis.URL, cfg.Redis.Password); err != nil {
					log.Printf("Redis unavailable, status notifications disabled: %v", err)
				}
			}
			return newRuntime(db, cfg), closerFunc(func() error {
				_ = redis.Close()
				return sqlDB.Close()
			}), nil
		},
		out: os.Stdout,
	}
}

// session loads config and opens the runtime for one command.
func (d ctlDeps) session(cmd *cli.Command) (ctlRuntime, io.Closer, error) {
	if err := d.loadEnv(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg, err := d.loadCfg(cmd.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return d.prepare(cfg)
}

func (d ctlDeps) withRuntime(fn func(ctx context.Context, cmd *cli.Command, rt ctlRuntime) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		rt, closer, err := d.session(cmd)
		if err != nil {
			return err
		}
		if closer != nil {
			defer closer.Close()
		}
		return fn(ctx, cmd, rt)
	}
}

func parseID(cmd *cli.Command, what string) (uuid.UUID, error) {
	raw := cmd.Args().First()
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%s id is required", what)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id %q: %w", what, raw, err)
	}
	return id, nil
}

func parseRetryStatus(raw string) (entities.RetryQueueStatus, error) {
	st := entities.RetryQueueStatus(strings.ToLower(raw))
	switch st {
	case "", entities.RetryQueueStatusPending, entities.RetryQueueStatusProcessing,
		entities.RetryQueueStatusProcessed, entities.RetryQueueStatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown retry queue status %q", raw)
}

func newApp(deps ctlDeps) *cli.Command {
	if deps.loadEnv == nil || deps.loadCfg == nil || deps.prepare == nil {
		def := defaultCtlDeps()
		if deps.loadEnv == nil {
			deps.loadEnv = def.loadEnv
		}
		if deps.loadCfg == nil {
			deps.loadCfg = def.loadCfg
		}
		if deps.prepare == nil {
			deps.prepare = def.prepare
		}
	}
	if deps.out == nil {
		deps.out = os.Stdout
	}
	out := deps.out

	return &cli.Command{
		Name:  "escrowctl",
		Usage: "Operator tooling for the escrow backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to a YAML config file (defaults to $CONFIG_PATH)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "retry",
				Usage: "Inspect and requeue chain events awaiting redelivery",
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "List retry queue entries",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "status", Usage: "pending, processing, processed or failed"},
							&cli.IntFlag{Name: "page", Value: 1},
							&cli.IntFlag{Name: "limit", Value: utils.DefaultPageLimit},
						},
						Action: deps.withRuntime(func(ctx context.Context, cmd *cli.Command, rt ctlRuntime) error {
							st, err := parseRetryStatus(cmd.String("status"))
							if err != nil {
								return err
							}
							entries, meta, err := rt.ListRetry(ctx, st, int(cmd.Int("page")), int(cmd.Int("limit")))
							if err != nil {
								return err
							}
							tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
							_, _ = fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tRETRIES\tNEXT RETRY\tLAST ERROR")
							for _, e := range entries {
								_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
									e.ID, e.Type, e.Status, e.RetryCount, e.MaxRetries,
									e.NextRetryAt.Format(time.RFC3339), e.LastError)
							}
							_ = tw.Flush()
							_, _ = fmt.Fprintf(out, "page %d/%d, %d total\n", meta.Page, meta.TotalPages, meta.TotalCount)
							return nil
						}),
					},
					{
						Name:  "stats",
						Usage: "Count entries per status",
						Action: deps.withRuntime(func(ctx context.Context, _ *cli.Command, rt ctlRuntime) error {
							stats, err := rt.RetryStats(ctx)
							if err != nil {
								return err
							}
							for _, st := range []entities.RetryQueueStatus{
								entities.RetryQueueStatusPending,
								entities.RetryQueueStatusProcessing,
								entities.RetryQueueStatusProcessed,
								entities.RetryQueueStatusFailed,
							} {
								_, _ = fmt.Fprintf(out, "%s=%d\n", st, stats[st])
							}
							return nil
						}),
					},
					{
						Name:      "requeue",
						Usage:     "Reset an entry for immediate redelivery",
						ArgsUsage: "<entry-id>",
						Action: deps.withRuntime(func(ctx context.Context, cmd *cli.Command, rt ctlRuntime) error {
							id, err := parseID(cmd, "entry")
							if err != nil {
								return err
							}
							entry, err := rt.Requeue(ctx, id)
							if err != nil {
								return fmt.Errorf("failed to requeue %s: %w", id, err)
							}
							_, _ = fmt.Fprintf(out, "requeued %s status=%s\n", entry.ID, entry.Status)
							return nil
						}),
					},
				},
			},
			{
				Name:  "history",
				Usage: "Payment status history",
				Commands: []*cli.Command{
					{
						Name:      "verify",
						Usage:     "Check a payment's status history hash chain",
						ArgsUsage: "<payment-id>",
						Action: deps.withRuntime(func(ctx context.Context, cmd *cli.Command, rt ctlRuntime) error {
							id, err := parseID(cmd, "payment")
							if err != nil {
								return err
							}
							report, err := rt.VerifyHistory(ctx, id)
							if err != nil {
								return err
							}
							if report.Valid {
								_, _ = fmt.Fprintf(out, "payment %s: %d entries, history intact\n", id, report.Entries)
								return nil
							}
							at := -1
							if report.BrokenAt != nil {
								at = *report.BrokenAt
							}
							_, _ = fmt.Fprintf(out, "payment %s: history broken at entry %d: %s\n", id, at, report.Reason)
							return errHistoryBroken
						}),
					},
				},
			},
			{
				Name:      "sync",
				Usage:     "Reconcile one payment against the chain now",
				ArgsUsage: "<payment-id>",
				Action: deps.withRuntime(func(ctx context.Context, cmd *cli.Command, rt ctlRuntime) error {
					id, err := parseID(cmd, "payment")
					if err != nil {
						return err
					}
					intent, err := rt.Sync(ctx, id)
					if err != nil {
						return err
					}
					_, _ = fmt.Fprintf(out, "payment %s: status=%s escrow=%s confirmations=%d\n",
						intent.ID, intent.Status, intent.EscrowStatus(), intent.BlockConfirmations)
					return nil
				}),
			},
			{
				Name:  "expire",
				Usage: "Expire overdue unclaimed payments once",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 100},
				},
				Action: deps.withRuntime(func(ctx context.Context, cmd *cli.Command, rt ctlRuntime) error {
					n, err := rt.ExpireDue(ctx, int(cmd.Int("limit")))
					if err != nil {
						return err
					}
					_, _ = fmt.Fprintf(out, "expired %d payments\n", n)
					return nil
				}),
			},
			{
				Name:  "token",
				Usage: "Bearer tokens",
				Commands: []*cli.Command{
					{
						Name:  "issue",
						Usage: "Issue a bearer token for a wallet",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "wallet", Usage: "wallet address", Required: true},
							&cli.StringFlag{Name: "role", Usage: "user, lp or admin", Value: jwt.RoleUser},
							&cli.DurationFlag{Name: "ttl", Usage: "overrides the configured expiry"},
						},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							if err := deps.loadEnv(); err != nil {
								log.Println("No .env file found, using environment variables")
							}
							cfg, err := deps.loadCfg(cmd.String("config"))
							if err != nil {
								return fmt.Errorf("failed to load config: %w", err)
							}
							expiry := cfg.JWT.Expiry
							if ttl := cmd.Duration("ttl"); ttl > 0 {
								expiry = ttl
							}
							token, err := jwt.NewJWTService(cfg.JWT.Secret, expiry, cfg.JWT.Issuer).
								Issue(cmd.String("wallet"), cmd.String("role"))
							if err != nil {
								return err
							}
							_, _ = fmt.Fprintln(out, token)
							return nil
						},
					},
				},
			},
		},
	}
}

func main() {
	if err := newApp(defaultCtlDeps()).Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
