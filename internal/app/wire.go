package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/cfdilab/cfdilab/internal/cfdi"
	"github.com/cfdilab/cfdilab/internal/cfdi/memstore"
	"github.com/cfdilab/cfdilab/internal/console"
	jobmetrics "github.com/cfdilab/cfdilab/internal/jobs"
	"github.com/cfdilab/cfdilab/internal/observability"
	"github.com/cfdilab/cfdilab/internal/platform/cache"
	"github.com/cfdilab/cfdilab/internal/platform/db"
	"github.com/cfdilab/cfdilab/internal/reporting"
	"github.com/cfdilab/cfdilab/internal/seed"
	"github.com/cfdilab/cfdilab/internal/shared"
	"github.com/cfdilab/cfdilab/jobs"
)

const documentLockTTL = 10 * time.Second

// store is what both Entity Store backends provide.
type store interface {
	cfdi.Repository
	reporting.Repository
}

// Runtime holds the assembled services shared by the server, the worker and the CLI.
type Runtime struct {
	Config     *Config
	Logger     *slog.Logger
	Documents  *cfdi.Service
	Reporting  *reporting.Service
	Console    *console.Service
	Seeder     *seed.Seeder
	Metrics    *observability.Metrics
	JobMetrics *jobmetrics.Metrics
	Integrity  *jobs.LedgerIntegrityJob

	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Queue     *jobs.Client
	Inspector *asynq.Inspector

	closers []func()
}

// Options adjust Build for callers that need less than the full server.
type Options struct {
	// SkipMigrations leaves the Postgres schema untouched.
	SkipMigrations bool
}

// Build connects the configured backends and assembles every service.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger, opts Options) (*Runtime, error) {
	if logger == nil {
		logger = NewLogger(cfg)
	}
	rt := &Runtime{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}
	rt.JobMetrics = jobmetrics.NewMetrics(rt.Metrics.Registerer())

	var repo store
	deps := cfdi.ServiceDeps{Metrics: rt.Metrics, Logger: logger}
	executor := console.Executor(console.Unsupported{})

	switch cfg.StoreDriver {
	case StorePostgres:
		pool, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		rt.Pool = pool
		rt.closers = append(rt.closers, pool.Close)
		if !opts.SkipMigrations {
			if err := db.Migrate(ctx, pool, cfdi.Migrations); err != nil {
				rt.Close()
				return nil, err
			}
		}
		repo = cfdi.NewPGRepository(pool, cfg.DBQueryTimeout)
		deps.Audit = shared.NewAuditLogger(pool)
		deps.Idempotency = shared.NewIdempotencyStore(pool)
		executor = console.NewPGExecutor(pool, cfg.ConsoleMaxRows)
	default:
		repo = memstore.New()
		deps.Audit = shared.NewSlogAuditLogger(logger)
		deps.Idempotency = shared.NewMemoryIdempotencyStore()
	}

	if cfg.RedisEnabled() {
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Redis = client
		rt.closers = append(rt.closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		})
		deps.Locker = shared.NewRedisLocker(client, documentLockTTL)

		asynqOpt, err := cache.AsynqOpt(cfg.RedisAddr)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Queue = jobs.NewClient(asynqOpt)
		rt.Inspector = asynq.NewInspector(asynqOpt)
		rt.closers = append(rt.closers, func() {
			_ = rt.Queue.Close()
			_ = rt.Inspector.Close()
		})
	}

	dashboardCache := reporting.NewCache(rt.Redis, cfg.DashboardCacheTTL)
	deps.Cache = dashboardCache
	rt.Reporting = reporting.NewService(repo, dashboardCache, cfg.DashboardTopN, logger)
	rt.Documents = cfdi.NewService(repo, deps)
	rt.Console = console.NewService(executor, logger, cfg.DBQueryTimeout)
	rt.Seeder = seed.New(rt.Documents, seed.Options{BatchSize: cfg.SeedBatchSize, Logger: logger})
	rt.Integrity = jobs.NewLedgerIntegrityJob(rt.Documents, logger, rt.JobMetrics)
	return rt, nil
}

// SeederWithSeed returns a seeder over the same service with a fixed random stream.
func (rt *Runtime) SeederWithSeed(value uint64) *seed.Seeder {
	return seed.New(rt.Documents, seed.Options{BatchSize: rt.Config.SeedBatchSize, Seed: value, Logger: rt.Logger})
}

// Router builds the HTTP surface over the runtime.
func (rt *Runtime) Router() http.Handler {
	// A worker only sees the same documents when the store is shared.
	var enqueuer seed.Enqueuer
	if rt.Queue != nil && rt.Pool != nil {
		enqueuer = queuedSeeds{client: rt.Queue}
	}
	var inspector jobs.QueueInspector
	if rt.Inspector != nil {
		inspector = rt.Inspector
	}
	return NewRouter(RouterParams{
		Logger:           rt.Logger,
		Config:           rt.Config,
		DocumentHandler:  cfdi.NewHandler(rt.Logger, rt.Documents),
		ReportingHandler: reporting.NewHandler(rt.Reporting, rt.Logger),
		ConsoleHandler:   console.NewHandler(rt.Console, rt.Logger),
		SeedHandler:      seed.NewHandler(rt.Seeder, enqueuer, rt.Logger),
		JobHandler:       jobs.NewHandler(inspector, rt.Logger),
		Metrics:          rt.Metrics,
		AccessLog:        !rt.Config.IsProduction(),
	})
}

// WorkerHandlers lists the asynq handlers the worker serves.
func (rt *Runtime) WorkerHandlers() []jobs.TaskHandler {
	seedJob := jobs.NewSeedJob(rt.Seeder, rt.Logger, rt.JobMetrics)
	return []jobs.TaskHandler{
		{Type: jobs.TaskSeedRun, Handler: seedJob.Handle},
		{Type: jobs.TaskLedgerIntegrity, Handler: rt.Integrity.Handle},
	}
}

// Close releases connections in reverse order of acquisition.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

type queuedSeeds struct {
	client *jobs.Client
}

func (q queuedSeeds) EnqueueSeed(ctx context.Context, scale string) (string, error) {
	info, err := q.client.EnqueueSeed(ctx, scale)
	if err != nil {
		return "", fmt.Errorf("app: enqueue seed: %w", err)
	}
	return info.ID, nil
}
