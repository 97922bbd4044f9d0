// QueueCore - Pluggable Background Job Queue Runtime
// Copyright (c) 2024 BillyRonks Global Limited. All rights reserved.

package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/BillyRonksGlobal/queuecore/api"
	"github.com/BillyRonksGlobal/queuecore/internal/queue"
	"github.com/BillyRonksGlobal/queuecore/internal/queue/httptransport"
	"github.com/BillyRonksGlobal/queuecore/internal/queue/postgres"
	"github.com/BillyRonksGlobal/queuecore/internal/queue/redisqueue"
	"github.com/BillyRonksGlobal/queuecore/internal/queue/sqlite"
	"github.com/BillyRonksGlobal/queuecore/internal/queue/waitlist"
	"github.com/BillyRonksGlobal/queuecore/pkg/config"
	"github.com/BillyRonksGlobal/queuecore/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	log := initLogger(cfg.App.Environment)
	defer log.Sync()

	backend, err := queue.ParseBackend(cfg.Queue.Backend)
	if err != nil {
		log.Fatal("invalid queue backend", zap.Error(err))
	}

	rt, closeRuntime, err := buildRuntime(backend, cfg, log)
	if err != nil {
		log.Fatal("failed to build queue runtime", zap.Error(err))
	}
	defer closeRuntime()

	handler := demoHandler(log)

	var workers []queue.Worker
	var servers []*http.Server

	switch cfg.Queue.Role {
	case "worker":
		workers = append(workers, startWorkers(rt, cfg, handler, log)...)
	case "api":
		srv := startAPIServer(rt, cfg, log)
		servers = append(servers, srv)
	case "scheduler":
		if err := rt.Scheduler.Start(context.Background()); err != nil {
			log.Fatal("failed to start scheduler", zap.Error(err))
		}
	default: // "all"
		workers = append(workers, startWorkers(rt, cfg, handler, log)...)
		if err := rt.Scheduler.Start(context.Background()); err != nil {
			log.Fatal("failed to start scheduler", zap.Error(err))
		}
		servers = append(servers, startAPIServer(rt, cfg, log))
	}

	retention := queue.NewRetentionWorker(rt.Retainer, queue.RetentionPolicy{
		CompletedAfter:   cfg.Retention.CompletedAfter,
		FailedAfter:      cfg.Retention.FailedAfter,
		MaxRowsPerStatus: cfg.Retention.MaxRowsPerStatus,
		Interval:         cfg.Retention.Interval,
	}, func(msg string, fields ...any) {
		log.Info(msg, toZapFields(fields)...)
	})
	retentionCtx, retentionCancel := context.WithCancel(context.Background())
	_ = retention.Start(retentionCtx)

	log.Info("queuecore started",
		zap.String("backend", backend.String()),
		zap.String("role", cfg.Queue.Role),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	retentionCancel()
	_ = retention.Stop(shutdownCtx)

	for _, w := range workers {
		if err := w.Stop(shutdownCtx); err != nil {
			log.Warn("worker did not stop cleanly", zap.Error(err))
		}
	}
	if err := rt.Scheduler.Stop(shutdownCtx); err != nil {
		log.Warn("scheduler did not stop cleanly", zap.Error(err))
	}
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http server forced to shutdown", zap.Error(err))
		}
	}

	log.Info("queuecore exited gracefully")
}

func initLogger(env string) *logger.Logger {
	cfg := &logger.Config{
		Level:       "info",
		Development: env != "production",
		Encoding:    "console",
		OutputPaths: []string{"stdout"},
	}
	if env == "production" {
		cfg.Encoding = "json"
	}
	log, err := logger.New(cfg)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	return log
}

// runtimeBundle adds the pieces queue.Runtime deliberately leaves out
// of its own shape: the Retainer (every backend's Client also satisfies
// it) and the Registrar (the waitlist backing Notifier on the enqueue
// side), both of which only main.go has in hand at construction time.
type runtimeBundle struct {
	*queue.Runtime
	Retainer queue.Retainer
	Registrar queue.Registrar
}

func buildRuntime(backend queue.Backend, cfg *config.Config, log *logger.Logger) (*runtimeBundle, func(), error) {
	wl := waitlist.New()

	switch backend {
	case queue.BackendPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL())
		if err != nil {
			return nil, nil, fmt.Errorf("parse postgres url: %w", err)
		}
		poolCfg.MaxConns = cfg.Database.MaxConns
		poolCfg.MinConns = cfg.Database.MinConns
		poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
		poolCfg.MaxConnIdleTime = cfg.Database.MaxConnIdleTime
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		client := postgres.New(pool, wl)
		if err := client.EnsureSchema(ctx); err != nil {
			return nil, nil, fmt.Errorf("ensure postgres schema: %w", err)
		}
		rt := &runtimeBundle{
			Runtime: &queue.Runtime{
				Client:    client,
				Scheduler: postgres.NewScheduler(client, client),
				Backend:   backend,
				NewWorker: func(wc queue.WorkerConfig, h queue.JobHandler) queue.Worker {
					return postgres.NewWorker(client, wc, h, wl)
				},
				Close: func() error { pool.Close(); return nil },
			},
			Retainer:  client,
			Registrar: wl,
		}
		return rt, func() { wl.Close(); _ = rt.Close() }, nil

	case queue.BackendSQLite:
		sqldb, err := sql.Open("sqlite", cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		db := bun.NewDB(sqldb, sqlitedialect.New())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sqlite.InitSchema(ctx, db); err != nil {
			return nil, nil, fmt.Errorf("init sqlite schema: %w", err)
		}
		client := sqlite.New(db, wl)
		rt := &runtimeBundle{
			Runtime: &queue.Runtime{
				Client:    client,
				Scheduler: sqlite.NewScheduler(client, client),
				Backend:   backend,
				NewWorker: func(wc queue.WorkerConfig, h queue.JobHandler) queue.Worker {
					return sqlite.NewWorker(client, wc, h, wl)
				},
				Close: client.Close,
			},
			Retainer:  client,
			Registrar: wl,
		}
		return rt, func() { wl.Close(); _ = rt.Close() }, nil

	case queue.BackendRedis:
		opts, err := redis.ParseURL(cfg.Redis.URL())
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		client := redisqueue.New(rdb, cfg.Redis.KeyPrefix, wl)
		staleCtx, staleCancel := context.WithCancel(context.Background())
		for _, name := range cfg.Queue.Names {
			go redisqueue.StaleRecoverer(staleCtx, client, name, cfg.Lease.Duration)
		}
		rt := &runtimeBundle{
			Runtime: &queue.Runtime{
				Client:    client,
				Scheduler: redisqueue.NewScheduler(client, client),
				Backend:   backend,
				NewWorker: func(wc queue.WorkerConfig, h queue.JobHandler) queue.Worker {
					return redisqueue.NewWorker(client, wc, h, wl)
				},
				Close: client.Close,
			},
			Retainer:  client,
			Registrar: wl,
		}
		return rt, func() { staleCancel(); wl.Close(); _ = rt.Close() }, nil
	}

	return nil, nil, fmt.Errorf("unsupported backend %q", backend)
}

// startWorkers builds one Worker per configured queue name and starts
// them concurrently via errgroup, rather than serially, since Start
// failures on one queue (e.g. a misconfigured lease) should not delay
// the others from coming up.
func startWorkers(rt *runtimeBundle, cfg *config.Config, handler queue.JobHandler, log *logger.Logger) []queue.Worker {
	built := make([]queue.Worker, len(cfg.Queue.Names))
	var g errgroup.Group
	for i, name := range cfg.Queue.Names {
		wc := queue.DefaultWorkerConfig(name)
		wc.Concurrency = cfg.Queue.Concurrency
		wc.PollInterval = cfg.Queue.PollInterval
		wc.LeaseDuration = cfg.Lease.Duration
		wc.HeartbeatInterval = cfg.Lease.HeartbeatInterval
		wc.GracefulShutdown = cfg.Lease.GracefulShutdown

		w := rt.NewWorker(wc, handler)
		built[i] = w
		g.Go(func() error { return w.Start(context.Background()) })
	}
	if err := g.Wait(); err != nil {
		log.Warn("one or more workers failed to start", zap.Error(err))
	}
	return built
}

func startAPIServer(rt *runtimeBundle, cfg *config.Config, log *logger.Logger) *http.Server {
	remoteStore, ok := rt.Client.(queue.RemoteStore)
	if !ok {
		log.Fatal("backend client does not implement queue.RemoteStore")
	}
	transport := httptransport.NewServer(remoteStore, rt.Registrar, cfg.Lease.Duration, log.Logger)

	router := api.NewRouter(rt.Client, transport, log.Logger, cfg)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("starting api server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("api server failed", zap.Error(err))
		}
	}()

	return srv
}

// demoHandler is a placeholder JobHandler that simply completes every
// job; real deployments register their own handler before Start.
func demoHandler(log *logger.Logger) queue.JobHandler {
	return func(ctx context.Context, jc queue.JobContext) error {
		jc.Log("processing job", "id", jc.Job().ID, "queue", jc.Job().Queue)
		return nil
	}
}

func toZapFields(kv []any) []zap.Field {
	fields := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		fields = append(fields, zap.Any(key, kv[i+1]))
	}
	return fields
}
