package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cun0/batch-ingest/internal/config"
	"github.com/cun0/batch-ingest/internal/httpserver"
	"github.com/cun0/batch-ingest/internal/ingest"
	"github.com/cun0/batch-ingest/internal/jsonlog"
	"github.com/cun0/batch-ingest/internal/repo"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"k8s.io/utils/clock"
)

func Run(version, buildTime string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := jsonlog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = jsonlog.LevelInfo
	}
	logger := jsonlog.New(os.Stdout, level)

	ctx := context.Background()

	registry, closeRegistry, err := openRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	// closeRegistry is called in onShutdown to keep the lifecycle in one place.

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := ingest.NewMetrics(promReg)

	clk := clock.RealClock{}

	// The queue is built once here and shared by the dispatcher and the
	// submission path.
	queue := ingest.NewQueue()
	executor := ingest.NewExecutor(registry, ingest.LogProcessor{Logger: logger}, clk, logger, metrics)
	dispatcher := ingest.NewDispatcher(queue, executor, ingest.DispatcherConfig{
		Interval:    cfg.Scheduler.Interval,
		ExecTimeout: cfg.Scheduler.ExecTimeout,
	}, clk, logger, metrics)
	svc := ingest.NewService(registry, queue, dispatcher, executor, ingest.ServiceConfig{
		BatchSize: cfg.Scheduler.BatchSize,
		NewID:     uuid.NewString,
		Clock:     clk,
	}, logger, metrics)

	if err := svc.Recover(ctx); err != nil {
		_ = closeRegistry()
		return fmt.Errorf("recover: %w", err)
	}
	if err := svc.Start(); err != nil {
		_ = closeRegistry()
		return err
	}

	handler := httpserver.BuildHandler(httpserver.Config{
		RequestTimeout: cfg.HTTP.RequestTimeout,
		SubmitRPS:      cfg.RateLimit.RPS,
		SubmitBurst:    cfg.RateLimit.Burst,
	}, logger, svc, promReg)

	logger.PrintInfo("service started", map[string]string{
		"version":           version,
		"build_time":        buildTime,
		"store_backend":     cfg.Store.Backend,
		"dispatch_interval": cfg.Scheduler.Interval.String(),
		"batch_size":        fmt.Sprint(cfg.Scheduler.BatchSize),
	})

	return httpserver.Serve(ctx, cfg.HTTP, logger, handler, func(ctx context.Context) error {
		var result *multierror.Error
		if err := svc.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			result = multierror.Append(result, fmt.Errorf("stop dispatcher: %w", err))
		}
		if err := closeRegistry(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close registry: %w", err))
		}
		return result.ErrorOrNil()
	})
}

// openRegistry builds the configured registry and returns its closer.
func openRegistry(ctx context.Context, cfg config.Config) (ingest.Registry, func() error, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		pool, err := repo.NewPool(ctx, cfg.DB)
		if err != nil {
			return nil, nil, err
		}
		reg := repo.NewPostgresRegistry(pool)
		if err := reg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return reg, func() error { pool.Close(); return nil }, nil

	case config.BackendSQLite:
		reg, err := repo.NewSQLiteRegistry(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := reg.Migrate(ctx); err != nil {
			_ = reg.Close()
			return nil, nil, err
		}
		return reg, reg.Close, nil

	default:
		return repo.NewMemoryRegistry(), func() error { return nil }, nil
	}
}
