package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/reportflow/internal/batch"
	"github.com/roach88/reportflow/internal/blob"
	"github.com/roach88/reportflow/internal/config"
	"github.com/roach88/reportflow/internal/ir"
	"github.com/roach88/reportflow/internal/lineage"
	"github.com/roach88/reportflow/internal/logging"
	"github.com/roach88/reportflow/internal/metrics"
	"github.com/roach88/reportflow/internal/pgstore"
	"github.com/roach88/reportflow/internal/queue"
	"github.com/roach88/reportflow/internal/settings"
	"github.com/roach88/reportflow/internal/store"
	"github.com/roach88/reportflow/internal/tracking"
)

// lineageStore is what commands need from either database driver.
type lineageStore interface {
	tracking.Writer
	batch.Repository
	batch.ClaimStore
	ReadSubmission(ctx context.Context, rootID string) (lineage.Snapshot, error)
	ReadRoots(ctx context.Context, reportID string) ([]ir.ReportNode, error)
	Close() error
}

var (
	_ lineageStore = (*store.Store)(nil)
	_ lineageStore = (*pgstore.Store)(nil)
)

// app is the runtime a command works against: configuration, settings,
// the lineage store and the body bucket.
type app struct {
	cfg      *config.Config
	settings *settings.Settings
	store    lineageStore
	bodies   *blob.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// openApp loads configuration and opens every backing service. Failures are
// ExitCommandError.
func openApp(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*app, error) {
	cfg, err := config.LoadFile(opts.EnvFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	level := cfg.LogLevel
	if opts.Verbose {
		level = "debug"
	}
	logging.SetupWriter(cmd.ErrOrStderr(), logging.Config{Format: cfg.LogFormat, Level: level})
	logger := logging.Component("cli")

	provider, err := settings.Load(cfg.SettingsFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load settings", err)
	}

	a := &app{cfg: cfg, settings: provider, logger: logger}
	a.metrics = a.startMetrics()

	a.store, err = openStore(ctx, cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open lineage store", err)
	}

	a.bodies, err = blob.Open(ctx, cfg.BlobURL, blob.Compression(cfg.BlobCompression))
	if err != nil {
		a.store.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open blob store", err)
	}

	logger.Debug("runtime ready", "driver", cfg.DatabaseDriver, "blob", cfg.BlobURL, "queue", cfg.QueueBackend)
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config) (lineageStore, error) {
	if cfg.DatabaseDriver == "postgres" {
		return pgstore.Open(ctx, cfg.DatabaseURL)
	}
	return store.Open(cfg.DatabasePath)
}

// startMetrics serves the default registry when METRICS_ADDR is set.
// Otherwise metrics are collected on a private registry nobody scrapes.
func (a *app) startMetrics() *metrics.Metrics {
	if a.cfg.MetricsAddr == "" {
		return metrics.New(prometheus.NewRegistry(), "")
	}
	m := metrics.New(prometheus.DefaultRegisterer, "")
	go func() {
		if err := metrics.StartServer(a.cfg.MetricsAddr); err != nil {
			a.logger.Error("metrics server stopped", "addr", a.cfg.MetricsAddr, "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", a.cfg.MetricsAddr)
	return m
}

func (a *app) tracker() *tracking.Tracker {
	return tracking.New(a.store, a.bodies, tracking.WithMetrics(a.metrics))
}

func (a *app) queueNames() batch.QueueNames {
	return batch.QueueNames{Legacy: a.cfg.LegacyBatchQueue, Universal: a.cfg.UniversalBatchQueue}
}

func (a *app) openQueue() (queue.Transport, error) {
	switch a.cfg.QueueBackend {
	case "kafka":
		q, err := queue.NewKafka(queue.KafkaConfig{
			Brokers:      a.cfg.KafkaBrokerList(),
			GroupID:      a.cfg.KafkaGroupID,
			WriteTimeout: a.cfg.EnqueueTimeout,
		})
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to connect to kafka", err)
		}
		return q, nil
	default:
		return queue.NewMemory(nil), nil
	}
}

func (a *app) decider(q queue.Enqueuer) *batch.Decider {
	return batch.NewDecider(a.settings, a.store, q,
		batch.WithQueueNames(a.queueNames()),
		batch.WithRetries(a.cfg.BatchRetries),
		batch.WithMetrics(a.metrics),
	)
}

func (a *app) worker() *batch.Worker {
	return batch.NewWorker(a.settings, a.store, a.tracker(), a.bodies,
		batch.WithWorkerRetries(a.cfg.BatchRetries),
		batch.WithWorkerMetrics(a.metrics),
	)
}

// Close releases the store and bucket.
func (a *app) Close() error {
	return errors.Join(a.bodies.Close(), a.store.Close())
}

// signalContext is cancelled on SIGINT or SIGTERM, or when the command's
// own context ends.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func closeApp(a *app) {
	if err := a.Close(); err != nil {
		a.logger.Error("error closing runtime", "error", err)
	}
}

// notFound maps a missing report to ExitCommandError.
func notFound(id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return WrapExitError(ExitCommandError, fmt.Sprintf("report %s not found", id), err)
	}
	return WrapExitError(ExitCommandError, "failed to read lineage", err)
}
