package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"brightreel-ai/reelgate/pkg/admission"
	"brightreel-ai/reelgate/pkg/admission/budget"
	"brightreel-ai/reelgate/pkg/admission/cache"
	"brightreel-ai/reelgate/pkg/admission/ratelimit"
	"brightreel-ai/reelgate/pkg/config"
	"brightreel-ai/reelgate/pkg/generation"
	"brightreel-ai/reelgate/pkg/server"
	"brightreel-ai/reelgate/pkg/storage"
	"brightreel-ai/reelgate/pkg/storage/retention"
	"brightreel-ai/reelgate/pkg/telemetry/health"
	"brightreel-ai/reelgate/pkg/telemetry/logging"
)

var runFlags struct {
	logLevel string
	watch    bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the ReelGate core",
	Long: `Start the ReelGate core with the specified configuration.

Wires the admission pipeline and the generation service, starts the
retention scheduler, and serves /metrics and /healthz.

Examples:
  # Start with default config
  reelgate run

  # Start with custom config and live limit reloads
  reelgate run --config /etc/reelgate/config.yaml --watch`,
	RunE: runCore,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.watch, "watch", false, "reload rate/budget limits when the config file changes")
}

func runCore(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Telemetry.Logging.Level,
		Format: cfg.Telemetry.Logging.Format,
	})
	if err != nil {
		return err
	}

	// Storage backend shared by the spend ledger and job records.
	var backend storage.Backend
	switch cfg.Storage.Backend {
	case "sqlite":
		backend, err = storage.NewSQLiteBackend(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to open sqlite backend: %w", err)
		}
	default:
		backend = storage.NewMemoryBackend()
	}
	defer backend.Close()

	// Admission pipeline.
	rates := ratelimit.NewRegistry(rateCategories(cfg), cfg.Admission.BucketIdleTTL)
	guard := budget.NewGuard(storage.NewLedger(backend), cfg.Admission.MonthlyBudgetUSD, logger)
	memo := cache.New(cfg.Admission.Cache.TTL, cfg.Admission.Cache.MaxEntries)
	gate := admission.NewGate(rates, guard, memo, admission.NewMetrics(), logger)

	// Generation service.
	genBackend := generation.NewHTTPBackend(cfg.Generation.BackendURL, os.Getenv("REELGATE_BACKEND_TOKEN"))
	jobs := generation.NewService(backend, genBackend, generation.Config{
		SubmitTimeout: cfg.Generation.SubmitTimeout,
		MaxRetries:    cfg.Generation.MaxRetries,
	}, logger)

	api := server.NewServer(&cfg.Server, gate, jobs, genBackend.Complete, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Retention scheduler: prune aged rows, sweep idle buckets.
	pruner := retention.NewPruner(backend, retention.Config{
		PruneSchedule: cfg.Retention.Schedule,
		LedgerMonths:  cfg.Retention.LedgerMonths,
		JobRetention:  cfg.Retention.JobRetention,
	}, logger)
	scheduler := retention.NewScheduler(pruner, gate.SweepBuckets, logger)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	// Live limit reloads.
	if runFlags.watch {
		watcher := config.NewWatcher(cfgFile, logger)
		go func() {
			if err := watcher.Watch(ctx, func(next *config.Config) {
				rates.SetCategories(rateCategories(next))
			}); err != nil {
				logger.Warn("config watcher exited", "error", err)
			}
		}()
	}

	// Telemetry server.
	checker := health.New(0)
	checker.Register("storage", func(ctx context.Context) error {
		_, err := backend.SumSpendSince(ctx, "healthcheck", time.Now())
		return err
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", checker.Handler())

	srv := &http.Server{
		Addr:         cfg.Telemetry.MetricsListenAddress,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("telemetry server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		if err := api.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	logger.Info("reelgate started",
		"storage", cfg.Storage.Backend,
		"monthly_budget_usd", cfg.Admission.MonthlyBudgetUSD,
		"rate_categories", len(cfg.Admission.RateCategories),
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = api.Shutdown(shutdownCtx)
	_ = srv.Shutdown(shutdownCtx)

	logger.Info("reelgate stopped")
	return nil
}

// rateCategories converts configured per-minute refill rates to the
// limiter's per-second form.
func rateCategories(cfg *config.Config) map[string]ratelimit.Category {
	out := make(map[string]ratelimit.Category, len(cfg.Admission.RateCategories))
	for name, c := range cfg.Admission.RateCategories {
		out[name] = ratelimit.Category{
			Capacity:   c.Capacity,
			RefillRate: c.RefillPerMinute / 60.0,
		}
	}
	return out
}
