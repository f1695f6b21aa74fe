package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentguard/prompt-scanner/pkg/api"
	"github.com/agentguard/prompt-scanner/pkg/config"
	"github.com/agentguard/prompt-scanner/pkg/logging"
	"github.com/agentguard/prompt-scanner/pkg/shutdown"
	"github.com/agentguard/prompt-scanner/pkg/store"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume scan jobs and analyze prompts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), cfg)
		},
	}
}

func runWorker(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewFromConfig(cfg)
	logging.LogStartup(logger, "worker", cfg)

	if cfg.Queue.Backend == config.QueueBackendMemory {
		return errors.New("worker needs a shared queue backend; the memory queue only runs inside the api process")
	}

	db, _, err := openStore(cfg, logger)
	if err != nil {
		return err
	}

	q, _, err := openQueue(cfg, logger)
	if err != nil {
		store.Close(db)
		return err
	}

	gen, err := newGenerator(cfg, logger)
	if err != nil {
		q.Close()
		store.Close(db)
		return err
	}

	pool := newWorkerPool(cfg, q, store.NewScanStore(db), gen, logger)
	status := newStatusServer(cfg.Worker.MetricsPort, map[string]api.StatsFunc{
		"worker_pool": func() interface{} { return pool.Stats() },
	})

	drainTimeout := cfg.MustDuration(cfg.Worker.DrainTimeout)
	manager := shutdown.NewManager(logger)
	manager.RegisterCleanup("worker-pool", func(ctx context.Context) error {
		return pool.Stop(drainTimeout)
	})
	manager.RegisterCleanup("scan-queue", func(ctx context.Context) error {
		return q.Close()
	})
	manager.RegisterCleanup("store", func(ctx context.Context) error {
		return store.Close(db)
	})
	manager.RegisterCleanup("status-server", status.Shutdown)

	go func() {
		logger.WithField("port", cfg.Worker.MetricsPort).Info("Starting status server")
		if err := status.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Status server error")
		}
	}()

	pool.Start()

	signalCtx, cancelSignal := context.WithCancel(ctx)
	defer cancelSignal()
	sigDone := make(chan string, 1)
	go func() {
		sigDone <- manager.WaitForSignal(signalCtx)
	}()

	select {
	case sig := <-sigDone:
		logging.LogShutdownInitiated(logger, sig)
	case <-pool.Done():
		logging.LogShutdownInitiated(logger, "dispatch_exit")
	}

	start := time.Now()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget(cfg))
	defer cancel()

	err = manager.Shutdown(shutdownCtx)
	if err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}
	logging.LogShutdownComplete(logger, time.Since(start).Seconds())

	return err
}
