package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentguard/prompt-scanner/pkg/api"
	"github.com/agentguard/prompt-scanner/pkg/auth"
	"github.com/agentguard/prompt-scanner/pkg/config"
	"github.com/agentguard/prompt-scanner/pkg/logging"
	"github.com/agentguard/prompt-scanner/pkg/pipeline"
	"github.com/agentguard/prompt-scanner/pkg/queue"
	"github.com/agentguard/prompt-scanner/pkg/remediation"
	"github.com/agentguard/prompt-scanner/pkg/shutdown"
	"github.com/agentguard/prompt-scanner/pkg/store"
)

func newAPICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Serve the scan API",
		Long: `Serve scan initiation, status, history, remediation and diffs over HTTP.
With the memory queue backend the worker pool runs inside this process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runAPI(cmd.Context(), cfg)
		},
	}
}

func runAPI(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewFromConfig(cfg)
	logging.LogStartup(logger, "api", cfg)

	db, dbCheck, err := openStore(cfg, logger)
	if err != nil {
		return err
	}

	q, queueCheck, err := openQueue(cfg, logger)
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

	scans := store.NewScanStore(db)
	agents := store.NewAgentStore(db)

	var dedup *queue.DeduplicationCache
	if window := cfg.MustDuration(cfg.Queue.DedupWindow); window > 0 {
		dedup = queue.NewDeduplicationCache(window, logger)
	}

	// A nil *DeduplicationCache must not reach the Deduplicator interface
	var initiator *pipeline.Initiator
	if dedup != nil {
		initiator = pipeline.NewInitiator(agents, scans, q, dedup, logger)
	} else {
		initiator = pipeline.NewInitiator(agents, scans, q, nil, logger)
	}

	checks := map[string]api.ReadinessCheck{"store": dbCheck}
	if queueCheck != nil {
		checks["queue"] = queueCheck
	}

	stats := map[string]api.StatsFunc{}
	if dedup != nil {
		stats["dedup_cache"] = func() interface{} { return dedup.Stats() }
	}
	if mq, ok := q.(*queue.MemoryQueue); ok {
		stats["queue"] = func() interface{} { return mq.Stats() }
	}

	var pool *queue.WorkerPool
	if cfg.Queue.Backend == config.QueueBackendMemory {
		pool = newWorkerPool(cfg, q, scans, gen, logger)
		stats["worker_pool"] = func() interface{} { return pool.Stats() }
	}

	server := api.NewServer(cfg, api.Dependencies{
		Initiator:  initiator,
		Scans:      scans,
		Agents:     agents,
		Remediator: remediation.New(scans, agents, gen, logger),
		Auth:       auth.NewAuthenticator(cfg.Auth, logger),
		Checks:     checks,
		Stats:      stats,
	}, logger)

	if pool != nil {
		logger.Info("Memory queue configured, running embedded worker pool")
		pool.Start()
	}

	drainTimeout := cfg.MustDuration(cfg.Worker.DrainTimeout)
	manager := shutdown.NewManager(logger)
	manager.RegisterCleanup("http-server", server.Shutdown)
	if pool != nil {
		manager.RegisterCleanup("worker-pool", func(ctx context.Context) error {
			return pool.Stop(drainTimeout)
		})
	}
	if dedup != nil {
		manager.RegisterCleanup("dedup-cache", func(ctx context.Context) error {
			dedup.Stop()
			return nil
		})
	}
	manager.RegisterCleanup("scan-queue", func(ctx context.Context) error {
		return q.Close()
	})
	manager.RegisterCleanup("store", func(ctx context.Context) error {
		return store.Close(db)
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	signalCtx, cancelSignal := context.WithCancel(ctx)
	defer cancelSignal()
	sigDone := make(chan string, 1)
	go func() {
		sigDone <- manager.WaitForSignal(signalCtx)
	}()

	var runErr error
	select {
	case sig := <-sigDone:
		logging.LogShutdownInitiated(logger, sig)
	case runErr = <-serverErr:
		if runErr != nil {
			logger.WithError(runErr).Error("Server error occurred")
		}
		logging.LogShutdownInitiated(logger, "server_exit")
	}

	start := time.Now()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget(cfg))
	defer cancel()

	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
		if runErr == nil {
			runErr = err
		}
	}
	logging.LogShutdownComplete(logger, time.Since(start).Seconds())

	return runErr
}
