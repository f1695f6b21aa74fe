package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/agentguard/prompt-scanner/pkg/analyzer"
	"github.com/agentguard/prompt-scanner/pkg/api"
	"github.com/agentguard/prompt-scanner/pkg/config"
	"github.com/agentguard/prompt-scanner/pkg/generation"
	"github.com/agentguard/prompt-scanner/pkg/pipeline"
	"github.com/agentguard/prompt-scanner/pkg/queue"
	"github.com/agentguard/prompt-scanner/pkg/store"
)

// openQueue connects the configured queue backend. The returned check is
// nil for backends with nothing to check.
func openQueue(cfg *config.Config, logger *logrus.Logger) (queue.Queue, api.ReadinessCheck, error) {
	switch cfg.Queue.Backend {
	case config.QueueBackendMemory:
		return queue.NewMemoryQueue(cfg.Queue.BufferSize, logger), nil, nil

	case config.QueueBackendRedis:
		q, err := queue.NewRedisQueue(queue.RedisOptions{
			URL:  cfg.Queue.RedisURL,
			Name: cfg.Queue.Name,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return q, q.Ping, nil

	default:
		return nil, nil, fmt.Errorf("unsupported queue backend: %s", cfg.Queue.Backend)
	}
}

func openStore(cfg *config.Config, logger *logrus.Logger) (*gorm.DB, api.ReadinessCheck, error) {
	db, err := store.Open(cfg.Store.Driver, cfg.Store.DSN, logger)
	if err != nil {
		return nil, nil, err
	}

	check := func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
	return db, check, nil
}

func newGenerator(cfg *config.Config, logger *logrus.Logger) (generation.Generator, error) {
	gen, err := generation.New(cfg.Generation, logger)
	if err != nil {
		return nil, fmt.Errorf("generation backend: %w", err)
	}
	logger.WithField("generation_type", gen.Type()).Info("Generation backend configured")
	return gen, nil
}

// newWorkerPool builds the analysis pipeline on top of q
func newWorkerPool(cfg *config.Config, q queue.Queue, scans *store.ScanStore, gen generation.Generator, logger *logrus.Logger) *queue.WorkerPool {
	processor := pipeline.NewProcessor(scans, analyzer.New(gen, logger), logger)

	backoff := queue.DefaultBackoffConfig()
	backoff.InitialBackoff = cfg.MustDuration(cfg.Worker.InitialBackoff)
	backoff.MaxBackoff = cfg.MustDuration(cfg.Worker.MaxBackoff)

	return queue.NewWorkerPool(q, processor.Handle, queue.PoolOptions{
		MaxInFlight: cfg.Worker.MaxInFlight,
		JobTimeout:  cfg.MustDuration(cfg.Worker.JobTimeout),
		Backoff:     backoff,
	}, logger)
}

// newStatusServer serves /health and /metrics for processes without the API
func newStatusServer(port int, stats map[string]api.StatsFunc) *http.Server {
	router := mux.NewRouter()
	router.HandleFunc("/health", api.HealthHandler(stats)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// shutdownBudget bounds the whole cleanup sequence. Cleanups run in order
// on one context, so the budget covers the server stop plus the pool drain.
func shutdownBudget(cfg *config.Config) time.Duration {
	return cfg.MustDuration(cfg.Server.ShutdownTimeout) + cfg.MustDuration(cfg.Worker.DrainTimeout)
}
