// Package shutdown runs named cleanup steps in order when a process stops.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// CleanupFunc releases one component during shutdown
type CleanupFunc func(ctx context.Context) error

type step struct {
	name string
	fn   CleanupFunc
}

// Manager handles graceful shutdown coordination. Steps run sequentially
// in registration order so producers stop before the resources they use.
type Manager struct {
	logger *logrus.Logger
	mu     sync.Mutex
	steps  []step
	done   bool
}

// NewManager creates a new shutdown manager
func NewManager(logger *logrus.Logger) *Manager {
	return &Manager{logger: logger}
}

// RegisterCleanup appends a named cleanup step
func (m *Manager) RegisterCleanup(name string, fn CleanupFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step{name: name, fn: fn})
}

// WaitForSignal blocks until SIGINT or SIGTERM arrives or ctx is done
func (m *Manager) WaitForSignal(ctx context.Context) string {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		m.logger.WithField("signal", sig.String()).Warn("Shutdown signal received")
		return sig.String()
	case <-ctx.Done():
		return "context"
	}
}

// Shutdown runs every registered step once. A failing step does not stop
// later steps; all failures are joined in the returned error.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return nil
	}
	m.done = true
	steps := append([]step(nil), m.steps...)
	m.mu.Unlock()

	var errs []error
	for _, s := range steps {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("%s: skipped: %w", s.name, ctx.Err()))
			continue
		}

		start := time.Now()
		logger := m.logger.WithField("handler", s.name)
		logger.Info("Executing shutdown handler")

		if err := s.fn(ctx); err != nil {
			logger.WithFields(logrus.Fields{
				"duration": time.Since(start).Seconds(),
				"error":    err.Error(),
			}).Error("Shutdown handler failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}

		logger.WithField("duration", time.Since(start).Seconds()).Info("Shutdown handler completed")
	}

	return errors.Join(errs...)
}

// IsShuttingDown returns true once Shutdown has been called
func (m *Manager) IsShuttingDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}
