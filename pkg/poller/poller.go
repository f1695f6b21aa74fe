// Package poller waits on the client side for a scan to reach a terminal state.
package poller

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentguard/prompt-scanner/internal/models"
	"github.com/agentguard/prompt-scanner/pkg/metrics"
)

const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 60
)

// ScanFetcher reads the current view of a scan
type ScanFetcher interface {
	GetScan(ctx context.Context, scanID string) (*models.ScanResource, error)
}

// Poller repeatedly fetches a scan until it completes, fails or the
// attempt budget runs out. It only reads; a timeout leaves the scan untouched.
type Poller struct {
	fetcher ScanFetcher
	logger  *logrus.Logger
}

// New creates a Poller
func New(fetcher ScanFetcher, logger *logrus.Logger) *Poller {
	return &Poller{fetcher: fetcher, logger: logger}
}

// Poll waits interval before each fetch. It returns the scan once its status
// is completed or failed, and a *models.TimeoutError after maxAttempts
// non-terminal fetches. A NotFound fetch aborts immediately; any other fetch
// error costs one attempt.
func (p *Poller) Poll(ctx context.Context, scanID string, interval time.Duration, maxAttempts int) (*models.ScanResource, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	logger := p.logger.WithField("scan_id", scanID)

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			metrics.RecordPollAttempts("cancelled", attempt-1)
			return nil, ctx.Err()
		case <-timer.C:
		}

		scan, err := p.fetcher.GetScan(ctx, scanID)
		switch {
		case err == nil && scan.Status.IsTerminal():
			logger.WithFields(logrus.Fields{
				"status":   scan.Status,
				"attempts": attempt,
			}).Debug("Scan reached terminal state")
			metrics.RecordPollAttempts(string(scan.Status), attempt)
			return scan, nil

		case err == nil:
			logger.WithFields(logrus.Fields{
				"status":  scan.Status,
				"attempt": attempt,
			}).Debug("Scan not finished yet")

		case errors.Is(err, models.ErrNotFound):
			metrics.RecordPollAttempts("not_found", attempt)
			return nil, err

		case ctx.Err() != nil:
			metrics.RecordPollAttempts("cancelled", attempt)
			return nil, ctx.Err()

		default:
			logger.WithError(err).WithField("attempt", attempt).Warn("Poll attempt failed")
		}

		timer.Reset(interval)
	}

	metrics.RecordPollAttempts("timeout", maxAttempts)
	return nil, &models.TimeoutError{ScanID: scanID, Attempts: maxAttempts, Interval: interval}
}
