package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentguard/prompt-scanner/internal/models"
	"github.com/agentguard/prompt-scanner/pkg/logging"
	"github.com/agentguard/prompt-scanner/pkg/metrics"
)

// failWriteTimeout bounds the Fail write after the job context may have expired
const failWriteTimeout = 10 * time.Second

// Processor runs one job through processing to a terminal state
type Processor struct {
	scans    ScanRepository
	analyzer PromptAnalyzer
	logger   *logrus.Logger
}

// NewProcessor creates a processor
func NewProcessor(scans ScanRepository, analyzer PromptAnalyzer, logger *logrus.Logger) *Processor {
	return &Processor{
		scans:    scans,
		analyzer: analyzer,
		logger:   logger,
	}
}

// Handle claims the job's scan, analyzes the job's prompt and records the
// outcome. Once the scan is claimed every error or panic ends in Fail.
// A scan that cannot be claimed is skipped without being modified.
func (p *Processor) Handle(ctx context.Context, job *models.Job) (err error) {
	logger := logging.WithScan(p.logger, job.ScanID, job.AgentID)
	start := time.Now()

	if err := p.scans.TransitionToProcessing(ctx, job.ScanID); err != nil {
		switch {
		case errors.Is(err, models.ErrStateConflict):
			metrics.RecordJobSkipped("state_conflict")
			logger.WithError(err).Warn("Scan already claimed, skipping job")
			return nil
		case errors.Is(err, models.ErrNotFound):
			metrics.RecordJobSkipped("not_found")
			logger.Warn("Scan record not found, skipping job")
			return nil
		}
		return fmt.Errorf("failed to claim scan %s: %w", job.ScanID, err)
	}

	logger.Info("Processing scan")

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan processing panicked: %v", r)
			p.fail(logger, job.ScanID, err, start)
		}
	}()

	result, err := p.analyzer.Analyze(ctx, job.SystemPrompt)
	if err != nil {
		p.fail(logger, job.ScanID, err, start)
		return err
	}

	if err := p.scans.Complete(ctx, job.ScanID, result); err != nil {
		err = fmt.Errorf("failed to store scan result: %w", err)
		p.fail(logger, job.ScanID, err, start)
		return err
	}

	duration := time.Since(start).Seconds()
	metrics.RecordScanFinished(string(models.ScanStatusCompleted), duration)
	logger.WithFields(logrus.Fields{
		"security_score":  result.SecurityScore,
		"vulnerabilities": len(result.Vulnerabilities),
		"duration":        duration,
	}).Info("Scan completed")

	return nil
}

func (p *Processor) fail(logger *logrus.Entry, scanID string, cause error, start time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), failWriteTimeout)
	defer cancel()

	duration := time.Since(start).Seconds()
	metrics.RecordScanFinished(string(models.ScanStatusFailed), duration)

	if err := p.scans.Fail(ctx, scanID, cause.Error()); err != nil {
		logger.WithFields(logrus.Fields{
			"cause": cause.Error(),
			"error": err.Error(),
		}).Error("Failed to mark scan failed")
		return
	}

	logger.WithFields(logrus.Fields{
		"error":    cause.Error(),
		"duration": duration,
	}).Warn("Scan failed")
}
