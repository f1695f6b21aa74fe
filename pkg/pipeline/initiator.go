package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/agentguard/prompt-scanner/internal/models"
	"github.com/agentguard/prompt-scanner/pkg/logging"
	"github.com/agentguard/prompt-scanner/pkg/metrics"
)

// Initiator is the API-side producer: it snapshots the agent's prompt into
// a pending scan and publishes the job without waiting for processing
type Initiator struct {
	agents AgentDirectory
	scans  ScanRepository
	queue  JobPublisher
	dedup  Deduplicator
	logger *logrus.Logger
}

// NewInitiator creates an initiator. dedup may be nil.
func NewInitiator(agents AgentDirectory, scans ScanRepository, queue JobPublisher, dedup Deduplicator, logger *logrus.Logger) *Initiator {
	return &Initiator{
		agents: agents,
		scans:  scans,
		queue:  queue,
		dedup:  dedup,
		logger: logger,
	}
}

// InitiateScan creates a pending scan of agentID's current prompt and enqueues it.
// ownerID, when non-empty, must own the agent; otherwise the agent is reported missing.
func (i *Initiator) InitiateScan(ctx context.Context, ownerID, agentID string) (*models.Scan, error) {
	if agentID == "" {
		metrics.RecordInitiation("rejected")
		return nil, &models.ValidationError{Field: "agentId", Message: "required"}
	}

	agent, err := i.agents.GetAgent(ctx, agentID)
	if err != nil {
		metrics.RecordInitiation("rejected")
		return nil, err
	}

	if ownerID != "" && agent.OwnerID != ownerID {
		metrics.RecordInitiation("rejected")
		return nil, models.NewNotFound("agent", agentID)
	}

	if strings.TrimSpace(agent.SystemPrompt) == "" {
		metrics.RecordInitiation("rejected")
		return nil, models.NewInvalidState("agent %s has no system prompt configured", agentID)
	}

	if existing := i.findDuplicate(ctx, agent); existing != nil {
		metrics.RecordInitiation("deduplicated")
		logging.WithScan(i.logger, existing.ID, agentID).Info("Reusing in-progress scan")
		return existing, nil
	}

	scan, err := i.scans.Create(ctx, agent.ID, agent.SystemPrompt)
	if err != nil {
		metrics.RecordInitiation("error")
		return nil, err
	}

	job := &models.Job{
		ScanID:       scan.ID,
		AgentID:      agent.ID,
		SystemPrompt: scan.PromptSnapshot,
	}
	if err := i.queue.Enqueue(ctx, job); err != nil {
		metrics.RecordInitiation("error")
		logging.WithScan(i.logger, scan.ID, agentID).WithError(err).Error("Failed to enqueue scan job")
		return nil, fmt.Errorf("failed to enqueue scan %s: %w", scan.ID, err)
	}

	if i.dedup != nil {
		i.dedup.Remember(agent.ID, agent.SystemPrompt, scan.ID)
	}

	metrics.RecordInitiation("accepted")
	logging.WithScan(i.logger, scan.ID, agentID).Info("Scan initiated")

	return scan, nil
}

// findDuplicate returns a recent non-terminal scan of the same prompt, if any
func (i *Initiator) findDuplicate(ctx context.Context, agent *models.Agent) *models.Scan {
	if i.dedup == nil {
		return nil
	}

	scanID, ok := i.dedup.Lookup(agent.ID, agent.SystemPrompt)
	if !ok {
		return nil
	}

	scan, err := i.scans.Get(ctx, scanID)
	if err != nil || scan.Status.IsTerminal() {
		// Stale entry: drop it so the next lookup misses
		i.dedup.Forget(agent.ID, agent.SystemPrompt)
		return nil
	}
	return scan
}
