// Package pipeline connects scan initiation, the job queue and per-job
// processing around the scan state machine.
package pipeline

import (
	"context"

	"github.com/agentguard/prompt-scanner/internal/models"
)

// AgentDirectory resolves agents by id
type AgentDirectory interface {
	GetAgent(ctx context.Context, agentID string) (*models.Agent, error)
}

// ScanRepository is the subset of the scan store used by the pipeline
type ScanRepository interface {
	Create(ctx context.Context, agentID, promptSnapshot string) (*models.Scan, error)
	Get(ctx context.Context, scanID string) (*models.Scan, error)
	TransitionToProcessing(ctx context.Context, scanID string) error
	Complete(ctx context.Context, scanID string, result *models.ScanResult) error
	Fail(ctx context.Context, scanID, message string) error
}

// JobPublisher hands jobs to the worker tier
type JobPublisher interface {
	Enqueue(ctx context.Context, job *models.Job) error
}

// PromptAnalyzer assesses a system prompt
type PromptAnalyzer interface {
	Analyze(ctx context.Context, systemPrompt string) (*models.ScanResult, error)
}

// Deduplicator remembers recent initiations per agent and prompt
type Deduplicator interface {
	Lookup(agentID, prompt string) (string, bool)
	Remember(agentID, prompt, scanID string)
	Forget(agentID, prompt string)
}
