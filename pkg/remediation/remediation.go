// Package remediation rewrites an agent's prompt defensively from the
// findings of a completed scan.
package remediation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/agentguard/prompt-scanner/internal/models"
	"github.com/agentguard/prompt-scanner/pkg/generation"
	"github.com/agentguard/prompt-scanner/pkg/logging"
	"github.com/agentguard/prompt-scanner/pkg/metrics"
)

// ScanReader loads scans by id
type ScanReader interface {
	Get(ctx context.Context, scanID string) (*models.Scan, error)
}

// AgentDirectory resolves agents by id
type AgentDirectory interface {
	GetAgent(ctx context.Context, agentID string) (*models.Agent, error)
}

// Result is the ephemeral outcome of a remediation; it is never persisted
type Result struct {
	OriginalPrompt           string `json:"original_prompt"`
	HardenedPrompt           string `json:"hardened_prompt"`
	VulnerabilitiesAddressed int    `json:"vulnerabilities_addressed"`
}

// Engine performs one synchronous generation call per request
type Engine struct {
	scans  ScanReader
	agents AgentDirectory
	gen    generation.Generator
	logger *logrus.Logger
}

// New creates a remediation engine
func New(scans ScanReader, agents AgentDirectory, gen generation.Generator, logger *logrus.Logger) *Engine {
	return &Engine{
		scans:  scans,
		agents: agents,
		gen:    gen,
		logger: logger,
	}
}

// Remediate hardens the agent's current prompt using the findings of a completed scan.
// ownerID, when non-empty, must own the scan's agent.
func (e *Engine) Remediate(ctx context.Context, ownerID, scanID string) (*Result, error) {
	scan, err := e.scans.Get(ctx, scanID)
	if err != nil {
		metrics.RecordRemediation("rejected")
		return nil, err
	}

	agent, err := e.agents.GetAgent(ctx, scan.AgentID)
	if err != nil {
		metrics.RecordRemediation("rejected")
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.NewNotFound("scan", scanID)
		}
		return nil, err
	}
	if ownerID != "" && agent.OwnerID != ownerID {
		metrics.RecordRemediation("rejected")
		return nil, models.NewNotFound("scan", scanID)
	}

	if scan.Status != models.ScanStatusCompleted {
		metrics.RecordRemediation("rejected")
		return nil, models.NewInvalidState("scan %s is %s, remediation requires a completed scan", scanID, scan.Status)
	}

	originalPrompt := agent.SystemPrompt
	if strings.TrimSpace(originalPrompt) == "" {
		metrics.RecordRemediation("rejected")
		return nil, models.NewInvalidState("agent %s has no system prompt configured", agent.ID)
	}

	logger := logging.WithScan(e.logger, scanID, agent.ID)
	logger.WithField("prompt_length", len(originalPrompt)).Info("Generating hardened prompt")

	raw, err := e.gen.Generate(ctx, BuildInstruction(originalPrompt, scan))
	if err != nil {
		metrics.RecordRemediation("error")
		logger.WithError(err).Error("Remediation generation failed")
		return nil, fmt.Errorf("remediation generation failed: %w", err)
	}

	hardened := strings.TrimSpace(raw)
	if hardened == "" {
		logger.Warn("Model returned an empty hardened prompt")
	}

	metrics.RecordRemediation("success")
	logger.WithField("hardened_length", len(hardened)).Info("Hardened prompt generated")

	return &Result{
		OriginalPrompt:           originalPrompt,
		HardenedPrompt:           hardened,
		VulnerabilitiesAddressed: len(scan.Vulnerabilities),
	}, nil
}
