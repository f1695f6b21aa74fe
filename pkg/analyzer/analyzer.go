// Package analyzer turns a system prompt into a scored vulnerability report
// using a text-generation backend.
package analyzer

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentguard/prompt-scanner/internal/models"
	"github.com/agentguard/prompt-scanner/pkg/generation"
)

// Analyzer runs one generation call per prompt and validates the reply.
// It has no side effects beyond the model call.
type Analyzer struct {
	gen    generation.Generator
	logger *logrus.Logger
}

// New creates an analyzer backed by gen
func New(gen generation.Generator, logger *logrus.Logger) *Analyzer {
	return &Analyzer{gen: gen, logger: logger}
}

// Analyze assesses systemPrompt. Every failure is returned as *models.AnalysisError.
func (a *Analyzer) Analyze(ctx context.Context, systemPrompt string) (*models.ScanResult, error) {
	start := time.Now()

	raw, err := a.gen.Generate(ctx, BuildInstruction(systemPrompt))
	if err != nil {
		return nil, &models.AnalysisError{Stage: models.StageGenerate, Err: err}
	}

	result, err := ParseResult(raw)
	if err != nil {
		a.logger.WithFields(logrus.Fields{
			"backend":      a.gen.Type(),
			"output_bytes": len(raw),
			"error":        err.Error(),
		}).Warn("Model output rejected")
		return nil, err
	}

	a.logger.WithFields(logrus.Fields{
		"backend":         a.gen.Type(),
		"security_score":  result.SecurityScore,
		"vulnerabilities": len(result.Vulnerabilities),
		"duration":        time.Since(start).Seconds(),
	}).Debug("Prompt analyzed")

	return result, nil
}
