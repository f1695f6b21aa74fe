// Package generation provides text-generation backends used by the analyzer
// and the remediation engine.
package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentguard/prompt-scanner/pkg/config"
)

// Generator produces a text completion for a single prompt
type Generator interface {
	// Generate sends prompt to the model and returns its text reply
	Generate(ctx context.Context, prompt string) (string, error)

	// Type returns the backend identifier ("openai" or "gemini")
	Type() string

	// ValidateConfig validates that the backend is properly configured
	ValidateConfig() error
}

// New creates the generation backend selected by configuration
func New(cfg config.GenerationConfig, logger *logrus.Logger) (Generator, error) {
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil || cfg.Timeout == "" {
		timeout = 120 * time.Second
	}

	logger.WithFields(logrus.Fields{
		"generation_type": cfg.Type,
		"model":           cfg.Model,
	}).Debug("Creating generation backend")

	var gen Generator

	switch cfg.Type {
	case config.GenerationTypeOpenAI:
		gen = NewOpenAI(cfg, timeout, logger)

	case config.GenerationTypeGemini:
		gen = NewGemini(cfg, timeout, logger)

	default:
		return nil, fmt.Errorf("unsupported generation type: %s", cfg.Type)
	}

	if err := gen.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("generation validation failed for type %s: %w", cfg.Type, err)
	}

	logger.WithFields(logrus.Fields{
		"generation_type": gen.Type(),
		"model":           cfg.Model,
	}).Info("Generation backend created and validated")

	return gen, nil
}
