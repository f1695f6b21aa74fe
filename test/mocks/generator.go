package mocks

import (
	"context"
	"sync"
)

// Generator is an in-process generation backend with scripted replies
type Generator struct {
	mu      sync.Mutex
	Reply   string
	Err     error
	Panic   interface{}
	prompts []string

	// Block, when set, holds every call until it is closed or ctx ends
	Block chan struct{}
}

// Generate records prompt and returns the scripted reply or error
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	reply, err, p, block := g.Reply, g.Err, g.Panic, g.Block
	g.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if p != nil {
		panic(p)
	}
	if err != nil {
		return "", err
	}
	return reply, nil
}

// Type returns the backend identifier
func (g *Generator) Type() string {
	return "mock"
}

// ValidateConfig always succeeds
func (g *Generator) ValidateConfig() error {
	return nil
}

// Calls returns the number of Generate calls
func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

// Prompts returns every prompt received
func (g *Generator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string{}, g.prompts...)
}

// SetReply replaces the scripted reply
func (g *Generator) SetReply(reply string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Reply = reply
}
