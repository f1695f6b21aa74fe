package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agentguard/prompt-scanner/internal/models"
)

// AgentStore reads agent records
type AgentStore struct {
	db *gorm.DB
}

// NewAgentStore creates an agent store on db
func NewAgentStore(db *gorm.DB) *AgentStore {
	return &AgentStore{db: db}
}

// GetAgent returns the agent with the given id
func (s *AgentStore) GetAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	var agent models.Agent
	err := s.db.WithContext(ctx).Where("id = ?", agentID).First(&agent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFound("agent", agentID)
		}
		return nil, fmt.Errorf("failed to get agent %s: %w", agentID, err)
	}
	return &agent, nil
}

// CreateAgent inserts an agent, generating an id if none is set
func (s *AgentStore) CreateAgent(ctx context.Context, agent *models.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(agent).Error; err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

// UpdatePrompt replaces an agent's current system prompt
func (s *AgentStore) UpdatePrompt(ctx context.Context, agentID, prompt string) error {
	result := s.db.WithContext(ctx).Model(&models.Agent{}).
		Where("id = ?", agentID).
		Updates(map[string]interface{}{
			"system_prompt": prompt,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update agent %s: %w", agentID, result.Error)
	}
	if result.RowsAffected == 0 {
		return models.NewNotFound("agent", agentID)
	}
	return nil
}
