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

// ScanStore reads and writes scan records.
// Status changes are conditional updates so concurrent writers cannot
// move a scan through an invalid transition.
type ScanStore struct {
	db *gorm.DB
}

// NewScanStore creates a scan store on db
func NewScanStore(db *gorm.DB) *ScanStore {
	return &ScanStore{db: db}
}

// Create inserts a pending scan for agentID holding a copy of the prompt
func (s *ScanStore) Create(ctx context.Context, agentID, promptSnapshot string) (*models.Scan, error) {
	scan := &models.Scan{
		ID:             uuid.NewString(),
		AgentID:        agentID,
		Status:         models.ScanStatusPending,
		PromptSnapshot: promptSnapshot,
	}

	if err := s.db.WithContext(ctx).Create(scan).Error; err != nil {
		return nil, fmt.Errorf("failed to create scan: %w", err)
	}
	return scan, nil
}

// Get returns the scan with the given id
func (s *ScanStore) Get(ctx context.Context, scanID string) (*models.Scan, error) {
	var scan models.Scan
	err := s.db.WithContext(ctx).Where("id = ?", scanID).First(&scan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFound("scan", scanID)
		}
		return nil, fmt.Errorf("failed to get scan %s: %w", scanID, err)
	}
	return &scan, nil
}

// ListByAgent returns the most recent scans of an agent, newest first
func (s *ScanStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]*models.Scan, error) {
	var scans []*models.Scan
	q := s.db.WithContext(ctx).Where("agent_id = ?", agentID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&scans).Error; err != nil {
		return nil, fmt.Errorf("failed to list scans for agent %s: %w", agentID, err)
	}
	return scans, nil
}

// TransitionToProcessing moves a pending scan to processing
func (s *ScanStore) TransitionToProcessing(ctx context.Context, scanID string) error {
	return s.transition(ctx, scanID, models.ScanStatusPending, &models.Scan{
		Status: models.ScanStatusProcessing,
	}, "status")
}

// Complete records a successful analysis on a processing scan
func (s *ScanStore) Complete(ctx context.Context, scanID string, result *models.ScanResult) error {
	score := result.SecurityScore
	return s.transition(ctx, scanID, models.ScanStatusProcessing, &models.Scan{
		Status:            models.ScanStatusCompleted,
		SecurityScore:     &score,
		Vulnerabilities:   result.Vulnerabilities,
		AttackSimulations: result.AttackSimulations,
		RemediationSteps:  result.RemediationSteps,
		ErrorMessage:      nil,
	}, "status", "security_score", "vulnerabilities", "attack_simulations", "remediation_steps", "error_message")
}

// Fail marks a processing scan failed with message and clears any findings
func (s *ScanStore) Fail(ctx context.Context, scanID, message string) error {
	return s.transition(ctx, scanID, models.ScanStatusProcessing, &models.Scan{
		Status:       models.ScanStatusFailed,
		ErrorMessage: &message,
	}, "status", "security_score", "vulnerabilities", "attack_simulations", "remediation_steps", "error_message")
}

// transition applies values to the selected columns only if the scan is
// currently in from. Selected columns are written even when zero or nil.
func (s *ScanStore) transition(ctx context.Context, scanID string, from models.ScanStatus, values *models.Scan, columns ...string) error {
	values.UpdatedAt = time.Now()
	columns = append(columns, "updated_at")

	result := s.db.WithContext(ctx).Model(&models.Scan{}).
		Where("id = ? AND status = ?", scanID, from).
		Select(columns).
		Updates(values)

	if result.Error != nil {
		return fmt.Errorf("failed to update scan %s: %w", scanID, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	current, err := s.Get(ctx, scanID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: scan %s is %s, expected %s", models.ErrStateConflict, scanID, current.Status, from)
}
