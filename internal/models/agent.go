package models

import "time"

// Agent is an AI agent whose system prompt can be scanned.
// Agents are managed by the API tier; the scan pipeline only reads them.
type Agent struct {
	ID           string    `gorm:"primaryKey;size:64" json:"id"`
	OwnerID      string    `gorm:"index;size:64" json:"owner_id"`
	Name         string    `gorm:"size:255;not null" json:"name"`
	SystemPrompt string    `gorm:"type:text" json:"system_prompt"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TableName pins the table name
func (Agent) TableName() string {
	return "agents"
}
