package models

import (
	"sort"
	"time"
)

// ScanStatus represents the lifecycle state of a scan
type ScanStatus string

const (
	ScanStatusPending    ScanStatus = "pending"
	ScanStatusProcessing ScanStatus = "processing"
	ScanStatusCompleted  ScanStatus = "completed"
	ScanStatusFailed     ScanStatus = "failed"
)

// IsTerminal returns true if the scan has reached a terminal state
func (s ScanStatus) IsTerminal() bool {
	return s == ScanStatusCompleted || s == ScanStatusFailed
}

// Valid reports whether s is one of the known statuses
func (s ScanStatus) Valid() bool {
	switch s {
	case ScanStatusPending, ScanStatusProcessing, ScanStatusCompleted, ScanStatusFailed:
		return true
	}
	return false
}

// VulnerabilityType is the attack taxonomy used by the analyzer
type VulnerabilityType string

const (
	VulnPromptInjection  VulnerabilityType = "prompt_injection"
	VulnJailbreak        VulnerabilityType = "jailbreak"
	VulnDataLeakage      VulnerabilityType = "data_leakage"
	VulnContextSmuggling VulnerabilityType = "context_smuggling"
)

// Valid reports whether t is part of the taxonomy
func (t VulnerabilityType) Valid() bool {
	switch t {
	case VulnPromptInjection, VulnJailbreak, VulnDataLeakage, VulnContextSmuggling:
		return true
	}
	return false
}

// Severity of a vulnerability
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Vulnerability is a single weakness found in a system prompt
type Vulnerability struct {
	Type           VulnerabilityType `json:"type"`
	Severity       Severity          `json:"severity"`
	Location       string            `json:"location"`
	Description    string            `json:"description"`
	ExploitExample string            `json:"exploit_example"`
}

// AttackSimulation describes a simulated attack against the prompt
type AttackSimulation struct {
	AttackType      string `json:"attack_type"`
	Payload         string `json:"payload"`
	ExpectedOutcome string `json:"expected_outcome"`
	Mitigation      string `json:"mitigation"`
}

// RemediationStep is a prioritized fix; priority 1 is the highest
type RemediationStep struct {
	Priority       int    `json:"priority"`
	Category       string `json:"category"`
	Action         string `json:"action"`
	Implementation string `json:"implementation"`
}

// ScanResult is the validated output of the analyzer
type ScanResult struct {
	SecurityScore     int                `json:"security_score"`
	Vulnerabilities   []Vulnerability    `json:"vulnerabilities"`
	AttackSimulations []AttackSimulation `json:"attack_simulations"`
	RemediationSteps  []RemediationStep  `json:"remediation_steps"`
}

// Scan is one security assessment of a prompt snapshot.
// Score and findings are set only when completed, ErrorMessage only when failed.
type Scan struct {
	ID                string             `gorm:"primaryKey;size:36" json:"id"`
	AgentID           string             `gorm:"index;size:64;not null" json:"agent_id"`
	Status            ScanStatus         `gorm:"index;size:16;not null" json:"status"`
	PromptSnapshot    string             `gorm:"type:text;not null" json:"prompt_snapshot"`
	SecurityScore     *int               `json:"security_score"`
	Vulnerabilities   []Vulnerability    `gorm:"serializer:json" json:"vulnerabilities"`
	AttackSimulations []AttackSimulation `gorm:"serializer:json" json:"attack_simulations"`
	RemediationSteps  []RemediationStep  `gorm:"serializer:json" json:"remediation_steps"`
	ErrorMessage      *string            `gorm:"type:text" json:"error_message"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

// TableName pins the table name
func (Scan) TableName() string {
	return "scans"
}

// Job is the queue message that triggers worker-side processing of a scan
type Job struct {
	ScanID       string `json:"scanId"`
	AgentID      string `json:"agentId"`
	SystemPrompt string `json:"systemPrompt"`
}

// Validate checks that a dequeued job carries what the worker needs
func (j *Job) Validate() error {
	if j.ScanID == "" {
		return &ValidationError{Field: "scanId", Message: "required"}
	}
	if j.SystemPrompt == "" {
		return &ValidationError{Field: "systemPrompt", Message: "required"}
	}
	return nil
}

// ScanResource is the scan representation returned to API clients
type ScanResource struct {
	ID                string             `json:"id"`
	Status            ScanStatus         `json:"status"`
	SecurityScore     *int               `json:"security_score"`
	Vulnerabilities   []Vulnerability    `json:"vulnerabilities"`
	AttackSimulations []AttackSimulation `json:"attack_simulations"`
	RemediationSteps  []RemediationStep  `json:"remediation_steps"`
	ErrorMessage      *string            `json:"error_message"`
	AgentName         string             `json:"agent_name"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

// NewScanResource builds the client view of a scan. Remediation steps are
// returned sorted by priority since producers do not guarantee an order.
func NewScanResource(scan *Scan, agentName string) *ScanResource {
	res := &ScanResource{
		ID:            scan.ID,
		Status:        scan.Status,
		SecurityScore: scan.SecurityScore,
		ErrorMessage:  scan.ErrorMessage,
		AgentName:     agentName,
		CreatedAt:     scan.CreatedAt,
		UpdatedAt:     scan.UpdatedAt,
	}

	if scan.Status == ScanStatusCompleted {
		res.Vulnerabilities = nonNil(scan.Vulnerabilities)
		res.AttackSimulations = nonNil(scan.AttackSimulations)
		res.RemediationSteps = SortedRemediationSteps(scan.RemediationSteps)
	}

	return res
}

// SortedRemediationSteps returns a copy of steps ordered by priority ascending
func SortedRemediationSteps(steps []RemediationStep) []RemediationStep {
	sorted := make([]RemediationStep, len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return sorted
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
