package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentguard/prompt-scanner/internal/models"
)

const (
	MinScore = 1
	MaxScore = 100
)

// rawResult mirrors ScanResult with pointers so missing keys can be told
// apart from empty values
type rawResult struct {
	SecurityScore     *int                       `json:"security_score"`
	Vulnerabilities   *[]models.Vulnerability    `json:"vulnerabilities"`
	AttackSimulations *[]models.AttackSimulation `json:"attack_simulations"`
	RemediationSteps  *[]models.RemediationStep  `json:"remediation_steps"`
}

// stripCodeFence removes a leading ```json or ``` marker and a trailing ``` marker
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		s = s[3:]
		if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
			s = s[4:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}

	return strings.TrimSpace(s)
}

// ParseResult decodes and validates raw model output into a ScanResult
func ParseResult(raw string) (*models.ScanResult, error) {
	body := stripCodeFence(raw)
	if body == "" {
		return nil, &models.AnalysisError{Stage: models.StageParse, Err: fmt.Errorf("empty model output")}
	}

	var r rawResult
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, &models.AnalysisError{Stage: models.StageParse, Err: fmt.Errorf("model output is not valid JSON: %w", err)}
	}

	if err := r.validate(); err != nil {
		return nil, &models.AnalysisError{Stage: models.StageValidate, Err: err}
	}

	return &models.ScanResult{
		SecurityScore:     *r.SecurityScore,
		Vulnerabilities:   *r.Vulnerabilities,
		AttackSimulations: *r.AttackSimulations,
		RemediationSteps:  *r.RemediationSteps,
	}, nil
}

func (r *rawResult) validate() error {
	switch {
	case r.SecurityScore == nil:
		return missingField("security_score")
	case r.Vulnerabilities == nil:
		return missingField("vulnerabilities")
	case r.AttackSimulations == nil:
		return missingField("attack_simulations")
	case r.RemediationSteps == nil:
		return missingField("remediation_steps")
	}

	if *r.SecurityScore < MinScore || *r.SecurityScore > MaxScore {
		return fmt.Errorf("security_score %d out of range [%d,%d]", *r.SecurityScore, MinScore, MaxScore)
	}

	for i, v := range *r.Vulnerabilities {
		if !v.Type.Valid() {
			return fmt.Errorf("vulnerabilities[%d]: unknown type %q", i, v.Type)
		}
		if !v.Severity.Valid() {
			return fmt.Errorf("vulnerabilities[%d]: unknown severity %q", i, v.Severity)
		}
	}

	for i, s := range *r.RemediationSteps {
		if s.Priority < 1 {
			return fmt.Errorf("remediation_steps[%d]: priority must be >= 1, got %d", i, s.Priority)
		}
	}

	return nil
}

func missingField(name string) error {
	return fmt.Errorf("missing required field %s", name)
}
