package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/agentguard/prompt-scanner/internal/models"
	"github.com/agentguard/prompt-scanner/pkg/auth"
	"github.com/agentguard/prompt-scanner/pkg/snapshot"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// InitiateResponse is the body of an accepted scan request
type InitiateResponse struct {
	ScanID  string            `json:"scanId"`
	Status  models.ScanStatus `json:"status"`
	Message string            `json:"message"`
}

// ScanListResponse is the body of a scan history request
type ScanListResponse struct {
	Scans []*models.ScanResource `json:"scans"`
}

func (s *Server) handleInitiateScan(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentId"]
	owner := auth.OwnerFromContext(r.Context())

	scan, err := s.deps.Initiator.InitiateScan(r.Context(), owner, agentID)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, InitiateResponse{
		ScanID:  scan.ID,
		Status:  scan.Status,
		Message: "Scan queued; poll the scan for results",
	})
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentId"]
	owner := auth.OwnerFromContext(r.Context())

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			writeError(w, s.logger, r, &models.ValidationError{Field: "limit", Message: "must be an integer between 1 and 100"})
			return
		}
		limit = n
	}

	agent, err := s.ownedAgent(r.Context(), owner, agentID)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}

	scans, err := s.deps.Scans.ListByAgent(r.Context(), agent.ID, limit)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}

	resp := ScanListResponse{Scans: make([]*models.ScanResource, 0, len(scans))}
	for _, scan := range scans {
		resp.Scans = append(resp.Scans, models.NewScanResource(scan, agent.Name))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	scan, agent, err := s.ownedScan(r.Context(), auth.OwnerFromContext(r.Context()), mux.Vars(r)["scanId"])
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.NewScanResource(scan, agentName(agent)))
}

func (s *Server) handleRemediate(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Remediator.Remediate(r.Context(), auth.OwnerFromContext(r.Context()), mux.Vars(r)["scanId"])
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	owner := auth.OwnerFromContext(r.Context())

	baseID := r.URL.Query().Get("base")
	if baseID == "" {
		writeError(w, s.logger, r, &models.ValidationError{Field: "base", Message: "required"})
		return
	}

	head, _, err := s.ownedScan(r.Context(), owner, mux.Vars(r)["scanId"])
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}

	base, _, err := s.ownedScan(r.Context(), owner, baseID)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}

	diff, err := snapshot.Compare(base, head)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, diff)
}

// ownedAgent loads an agent, reporting agents of other owners as missing
func (s *Server) ownedAgent(ctx context.Context, owner, agentID string) (*models.Agent, error) {
	agent, err := s.deps.Agents.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if owner != "" && agent.OwnerID != owner {
		return nil, models.NewNotFound("agent", agentID)
	}
	return agent, nil
}

// ownedScan loads a scan and its agent, reporting scans of other owners as missing.
// The agent is nil when it no longer exists and no owner is enforced.
func (s *Server) ownedScan(ctx context.Context, owner, scanID string) (*models.Scan, *models.Agent, error) {
	scan, err := s.deps.Scans.Get(ctx, scanID)
	if err != nil {
		return nil, nil, err
	}

	agent, err := s.deps.Agents.GetAgent(ctx, scan.AgentID)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrNotFound) && owner == "":
		return scan, nil, nil
	case errors.Is(err, models.ErrNotFound):
		return nil, nil, models.NewNotFound("scan", scanID)
	default:
		return nil, nil, err
	}

	if owner != "" && agent.OwnerID != owner {
		return nil, nil, models.NewNotFound("scan", scanID)
	}
	return scan, agent, nil
}

func agentName(agent *models.Agent) string {
	if agent == nil {
		return ""
	}
	return agent.Name
}
