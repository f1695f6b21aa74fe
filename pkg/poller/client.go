package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentguard/prompt-scanner/internal/models"
	"github.com/agentguard/prompt-scanner/pkg/api"
)

// maxErrorBody bounds how much of an error reply is read
const maxErrorBody = 4096

// APIClient talks to the promptguard HTTP API
type APIClient struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *logrus.Logger
}

// NewAPIClient creates a client for the API at baseURL. An empty token
// sends no Authorization header.
func NewAPIClient(baseURL, token string, timeout time.Duration, logger *logrus.Logger) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// InitiateScan queues a scan for agentID
func (c *APIClient) InitiateScan(ctx context.Context, agentID string) (*api.InitiateResponse, error) {
	var out api.InitiateResponse
	path := "/api/agents/" + url.PathEscape(agentID) + "/scans"
	if err := c.do(ctx, http.MethodPost, path, "agent", agentID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetScan fetches the current view of a scan
func (c *APIClient) GetScan(ctx context.Context, scanID string) (*models.ScanResource, error) {
	var out models.ScanResource
	path := "/api/scans/" + url.PathEscape(scanID)
	if err := c.do(ctx, http.MethodGet, path, "scan", scanID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) do(ctx context.Context, method, path, kind, id string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status_code": resp.StatusCode,
	}).Debug("API response")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}

	msg := readErrorMessage(resp.Body)
	switch resp.StatusCode {
	case http.StatusNotFound:
		return models.NewNotFound(kind, id)
	case http.StatusConflict:
		return models.NewInvalidState("%s", msg)
	case http.StatusBadRequest:
		return &models.ValidationError{Field: kind, Message: msg}
	default:
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, msg)
	}
}

func readErrorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}
