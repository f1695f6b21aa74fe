package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentguard/prompt-scanner/pkg/metrics"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"
	ContentTypeJSON     = "application/json"

	// maxErrorBody bounds how much of an error reply is kept in messages
	maxErrorBody = 512
)

// httpClient posts JSON to a generation endpoint and decodes the reply
type httpClient struct {
	client  *http.Client
	backend string
	logger  *logrus.Logger
}

func newHTTPClient(backend string, timeout time.Duration, logger *logrus.Logger) *httpClient {
	return &httpClient{
		client:  &http.Client{Timeout: timeout},
		backend: backend,
		logger:  logger,
	}
}

// postJSON sends in as a JSON body to url with headers and decodes a 2xx reply into out
func (c *httpClient) postJSON(ctx context.Context, url string, headers map[string]string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(HeaderContentType, ContentTypeJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	c.logger.WithFields(logrus.Fields{
		"backend": c.backend,
		"url":     redactURL(url),
	}).Debug("Sending generation request")

	startTime := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(startTime).Seconds()

	if err != nil {
		metrics.RecordGenerationAPIDuration(c.backend, 0, duration)
		return &NetworkError{Operation: "generate", Err: err}
	}
	defer resp.Body.Close()

	metrics.RecordGenerationAPIDuration(c.backend, resp.StatusCode, duration)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return NewAPIError(resp.StatusCode, errorMessage(data))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", c.backend, err)
	}
	return nil
}

// errorMessage extracts {"error":{"message":...}} when present, else the raw body
func errorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "empty response body"
	}
	return msg
}

// redactURL drops the query string, which may carry an API key
func redactURL(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}
