package generation

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentguard/prompt-scanner/pkg/config"
)

const (
	DefaultOpenAIURL   = "https://api.openai.com"
	DefaultOpenAIModel = "gpt-4o-mini"
	OpenAIChatEndpoint = "/v1/chat/completions"
)

// OpenAI calls an OpenAI-compatible chat completions endpoint
type OpenAI struct {
	cfg    config.GenerationConfig
	http   *httpClient
	logger *logrus.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// NewOpenAI creates an OpenAI-compatible backend
func NewOpenAI(cfg config.GenerationConfig, timeout time.Duration, logger *logrus.Logger) *OpenAI {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultOpenAIURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	return &OpenAI{
		cfg:    cfg,
		http:   newHTTPClient(string(config.GenerationTypeOpenAI), timeout, logger),
		logger: logger,
	}
}

// Generate sends prompt as a single user message
func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model:       o.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: o.cfg.Temperature,
	}

	var resp chatResponse
	url := strings.TrimRight(o.cfg.APIURL, "/") + OpenAIChatEndpoint
	headers := map[string]string{HeaderAuthorization: "Bearer " + o.cfg.APIKey}

	if err := o.http.postJSON(ctx, url, headers, req, &resp); err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// Type returns the backend identifier
func (o *OpenAI) Type() string {
	return string(config.GenerationTypeOpenAI)
}

// ValidateConfig checks the API key is set
func (o *OpenAI) ValidateConfig() error {
	if o.cfg.APIKey == "" {
		return &ConfigurationError{Field: "generation.api_key", Message: "required for openai backend"}
	}
	return nil
}
