package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentguard/prompt-scanner/pkg/config"
)

const (
	DefaultGeminiURL       = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel     = "gemini-1.5-flash"
	GeminiGenerateEndpoint = "/v1beta/models/%s:generateContent"
	HeaderGoogleAPIKey     = "x-goog-api-key"
)

// Gemini calls the Gemini generateContent endpoint
type Gemini struct {
	cfg    config.GenerationConfig
	http   *httpClient
	logger *logrus.Logger
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

// NewGemini creates a Gemini backend
func NewGemini(cfg config.GenerationConfig, timeout time.Duration, logger *logrus.Logger) *Gemini {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultGeminiURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	return &Gemini{
		cfg:    cfg,
		http:   newHTTPClient(string(config.GenerationTypeGemini), timeout, logger),
		logger: logger,
	}
}

// Generate sends prompt as a single user turn and joins the text parts of the first candidate
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	var req geminiRequest
	req.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}}
	req.GenerationConfig.Temperature = g.cfg.Temperature

	var resp geminiResponse
	url := strings.TrimRight(g.cfg.APIURL, "/") + fmt.Sprintf(GeminiGenerateEndpoint, g.cfg.Model)
	headers := map[string]string{HeaderGoogleAPIKey: g.cfg.APIKey}

	if err := g.http.postJSON(ctx, url, headers, req, &resp); err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

// Type returns the backend identifier
func (g *Gemini) Type() string {
	return string(config.GenerationTypeGemini)
}

// ValidateConfig checks the API key is set
func (g *Gemini) ValidateConfig() error {
	if g.cfg.APIKey == "" {
		return &ConfigurationError{Field: "generation.api_key", Message: "required for gemini backend"}
	}
	return nil
}
