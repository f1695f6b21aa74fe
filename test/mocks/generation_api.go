package mocks

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockGenerationAPI serves OpenAI chat completions and Gemini generateContent
// requests with scripted replies
type MockGenerationAPI struct {
	Server   *httptest.Server
	mu       sync.Mutex
	callLog  []APICall
	behavior APIBehavior
}

// APICall logs API calls for verification
type APICall struct {
	Method   string
	Path     string
	Prompt   string
	Time     time.Time
	Response int
}

// APIBehavior controls mock API behavior
type APIBehavior struct {
	// Reply is returned as the model text when Replies is exhausted
	Reply string

	// Replies are returned in order, one per call
	Replies []string

	// ReplyFunc computes the reply from the prompt when set
	ReplyFunc func(prompt string) string

	// Status overrides the response status code (0 = success)
	Status int

	// Delay is added before every response
	Delay time.Duration
}

// NewMockGenerationAPI creates a new mock API server
func NewMockGenerationAPI() *MockGenerationAPI {
	mock := &MockGenerationAPI{
		callLog: make([]APICall, 0),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", mock.handleChatCompletion)
	mux.HandleFunc("/v1beta/models/", mock.handleGenerateContent)

	mock.Server = httptest.NewServer(mux)
	return mock
}

// Close stops the mock server
func (m *MockGenerationAPI) Close() {
	m.Server.Close()
}

// URL returns the mock server URL
func (m *MockGenerationAPI) URL() string {
	return m.Server.URL
}

// GetCallLog returns all API calls made
func (m *MockGenerationAPI) GetCallLog() []APICall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]APICall{}, m.callLog...)
}

// CallCount returns the number of generation calls served
func (m *MockGenerationAPI) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.callLog)
}

// SetBehavior configures mock API behavior
func (m *MockGenerationAPI) SetBehavior(behavior APIBehavior) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.behavior = behavior
}

// Reset clears the call log and behavior
func (m *MockGenerationAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callLog = make([]APICall, 0)
	m.behavior = APIBehavior{}
}

// next records the call and returns the status and reply to serve
func (m *MockGenerationAPI) next(r *http.Request, prompt string) (int, string, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := http.StatusOK
	if m.behavior.Status > 0 {
		status = m.behavior.Status
	}

	var reply string
	switch {
	case m.behavior.ReplyFunc != nil:
		reply = m.behavior.ReplyFunc(prompt)
	case len(m.behavior.Replies) > 0:
		reply = m.behavior.Replies[0]
		m.behavior.Replies = m.behavior.Replies[1:]
	default:
		reply = m.behavior.Reply
	}

	m.callLog = append(m.callLog, APICall{
		Method:   r.Method,
		Path:     r.URL.Path,
		Prompt:   prompt,
		Time:     time.Now(),
		Response: status,
	})

	return status, reply, m.behavior.Delay
}

func (m *MockGenerationAPI) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	status, reply, delay := m.next(r, req.Messages[len(req.Messages)-1].Content)
	if delay > 0 {
		time.Sleep(delay)
	}

	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": http.StatusText(status)},
		})
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": reply}},
		},
	})
}

func (m *MockGenerationAPI) handleGenerateContent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, ":generateContent") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	var req struct {
		Contents []struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Contents) == 0 || len(req.Contents[0].Parts) == 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	status, reply, delay := m.next(r, req.Contents[0].Parts[0].Text)
	if delay > 0 {
		time.Sleep(delay)
	}

	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": http.StatusText(status)},
		})
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"candidates": []map[string]interface{}{
			{
				"content":      map[string]interface{}{"role": "model", "parts": []map[string]string{{"text": reply}}},
				"finishReason": "STOP",
			},
		},
	})
}
