package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentguard/prompt-scanner/internal/models"
	"github.com/agentguard/prompt-scanner/pkg/auth"
	"github.com/agentguard/prompt-scanner/pkg/config"
	"github.com/agentguard/prompt-scanner/pkg/logging"
	"github.com/agentguard/prompt-scanner/pkg/pipeline"
	"github.com/agentguard/prompt-scanner/pkg/queue"
	"github.com/agentguard/prompt-scanner/pkg/remediation"
	"github.com/agentguard/prompt-scanner/pkg/store"
	"github.com/agentguard/prompt-scanner/test/mocks"
)

type testEnv struct {
	server *Server
	agents *store.AgentStore
	scans  *store.ScanStore
	queue  *queue.MemoryQueue
	gen    *mocks.Generator
}

func newTestEnv(t *testing.T, authCfg config.AuthConfig) *testEnv {
	t.Helper()

	cfg, err := config.Parse(nil)
	require.NoError(t, err)
	cfg.Auth = authCfg

	db, err := store.Open(config.StoreDriverSQLite, ":memory:", logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(db) })

	env := &testEnv{
		agents: store.NewAgentStore(db),
		scans:  store.NewScanStore(db),
		queue:  queue.NewMemoryQueue(10, logging.Discard()),
		gen:    &mocks.Generator{Reply: "Hardened."},
	}

	env.server = NewServer(cfg, Dependencies{
		Initiator:  pipeline.NewInitiator(env.agents, env.scans, env.queue, nil, logging.Discard()),
		Scans:      env.scans,
		Agents:     env.agents,
		Remediator: remediation.New(env.scans, env.agents, env.gen, logging.Discard()),
		Auth:       auth.NewAuthenticator(cfg.Auth, logging.Discard()),
	}, logging.Discard())
	env.server.SetReady(true)

	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) agent(t *testing.T, owner, prompt string) *models.Agent {
	t.Helper()
	a := &models.Agent{OwnerID: owner, Name: "Support Bot", SystemPrompt: prompt}
	require.NoError(t, e.agents.CreateAgent(context.Background(), a))
	return a
}

func (e *testEnv) completedScan(t *testing.T, agentID, prompt string) *models.Scan {
	t.Helper()
	ctx := context.Background()
	scan, err := e.scans.Create(ctx, agentID, prompt)
	require.NoError(t, err)
	require.NoError(t, e.scans.TransitionToProcessing(ctx, scan.ID))
	require.NoError(t, e.scans.Complete(ctx, scan.ID, &models.ScanResult{
		SecurityScore:     70,
		Vulnerabilities:   []models.Vulnerability{{Type: models.VulnJailbreak, Severity: models.SeverityLow}},
		AttackSimulations: []models.AttackSimulation{},
		RemediationSteps: []models.RemediationStep{
			{Priority: 3, Action: "c"},
			{Priority: 1, Action: "a"},
			{Priority: 2, Action: "b"},
		},
	}))
	return scan
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestInitiateScan(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{Type: auth.TypeNone})
	a := env.agent(t, "", "You are a customer service bot.")

	rec := env.do(t, http.MethodPost, "/api/agents/"+a.ID+"/scans", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp InitiateResponse
	decode(t, rec, &resp)
	assert.NotEmpty(t, resp.ScanID)
	assert.Equal(t, models.ScanStatusPending, resp.Status)
	assert.NotEmpty(t, resp.Message)
	assert.Equal(t, 1, env.queue.Depth())
}

func TestInitiateScan_Errors(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{Type: auth.TypeNone})
	empty := env.agent(t, "", "")

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"unknown agent", "/api/agents/missing/scans", http.StatusNotFound},
		{"no prompt", "/api/agents/" + empty.ID + "/scans", http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.path, "")
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body errorResponse
			decode(t, rec, &body)
			assert.NotEmpty(t, body.Error)
		})
	}
	assert.Equal(t, 0, env.queue.Depth())
}

func TestGetScan(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{Type: auth.TypeNone})
	a := env.agent(t, "", "prompt")
	ctx := context.Background()

	pending, err := env.scans.Create(ctx, a.ID, "prompt")
	require.NoError(t, err)

	t.Run("pending has null findings", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/scans/"+pending.ID, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]interface{}
		decode(t, rec, &body)
		assert.Equal(t, "pending", body["status"])
		assert.Equal(t, "Support Bot", body["agent_name"])
		for _, key := range []string{"security_score", "vulnerabilities", "attack_simulations", "remediation_steps", "error_message"} {
			v, ok := body[key]
			assert.True(t, ok, "key %s present", key)
			assert.Nil(t, v, "key %s null", key)
		}
		assert.Contains(t, body, "createdAt")
		assert.Contains(t, body, "updatedAt")
	})

	t.Run("completed sorts remediation steps", func(t *testing.T) {
		done := env.completedScan(t, a.ID, "prompt")
		rec := env.do(t, http.MethodGet, "/api/scans/"+done.ID, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var res models.ScanResource
		decode(t, rec, &res)
		assert.Equal(t, models.ScanStatusCompleted, res.Status)
		require.NotNil(t, res.SecurityScore)
		assert.Equal(t, 70, *res.SecurityScore)
		assert.Nil(t, res.ErrorMessage)
		require.Len(t, res.RemediationSteps, 3)
		assert.Equal(t, []int{1, 2, 3}, []int{
			res.RemediationSteps[0].Priority,
			res.RemediationSteps[1].Priority,
			res.RemediationSteps[2].Priority,
		})
	})

	t.Run("unknown scan", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/scans/missing", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListScans(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{Type: auth.TypeNone})
	a := env.agent(t, "", "prompt")
	for i := 0; i < 3; i++ {
		_, err := env.scans.Create(context.Background(), a.ID, "prompt")
		require.NoError(t, err)
	}

	rec := env.do(t, http.MethodGet, "/api/agents/"+a.ID+"/scans?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ScanListResponse
	decode(t, rec, &resp)
	assert.Len(t, resp.Scans, 2)

	rec = env.do(t, http.MethodGet, "/api/agents/"+a.ID+"/scans?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/agents/missing/scans", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRemediate(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{Type: auth.TypeNone})
	a := env.agent(t, "", "You are a helpful assistant.")
	done := env.completedScan(t, a.ID, a.SystemPrompt)

	rec := env.do(t, http.MethodPost, "/api/scans/"+done.ID+"/remediate", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, "You are a helpful assistant.", body["original_prompt"])
	assert.Equal(t, "Hardened.", body["hardened_prompt"])
	assert.Equal(t, float64(1), body["vulnerabilities_addressed"])
}

func TestRemediate_PendingScan(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{Type: auth.TypeNone})
	a := env.agent(t, "", "prompt")
	pending, err := env.scans.Create(context.Background(), a.ID, "prompt")
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/scans/"+pending.ID+"/remediate", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 0, env.gen.Calls())
}

func TestDiff(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{Type: auth.TypeNone})
	a := env.agent(t, "", "v1")
	other := env.agent(t, "", "x")
	ctx := context.Background()

	base, err := env.scans.Create(ctx, a.ID, "You are a bot.")
	require.NoError(t, err)
	head, err := env.scans.Create(ctx, a.ID, "You are a careful bot.")
	require.NoError(t, err)
	foreign, err := env.scans.Create(ctx, other.ID, "x")
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, fmt.Sprintf("/api/scans/%s/diff?base=%s", head.ID, base.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, true, body["changed"])
	assert.Equal(t, base.ID, body["base_scan_id"])

	rec = env.do(t, http.MethodGet, "/api/scans/"+head.ID+"/diff", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/scans/%s/diff?base=%s", head.ID, foreign.ID), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOwnership(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{
		Type: auth.TypeBearer,
		Tokens: []config.TokenConfig{
			{Owner: "alice", Token: "alice-token"},
			{Owner: "bob", Token: "bob-token"},
		},
	})
	a := env.agent(t, "alice", "prompt")
	done := env.completedScan(t, a.ID, "prompt")

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		wantStatus int
	}{
		{"no token", http.MethodGet, "/api/scans/" + done.ID, "", http.StatusUnauthorized},
		{"owner reads", http.MethodGet, "/api/scans/" + done.ID, "alice-token", http.StatusOK},
		{"other reads", http.MethodGet, "/api/scans/" + done.ID, "bob-token", http.StatusNotFound},
		{"other initiates", http.MethodPost, "/api/agents/" + a.ID + "/scans", "bob-token", http.StatusNotFound},
		{"other lists", http.MethodGet, "/api/agents/" + a.ID + "/scans", "bob-token", http.StatusNotFound},
		{"other remediates", http.MethodPost, "/api/scans/" + done.ID + "/remediate", "bob-token", http.StatusNotFound},
		{"owner initiates", http.MethodPost, "/api/agents/" + a.ID + "/scans", "alice-token", http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.token)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestHealthAndReadiness(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{Type: auth.TypeNone})

	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	env.server.deps.Checks = map[string]ReadinessCheck{
		"queue": func(ctx context.Context) error { return errors.New("connection refused") },
	}
	rec = env.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")

	env.server.SetReady(false)
	rec = env.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}

func TestHealthHandler_ReportsComponentStats(t *testing.T) {
	q := queue.NewMemoryQueue(4, logging.Discard())
	defer q.Close()
	require.NoError(t, q.Enqueue(context.Background(), &models.Job{ScanID: "S1", AgentID: "A1", SystemPrompt: "p"}))

	handler := HealthHandler(map[string]StatsFunc{
		"queue": func() interface{} { return q.Stats() },
	})
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status     string `json:"status"`
		Components struct {
			Queue queue.QueueStats `json:"queue"`
		} `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, 1, body.Components.Queue.Depth)
	assert.Equal(t, 4, body.Components.Queue.Capacity)
	assert.False(t, body.Components.Queue.Closed)
}

func TestHealthHandler_NoStats(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler(nil)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{Type: auth.TypeNone})

	rec := env.do(t, http.MethodGet, "/health", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&models.ValidationError{Field: "x", Message: "y"}, http.StatusBadRequest},
		{models.NewNotFound("scan", "S1"), http.StatusNotFound},
		{models.NewInvalidState("nope"), http.StatusConflict},
		{fmt.Errorf("wrapped: %w", models.ErrStateConflict), http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
