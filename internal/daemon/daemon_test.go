package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outrigger-ai/outrigger/internal/config"
	"github.com/outrigger-ai/outrigger/internal/logger"
	"github.com/outrigger-ai/outrigger/pkg/orchestrator"
	"github.com/outrigger-ai/outrigger/pkg/recommend"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Profiles.Dir = filepath.Join(dir, "profiles")
	cfg.Profiles.Watch = false
	cfg.Recommend.StatePath = filepath.Join(dir, "recommend.db")
	cfg.Providers.Default = "fake"
	cfg.Events.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Queues.Runs.BackoffBase = 10 * time.Millisecond
	cfg.Queues.Runs.BackoffCap = 50 * time.Millisecond
	cfg.Queues.Actions.BackoffBase = 10 * time.Millisecond
	cfg.Queues.Actions.BackoffCap = 50 * time.Millisecond
	return cfg
}

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	return newDaemonFromConfig(t, newTestConfig(t))
}

func newDaemonFromConfig(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)

	d, err := New(cfg, log)
	require.NoError(t, err)
	return d
}

func writeTestProfile(t *testing.T, cfg *config.Config, name, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(cfg.Profiles.Dir, 0o755))
	path := filepath.Join(cfg.Profiles.Dir, name+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func startTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	return startDaemonFromConfig(t, newTestConfig(t))
}

func startDaemonFromConfig(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()

	d := newDaemonFromConfig(t, cfg)
	require.NoError(t, d.Start())
	t.Cleanup(func() {
		assert.NoError(t, d.Stop())
	})
	return d
}

func TestDaemonExecuteRunUnboundStep(t *testing.T) {
	d := startTestDaemon(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	run, err := d.ExecuteRun(ctx, RunRequest{
		TenantID:    "t1",
		WorkspaceID: "w1",
		Objective:   "summarize the quarterly report",
	})
	require.NoError(t, err)

	assert.Equal(t, orchestrator.RunStatusFinished, run.Status)
	require.Len(t, run.Plan, 1)
	assert.Equal(t, orchestrator.StepStatusCompleted, run.Plan[0].Status)
	require.Len(t, run.Output, 1)
	assert.Contains(t, run.Output[0], "summarize the quarterly report")
}

func TestDaemonExecuteRunBoundAction(t *testing.T) {
	d := startTestDaemon(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	run, err := d.ExecuteRun(ctx, RunRequest{
		Objective: "echo a payload",
		Metadata: map[string]interface{}{
			"action": "echo",
			"params": map[string]interface{}{"message": "hello"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, orchestrator.RunStatusFinished, run.Status)
	require.Len(t, run.Plan, 1)
	assert.Equal(t, "echo", run.Plan[0].Action)
	assert.Equal(t, orchestrator.StepStatusCompleted, run.Plan[0].Status)
}

func TestDaemonProfileActionPolicy(t *testing.T) {
	cfg := newTestConfig(t)
	writeTestProfile(t, cfg, "restricted", "name: restricted\nactions:\n  - approved-action\n")
	writeTestProfile(t, cfg, "openended", "name: openended\n")
	d := startDaemonFromConfig(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	run, err := d.ExecuteRun(ctx, RunRequest{
		AgentID:   "restricted",
		Objective: "echo through a restricted agent",
		Metadata:  map[string]interface{}{"action": "echo"},
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "not in the profile's action list")
	assert.Equal(t, orchestrator.RunStatusFailed, run.Status)

	// A profile without an action list stays unrestricted
	run, err = d.ExecuteRun(ctx, RunRequest{
		AgentID:   "openended",
		Objective: "echo through an open agent",
		Metadata:  map[string]interface{}{"action": "echo"},
	})
	require.NoError(t, err)
	assert.Equal(t, orchestrator.RunStatusFinished, run.Status)
}

func TestDaemonProfileOverridesRecommendationLimits(t *testing.T) {
	cfg := newTestConfig(t)
	writeTestProfile(t, cfg, "tuner", "name: tuner\nmax_recommendations: 1\n")
	d := startDaemonFromConfig(t, cfg)

	scope := recommend.Scope{TenantID: "t1", WorkspaceID: "w1", AgentID: "tuner"}
	candidates := []recommend.Candidate{
		{Tactic: "resumir relatorio"},
		{Tactic: "classificar tickets"},
		{Tactic: "gerar resposta"},
	}

	result, err := d.Recommend(context.Background(), scope, candidates, nil)
	require.NoError(t, err)
	assert.Len(t, result.Selection, 1)
}

func TestDaemonSubmitRunValidation(t *testing.T) {
	d := startTestDaemon(t)

	_, err := d.SubmitRun(context.Background(), RunRequest{})
	assert.ErrorContains(t, err, "objective")

	_, err = d.SubmitRun(context.Background(), RunRequest{
		Objective: "do something",
		AgentID:   "no-such-agent",
	})
	assert.ErrorContains(t, err, "unknown agent")
}

func TestDaemonSubmitRunUsesDeterministicJobID(t *testing.T) {
	d := newTestDaemon(t)
	defer func() { assert.NoError(t, d.Stop()) }()

	job, err := d.SubmitRun(context.Background(), RunRequest{
		RunID:     "run-42",
		Objective: "deduplicated work",
	})
	require.NoError(t, err)
	assert.Equal(t, "run:run-42", job.ID)

	again, err := d.SubmitRun(context.Background(), RunRequest{
		RunID:     "run-42",
		Objective: "deduplicated work",
	})
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID)
}

func TestDaemonRecommendPersistsState(t *testing.T) {
	d := startTestDaemon(t)

	scope := recommend.Scope{TenantID: "t1", WorkspaceID: "w1", AgentID: "agent-1"}
	candidates := []recommend.Candidate{
		{Tactic: "resumir relatorio", Rationale: "pending summaries"},
		{Tactic: "classificar tickets", Rationale: "backlog triage"},
	}

	first, err := d.Recommend(context.Background(), scope, candidates, nil)
	require.NoError(t, err)
	require.NotEmpty(t, first.Selection)
	assert.Equal(t, int64(1), first.State.Version)

	second, err := d.Recommend(context.Background(), scope, candidates, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.State.Version)
}

func TestDaemonRecommendEmptyCandidates(t *testing.T) {
	d := startTestDaemon(t)

	scope := recommend.Scope{TenantID: "t1", WorkspaceID: "w1", AgentID: "agent-1"}
	result, err := d.Recommend(context.Background(), scope, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Selection)
}

func TestAdminQueueEndpoints(t *testing.T) {
	d := newTestDaemon(t)
	defer func() { assert.NoError(t, d.Stop()) }()

	admin := newAdminServer(d, "127.0.0.1", 0)

	rec := httptest.NewRecorder()
	admin.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	admin.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/queues", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var listing struct {
		Queues []queueStatus `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Queues, 2)
	names := []string{listing.Queues[0].Name, listing.Queues[1].Name}
	assert.Contains(t, names, "runs")
	assert.Contains(t, names, "actions")

	rec = httptest.NewRecorder()
	admin.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/queues/runs/pause", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	admin.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/queues/runs/resume", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	admin.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/queues/nope/drain", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminDrainRemovesWaitingJobs(t *testing.T) {
	d := newTestDaemon(t)
	defer func() { assert.NoError(t, d.Stop()) }()

	_, err := d.SubmitRun(context.Background(), RunRequest{Objective: "queued work"})
	require.NoError(t, err)

	admin := newAdminServer(d, "127.0.0.1", 0)
	rec := httptest.NewRecorder()
	admin.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/queues/runs/drain", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["removed"])
}

func TestAdminDrainDeadLetterQueue(t *testing.T) {
	d := startTestDaemon(t)

	// A run bound to an unregistered action fails every delivery, so the
	// job exhausts its attempts and lands in the runs dead-letter queue.
	job, err := d.SubmitRun(context.Background(), RunRequest{
		Objective: "doomed work",
		Metadata:  map[string]interface{}{"action": "no-such-action"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = job.Finished(ctx)
	require.Error(t, err)
	require.Equal(t, 1, d.runsQueue.DLQ().Size())

	admin := newAdminServer(d, "127.0.0.1", 0)

	rec := httptest.NewRecorder()
	admin.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/queues/runs:dlq/pause", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	admin.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/queues/runs:dlq/drain", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["removed"])
	assert.Equal(t, 0, d.runsQueue.DLQ().Size())

	rec = httptest.NewRecorder()
	admin.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/queues/missing:dlq/drain", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminSubmitRunEndpoint(t *testing.T) {
	d := startTestDaemon(t)

	admin := newAdminServer(d, "127.0.0.1", 0)

	payload, err := json.Marshal(RunRequest{Objective: "investigate the alert"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/runs", bytes.NewReader(payload))
	admin.server.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["job_id"])

	rec = httptest.NewRecorder()
	admin.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/runs", bytes.NewReader([]byte("{"))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRecommendEndpoint(t *testing.T) {
	d := startTestDaemon(t)

	admin := newAdminServer(d, "127.0.0.1", 0)

	payload, err := json.Marshal(recommendRequest{
		Scope: recommend.Scope{TenantID: "t1", WorkspaceID: "w1", AgentID: "agent-1"},
		Candidates: []recommend.Candidate{
			{Tactic: "gerar resumo executivo"},
		},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/recommend", bytes.NewReader(payload))
	admin.server.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var result recommend.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Len(t, result.Selection, 1)
}
