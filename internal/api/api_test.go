package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/waypoint/internal/db"
	"github.com/livinlefevreloca/waypoint/internal/domain"
	"github.com/livinlefevreloca/waypoint/internal/executor"
	"github.com/livinlefevreloca/waypoint/internal/orchestrator"
	"github.com/livinlefevreloca/waypoint/internal/quality"
	"github.com/livinlefevreloca/waypoint/internal/scheduler"
	"github.com/livinlefevreloca/waypoint/internal/state"
	"github.com/livinlefevreloca/waypoint/internal/testutil"
)

func newTestServer(t *testing.T, conn domain.Connector) *httptest.Server {
	t.Helper()

	database, err := db.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	database.SetMaxOpenConns(1)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())

	logger := testutil.Logger()
	cursors := state.NewStore(database, logger)

	config := executor.DefaultConfig()
	config.MaxConcurrentJobs = 2
	config.EnqueueTimeout = 100 * time.Millisecond
	config.RetryInitialInterval = time.Millisecond
	config.RetryMaxInterval = 5 * time.Millisecond

	exec := executor.NewExecutor(
		database, cursors, quality.DefaultGate(),
		testutil.NewMockQualityEngine(95),
		testutil.NewMockLayerWriter(),
		testutil.NewMockAggregator(),
		testutil.NewRecordingTracker(),
		config, logger,
	)
	pool := executor.NewPool(config, exec, logger)
	pool.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Shutdown(ctx)
	})

	sources := []*domain.Source{{
		ID:   "src-1",
		Name: "orders db",
		Config: domain.SourceConfig{
			Kind: domain.ConnectorHTTP,
			HTTP: &domain.HTTPConfig{BaseURL: "http://example.test/api"},
		},
		Connector: conn,
	}}
	orch, err := orchestrator.New(database, cursors, pool, sources, logger)
	require.NoError(t, err)

	sched, err := scheduler.New(database, orch, scheduler.DefaultConfig(), logger)
	require.NoError(t, err)

	server := httptest.NewServer(NewServer(orch, sched, logger).Router())
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t, testutil.NewMockConnector())

	var body map[string]string
	status := doJSON(t, http.MethodGet, server.URL+"/healthz", nil, &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestScheduleCRUD(t *testing.T) {
	server := newTestServer(t, testutil.NewMockConnector("orders"))

	create := map[string]any{
		"source_id":       "src-1",
		"streams":         []string{"orders"},
		"sync_mode":       "incremental",
		"cron_expression": "0 * * * *",
	}
	var created domain.ScheduledSync
	status := doJSON(t, http.MethodPost, server.URL+"/api/v1/schedules", create, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.Enabled)
	assert.NotNil(t, created.NextRunAt)
	assert.Equal(t, "orders db", created.SourceName)

	var fetched domain.ScheduledSync
	status = doJSON(t, http.MethodGet, server.URL+"/api/v1/schedules/"+created.ID, nil, &fetched)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, created.ID, fetched.ID)

	patch := map[string]any{"enabled": false}
	var updated domain.ScheduledSync
	status = doJSON(t, http.MethodPatch, server.URL+"/api/v1/schedules/"+created.ID, patch, &updated)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, updated.Enabled)
	assert.Nil(t, updated.NextRunAt)

	var list struct {
		Schedules []domain.ScheduledSync `json:"schedules"`
	}
	status = doJSON(t, http.MethodGet, server.URL+"/api/v1/schedules", nil, &list)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, list.Schedules, 1)

	status = doJSON(t, http.MethodDelete, server.URL+"/api/v1/schedules/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status = doJSON(t, http.MethodGet, server.URL+"/api/v1/schedules/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCreateScheduleRejectsBadInput(t *testing.T) {
	server := newTestServer(t, testutil.NewMockConnector("orders"))

	cases := []map[string]any{
		{"source_id": "src-1", "streams": []string{"orders"}, "sync_mode": "incremental", "cron_expression": "nope"},
		{"source_id": "src-1", "streams": []string{}, "sync_mode": "incremental", "cron_expression": "0 * * * *"},
		{"source_id": "src-1", "streams": []string{"orders"}, "sync_mode": "sideways", "cron_expression": "0 * * * *"},
	}
	for _, body := range cases {
		status := doJSON(t, http.MethodPost, server.URL+"/api/v1/schedules", body, nil)
		assert.Equal(t, http.StatusBadRequest, status)
	}

	unknown := map[string]any{
		"source_id": "ghost", "streams": []string{"orders"},
		"sync_mode": "incremental", "cron_expression": "0 * * * *",
	}
	status := doJSON(t, http.MethodPost, server.URL+"/api/v1/schedules", unknown, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSubmitAndTrackJob(t *testing.T) {
	conn := testutil.NewMockConnector("orders")
	conn.ScriptBatch("orders", "100", 12)
	server := newTestServer(t, conn)

	submit := map[string]any{
		"source_id": "src-1",
		"streams":   []string{"orders"},
		"sync_mode": "incremental",
	}
	var job domain.SyncJob
	status := doJSON(t, http.MethodPost, server.URL+"/api/v1/jobs", submit, &job)
	require.Equal(t, http.StatusAccepted, status)
	require.NotEmpty(t, job.ID)

	deadline := time.Now().Add(5 * time.Second)
	for {
		var got domain.SyncJob
		status = doJSON(t, http.MethodGet, server.URL+"/api/v1/jobs/"+job.ID, nil, &got)
		require.Equal(t, http.StatusOK, status)
		if got.Status.Terminal() {
			assert.Equal(t, domain.StatusCompleted, got.Status)
			assert.Equal(t, int64(12), got.RecordsSynced)
			break
		}
		require.True(t, time.Now().Before(deadline), "job never finished")
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSubmitJobUnknownStream(t *testing.T) {
	server := newTestServer(t, testutil.NewMockConnector("orders"))

	submit := map[string]any{
		"source_id": "src-1",
		"streams":   []string{"ghosts"},
		"sync_mode": "incremental",
	}
	status := doJSON(t, http.MethodPost, server.URL+"/api/v1/jobs", submit, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestListJobsQueryValidation(t *testing.T) {
	server := newTestServer(t, testutil.NewMockConnector("orders"))

	status := doJSON(t, http.MethodGet, server.URL+"/api/v1/jobs?status=sideways", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = doJSON(t, http.MethodGet, server.URL+"/api/v1/jobs?limit=-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var list struct {
		Jobs []domain.SyncJob `json:"jobs"`
	}
	status = doJSON(t, http.MethodGet, server.URL+"/api/v1/jobs?status=pending&limit=5", nil, &list)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, list.Jobs)
}

func TestCancelJobEndpoint(t *testing.T) {
	conn := testutil.NewMockConnector("orders")
	conn.SetFetchDelay(300 * time.Millisecond)
	conn.ScriptBatch("orders", "1", 1)
	server := newTestServer(t, conn)

	submit := map[string]any{
		"source_id": "src-1", "streams": []string{"orders"}, "sync_mode": "incremental",
	}
	var job domain.SyncJob
	status := doJSON(t, http.MethodPost, server.URL+"/api/v1/jobs", submit, &job)
	require.Equal(t, http.StatusAccepted, status)

	var cancelled domain.SyncJob
	status = doJSON(t, http.MethodPost, server.URL+"/api/v1/jobs/"+job.ID+"/cancel", nil, &cancelled)
	require.Equal(t, http.StatusOK, status)

	deadline := time.Now().Add(5 * time.Second)
	for {
		var got domain.SyncJob
		doJSON(t, http.MethodGet, server.URL+"/api/v1/jobs/"+job.ID, nil, &got)
		if got.Status.Terminal() {
			assert.Equal(t, domain.StatusCancelled, got.Status)
			break
		}
		require.True(t, time.Now().Before(deadline), "job never terminal")
		time.Sleep(10 * time.Millisecond)
	}

	status = doJSON(t, http.MethodPost, server.URL+"/api/v1/jobs/missing/cancel", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStatsEndpoint(t *testing.T) {
	conn := testutil.NewMockConnector("orders")
	conn.ScriptBatch("orders", "1", 3)
	server := newTestServer(t, conn)

	submit := map[string]any{
		"source_id": "src-1", "streams": []string{"orders"}, "sync_mode": "full_refresh",
	}
	var job domain.SyncJob
	doJSON(t, http.MethodPost, server.URL+"/api/v1/jobs", submit, &job)

	deadline := time.Now().Add(5 * time.Second)
	for {
		var got domain.SyncJob
		doJSON(t, http.MethodGet, server.URL+"/api/v1/jobs/"+job.ID, nil, &got)
		if got.Status.Terminal() {
			break
		}
		require.True(t, time.Now().Before(deadline))
		time.Sleep(10 * time.Millisecond)
	}

	var stats struct {
		Jobs struct {
			Total              int64 `json:"total"`
			Completed          int64 `json:"completed"`
			TotalRecordsSynced int64 `json:"total_records_synced"`
		} `json:"jobs"`
		MaxConcurrentJobs int `json:"max_concurrent_jobs"`
	}
	status := doJSON(t, http.MethodGet, server.URL+"/api/v1/stats", nil, &stats)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(1), stats.Jobs.Total)
	assert.Equal(t, int64(1), stats.Jobs.Completed)
	assert.Equal(t, int64(3), stats.Jobs.TotalRecordsSynced)
	assert.Equal(t, 2, stats.MaxConcurrentJobs)
}

func TestStateExportImportEndpoints(t *testing.T) {
	server := newTestServer(t, testutil.NewMockConnector("orders"))

	// Seed a schedule, export, then import the snapshot back.
	create := map[string]any{
		"source_id": "src-1", "streams": []string{"orders"},
		"sync_mode": "incremental", "cron_expression": "0 * * * *",
	}
	status := doJSON(t, http.MethodPost, server.URL+"/api/v1/schedules", create, nil)
	require.Equal(t, http.StatusCreated, status)

	var snapshot domain.StateSnapshot
	status = doJSON(t, http.MethodGet, server.URL+"/api/v1/state/export", nil, &snapshot)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, snapshot.Schedules, 1)

	var result map[string]int
	status = doJSON(t, http.MethodPost, server.URL+"/api/v1/state/import", snapshot, &result)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, result["imported_schedules"])

	// A snapshot with a bad schedule is rejected.
	snapshot.Schedules[0].CronExpression = "nope"
	status = doJSON(t, http.MethodPost, server.URL+"/api/v1/state/import", snapshot, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestListSources(t *testing.T) {
	server := newTestServer(t, testutil.NewMockConnector("orders"))

	var body struct {
		Sources []struct {
			ID   string `json:"source_id"`
			Kind string `json:"kind"`
		} `json:"sources"`
	}
	status := doJSON(t, http.MethodGet, server.URL+"/api/v1/sources", nil, &body)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body.Sources, 1)
	assert.Equal(t, "src-1", body.Sources[0].ID)
	assert.Equal(t, "http_api", body.Sources[0].Kind)
}
