package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/rampup/internal/core/plan"
	"github.com/artpar/rampup/internal/shell/store"
)

// =============================================================================
// Test Helpers
// =============================================================================

func newTestHandler(t *testing.T) (*Handler, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewHandler(s, "test", nil), s
}

// succeededRun builds a terminal run started at the given offset before now.
func succeededRun(t *testing.T, age time.Duration) *plan.RunResult {
	t.Helper()
	r := plan.NewRunResult("/srv/checkout")
	r.StartedAt = time.Now().UTC().Add(-age)
	for _, phase := range []plan.Phase{
		plan.PhaseResolvingPaths,
		plan.PhaseInstalling,
		plan.PhaseBuilding,
		plan.PhaseLaunching,
		plan.PhaseHealthChecking,
		plan.PhaseSucceeded,
	} {
		require.NoError(t, r.Transition(phase))
	}
	r.Steps = []plan.StepOutcome{
		{Name: "install requirements", Phase: plan.PhaseInstalling, Status: plan.StepSucceeded},
	}
	return r
}

func doRequest(t *testing.T, h *Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// Route Tests
// =============================================================================

func TestHandler_Healthz(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandler_ListRuns(t *testing.T) {
	h, s := newTestHandler(t)

	older := succeededRun(t, 2*time.Hour)
	newer := succeededRun(t, time.Hour)
	require.NoError(t, s.SaveRun(context.Background(), older))
	require.NoError(t, s.SaveRun(context.Background(), newer))

	rec := doRequest(t, h, http.MethodGet, "/api/v1/runs")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs  []plan.RunResult `json:"runs"`
		Count int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Runs, 2)
	assert.Equal(t, newer.ID, body.Runs[0].ID)
	assert.Equal(t, older.ID, body.Runs[1].ID)
}

func TestHandler_ListRuns_Pagination(t *testing.T) {
	h, s := newTestHandler(t)

	for i := 0; i < 3; i++ {
		run := succeededRun(t, time.Duration(i+1)*time.Hour)
		require.NoError(t, s.SaveRun(context.Background(), run))
	}

	rec := doRequest(t, h, http.MethodGet, "/api/v1/runs?limit=1&offset=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs  []plan.RunResult `json:"runs"`
		Count int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
}

func TestHandler_ListRuns_Empty(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/runs")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Count)
}

func TestHandler_GetRun(t *testing.T) {
	h, s := newTestHandler(t)

	run := succeededRun(t, time.Hour)
	require.NoError(t, s.SaveRun(context.Background(), run))

	rec := doRequest(t, h, http.MethodGet, "/api/v1/runs/"+run.ID)
	require.Equal(t, http.StatusOK, rec.Code)

	var got plan.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, plan.PhaseSucceeded, got.Phase)
	assert.True(t, got.Success)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "install requirements", got.Steps[0].Name)
}

func TestHandler_GetRun_NotFound(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/runs/no-such-run")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run not found", body["error"])
}

func TestHandler_OpenAPISpec(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/openapi.json")
	require.Equal(t, http.StatusOK, rec.Code)

	var spec map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &spec))
	assert.Equal(t, "3.0.3", spec["openapi"])

	info, ok := spec["info"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "rampup report API", info["title"])

	paths, ok := spec["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/api/v1/runs")
	assert.Contains(t, paths, "/api/v1/runs/{id}")

	// Every operation declares its responses
	assert.Contains(t, operationResponses(t, paths, "/api/v1/runs"), "200")
	getResponses := operationResponses(t, paths, "/api/v1/runs/{id}")
	assert.Contains(t, getResponses, "200")
	assert.Contains(t, getResponses, "404")
}

// operationResponses digs the GET responses map out of a decoded spec path.
func operationResponses(t *testing.T, paths map[string]any, path string) map[string]any {
	t.Helper()
	item, ok := paths[path].(map[string]any)
	require.True(t, ok, "path %s", path)
	get, ok := item["get"].(map[string]any)
	require.True(t, ok, "get on %s", path)
	responses, ok := get["responses"].(map[string]any)
	require.True(t, ok, "responses on %s", path)
	return responses
}
