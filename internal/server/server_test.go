package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/SAMO/internal/config"
	"github.com/copyleftdev/SAMO/internal/logging"
	"github.com/copyleftdev/SAMO/internal/metrics"
)

func newTestServer(t *testing.T) (*Server, *chi.Mux) {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Data.Dir = t.TempDir()

	// Small budgets keep test runs quick.
	cfg.Data.Convergence = config.ConvergenceMaxIterations
	cfg.Data.ConvergenceLimit = 1
	cfg.Surrogate.Surrogate = config.SurrogateGP
	cfg.Optimization.Algorithm = config.AlgorithmOff

	logger := logging.New(logging.ErrorLevel, io.Discard)
	srv := NewServer(cfg, metrics.New(prometheus.NewRegistry()), logger)
	t.Cleanup(func() { srv.Close() })

	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	return srv, r
}

func postRun(t *testing.T, r http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestStartRunValidation(t *testing.T) {
	_, r := newTestServer(t)

	w := postRun(t, r, `{`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postRun(t, r, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "problem is required")

	w = postRun(t, r, `{"problem":"nonexistent"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartRunAndPollToCompletion(t *testing.T) {
	_, r := newTestServer(t)

	w := postRun(t, r, `{"problem":"rosenbrock"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	body := decodeBody(t, w)
	runID, ok := body["run_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, runID)
	assert.Equal(t, false, body["resumed"])

	deadline := time.Now().Add(30 * time.Second)
	var status map[string]interface{}
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+runID, nil)
		sw := httptest.NewRecorder()
		r.ServeHTTP(sw, req)
		require.Equal(t, http.StatusOK, sw.Code)

		status = decodeBody(t, sw)
		if status["status"] == "completed" || status["status"] == "failed" {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	require.Equal(t, "completed", status["status"], "run did not complete: %v", status)
	summary, ok := status["summary"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, summary["converged"])
	assert.Greater(t, summary["total_samples"].(float64), 0.0)
}

func waitForRun(t *testing.T, r http.Handler, runID string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	var status map[string]interface{}
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+runID, nil)
		sw := httptest.NewRecorder()
		r.ServeHTTP(sw, req)
		require.Equal(t, http.StatusOK, sw.Code)

		status = decodeBody(t, sw)
		if status["status"] == "completed" || status["status"] == "failed" {
			return status
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("run did not finish: %v", status)
	return nil
}

func TestClientIdentitySharesDatabase(t *testing.T) {
	_, r := newTestServer(t)

	w := postRun(t, r, `{"problem":"rosenbrock","id":7}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	runID := decodeBody(t, w)["run_id"].(string)
	status := waitForRun(t, r, runID)
	require.Equal(t, "completed", status["status"])

	// The same identity now holds a converged model, so a second
	// request without overwrite must hit the restart conflict.
	w = postRun(t, r, `{"problem":"rosenbrock","id":7}`)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "converged")

	// Overwrite resolves the conflict with a fresh database.
	w = postRun(t, r, `{"problem":"rosenbrock","id":7,"overwrite":true}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["resumed"])
	waitForRun(t, r, body["run_id"].(string))
}

func TestStartRunRejectsNegativeIdentity(t *testing.T) {
	_, r := newTestServer(t)

	w := postRun(t, r, `{"problem":"rosenbrock","id":-3}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunStatusNotFound(t *testing.T) {
	_, r := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/no-such-run", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelUnknownRun(t *testing.T) {
	_, r := newTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/runs/no-such-run", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListProblems(t *testing.T) {
	_, r := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/problems", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	problems, ok := body["problems"].([]interface{})
	require.True(t, ok)
	assert.Contains(t, problems, "rosenbrock")
	assert.Contains(t, problems, "bnh")
}

func TestListRuns(t *testing.T) {
	_, r := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	runs, ok := body["runs"].([]interface{})
	require.True(t, ok)
	assert.Empty(t, runs)

	postRun(t, r, `{"problem":"rosenbrock"}`)

	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	require.Equal(t, http.StatusOK, w2.Code)
	body = decodeBody(t, w2)
	runs, ok = body["runs"].([]interface{})
	require.True(t, ok)
	assert.Len(t, runs, 1)
}
