package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/scan-orchestrator/internal/api/dto"
	"github.com/cuongbtq/scan-orchestrator/internal/api/handler"
	"github.com/cuongbtq/scan-orchestrator/internal/api/router"
	"github.com/cuongbtq/scan-orchestrator/internal/config"
	"github.com/cuongbtq/scan-orchestrator/internal/scan"
	"github.com/cuongbtq/scan-orchestrator/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, s store.Store, api config.APIConfig) *gin.Engine {
	t.Helper()
	return router.SetupRouter(&handler.Dependencies{
		Logger: slog.New(slog.DiscardHandler),
		Store:  s,
		API:    api,
	})
}

func defaultAPIConfig() config.APIConfig {
	return config.APIConfig{
		AllowedHosts: []string{"github.com", "gitlab.com"},
	}
}

func doJSON(r *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r := newTestServer(t, store.NewMemoryStore(), defaultAPIConfig())

	w := doJSON(r, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
}

func TestCreateScan(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantError  string
	}{
		{
			name:       "allowed host",
			body:       dto.CreateScanRequest{RepoURL: "https://github.com/acme/app"},
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "allowed host with ref",
			body:       dto.CreateScanRequest{RepoURL: "https://gitlab.com/acme/app", Ref: "v1.0.0"},
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "host not on allow-list",
			body:       dto.CreateScanRequest{RepoURL: "https://evil.example.com/acme/app"},
			wantStatus: http.StatusBadRequest,
			wantError:  "repository host not allowed",
		},
		{
			name:       "scheme not http",
			body:       dto.CreateScanRequest{RepoURL: "git@github.com:acme/app.git"},
			wantStatus: http.StatusBadRequest,
			wantError:  "repository url must be http or https",
		},
		{
			name:       "file scheme",
			body:       dto.CreateScanRequest{RepoURL: "file:///etc/passwd"},
			wantStatus: http.StatusBadRequest,
			wantError:  "repository url must be http or https",
		},
		{
			name:       "missing repo url",
			body:       map[string]string{"ref": "main"},
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid request body",
		},
		{
			name:       "case-insensitive host match",
			body:       dto.CreateScanRequest{RepoURL: "https://GitHub.com/acme/app"},
			wantStatus: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.NewMemoryStore()
			r := newTestServer(t, s, defaultAPIConfig())

			w := doJSON(r, http.MethodPost, "/scan", tt.body, nil)
			assert.Equal(t, tt.wantStatus, w.Code)

			if tt.wantStatus == http.StatusAccepted {
				var resp dto.CreateScanResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.NotEmpty(t, resp.JobID)
				assert.Equal(t, scan.JobStatusQueued, resp.Status)

				// The job is actually queued
				job, err := s.GetJob(context.Background(), resp.JobID)
				require.NoError(t, err)
				assert.Equal(t, scan.JobStatusQueued, job.Status)
			} else {
				var resp map[string]string
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, tt.wantError, resp["error"])
			}
		})
	}
}

func TestCreateScan_MixedCaseAllowedHostEntry(t *testing.T) {
	// Allow-list entries are normalized too, not just the URL host.
	r := newTestServer(t, store.NewMemoryStore(), config.APIConfig{
		AllowedHosts: []string{"GitHub.com"},
	})

	w := doJSON(r, http.MethodPost, "/scan", dto.CreateScanRequest{
		RepoURL: "https://github.com/acme/app",
	}, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestCreateScan_BearerAuth(t *testing.T) {
	api := defaultAPIConfig()
	api.AuthToken = "secret-token"
	r := newTestServer(t, store.NewMemoryStore(), api)

	body := dto.CreateScanRequest{RepoURL: "https://github.com/acme/app"}

	// No token
	w := doJSON(r, http.MethodPost, "/scan", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Wrong token
	w = doJSON(r, http.MethodPost, "/scan", body, map[string]string{
		"Authorization": "Bearer wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Malformed scheme
	w = doJSON(r, http.MethodPost, "/scan", body, map[string]string{
		"Authorization": "Basic secret-token",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Correct token
	w = doJSON(r, http.MethodPost, "/scan", body, map[string]string{
		"Authorization": "Bearer secret-token",
	})
	assert.Equal(t, http.StatusAccepted, w.Code)

	// Polling endpoints stay open without a token
	w = doJSON(r, http.MethodGet, "/scans", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListScans(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	r := newTestServer(t, s, defaultAPIConfig())

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateJob(ctx, &scan.Job{
			JobID:     fmt.Sprintf("job-%d", i),
			RepoURL:   "https://github.com/acme/app",
			Status:    scan.JobStatusQueued,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	w := doJSON(r, http.MethodGet, "/scans?limit=2", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ListScansResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 2)
	assert.Equal(t, "job-2", resp.Jobs[0].JobID)
	assert.Equal(t, "job-1", resp.Jobs[1].JobID)
}

func TestGetJob(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	r := newTestServer(t, s, defaultAPIConfig())

	require.NoError(t, s.CreateJob(ctx, &scan.Job{
		JobID:     "job-1",
		RepoURL:   "https://github.com/acme/app",
		Ref:       "main",
		Status:    scan.JobStatusQueued,
		CreatedAt: time.Now().UTC(),
	}))

	w := doJSON(r, http.MethodGet, "/jobs/job-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var job dto.JobDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, "job-1", job.JobID)
	assert.Equal(t, "main", job.Ref)
	assert.Equal(t, scan.JobStatusQueued, job.Status)
	assert.Empty(t, job.StartedAt)
	assert.Empty(t, job.FinishedAt)

	// Unknown job
	w = doJSON(r, http.MethodGet, "/jobs/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetJobResultsAndFindings(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	r := newTestServer(t, s, defaultAPIConfig())

	require.NoError(t, s.CreateJob(ctx, &scan.Job{
		JobID:     "job-1",
		RepoURL:   "https://github.com/acme/app",
		Status:    scan.JobStatusQueued,
		CreatedAt: time.Now().UTC(),
	}))
	raw := []byte(`{"results":[{"check_id":"hardcoded-secret"}]}`)
	require.NoError(t, s.AddFinding(ctx, "job-1", "semgrep", scan.Summary{High: 1, Total: 1}, raw))

	// Results: summaries only
	w := doJSON(r, http.MethodGet, "/jobs/job-1/results", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resultsResp struct {
		Results []dto.ResultDTO `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resultsResp))
	require.Len(t, resultsResp.Results, 1)
	assert.Equal(t, "semgrep", resultsResp.Results[0].Tool)
	assert.Equal(t, scan.Summary{High: 1, Total: 1}, resultsResp.Results[0].Summary)
	assert.NotContains(t, w.Body.String(), "hardcoded-secret")

	// Findings: summaries plus raw documents
	w = doJSON(r, http.MethodGet, "/jobs/job-1/findings", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var findingsResp struct {
		Findings []dto.FindingDTO `json:"findings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &findingsResp))
	require.Len(t, findingsResp.Findings, 1)
	assert.JSONEq(t, string(raw), string(findingsResp.Findings[0].Raw))

	// Unknown job on both endpoints
	w = doJSON(r, http.MethodGet, "/jobs/missing/results", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doJSON(r, http.MethodGet, "/jobs/missing/findings", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetJobLogs_CursorPolling(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	r := newTestServer(t, s, defaultAPIConfig())

	require.NoError(t, s.CreateJob(ctx, &scan.Job{
		JobID:     "job-1",
		RepoURL:   "https://github.com/acme/app",
		Status:    scan.JobStatusQueued,
		CreatedAt: time.Now().UTC(),
	}))
	for i := 0; i < 4; i++ {
		require.NoError(t, s.AppendLog(ctx, "job-1", scan.LogLevelInfo, fmt.Sprintf("line %d", i)))
	}

	// First page
	w := doJSON(r, http.MethodGet, "/jobs/job-1/logs?limit=2", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var page dto.LogsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Lines, 2)
	assert.Equal(t, "line 0", page.Lines[0].Message)
	assert.Equal(t, page.Lines[1].Seq, page.NextAfter)

	// Resume from the returned cursor
	w = doJSON(r, http.MethodGet, fmt.Sprintf("/jobs/job-1/logs?after=%d", page.NextAfter), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var rest dto.LogsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rest))
	require.Len(t, rest.Lines, 2)
	assert.Equal(t, "line 2", rest.Lines[0].Message)
	assert.Equal(t, "line 3", rest.Lines[1].Message)

	// Caught up: empty page, cursor unchanged
	w = doJSON(r, http.MethodGet, fmt.Sprintf("/jobs/job-1/logs?after=%d", rest.NextAfter), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var empty dto.LogsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &empty))
	assert.Empty(t, empty.Lines)
	assert.Equal(t, rest.NextAfter, empty.NextAfter)

	// Invalid cursor
	w = doJSON(r, http.MethodGet, "/jobs/job-1/logs?after=banana", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(r, http.MethodGet, "/jobs/job-1/logs?after=-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown job
	w = doJSON(r, http.MethodGet, "/jobs/missing/logs", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
