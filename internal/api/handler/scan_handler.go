package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/scan-orchestrator/internal/api/dto"
	"github.com/cuongbtq/scan-orchestrator/internal/scan"
)

const (
	defaultPageSize  = 20
	maxPageSize      = 100
	defaultLogsLimit = 100
	maxLogsLimit     = 500
)

// Health handles GET /health
func (h *ScanHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// CreateScan handles POST /scan
// Validates the repository URL against the host allow-list and enqueues a job.
func (h *ScanHandler) CreateScan(c *gin.Context) {
	var req dto.CreateScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if reason := h.validateRepoURL(req.RepoURL); reason != "" {
		h.logger.Warn("Scan submission rejected",
			slog.String("repo_url", req.RepoURL),
			slog.String("reason", reason),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": reason})
		return
	}

	job := scan.Job{
		JobID:     uuid.New().String(),
		RepoURL:   req.RepoURL,
		Ref:       req.Ref,
		Status:    scan.JobStatusQueued,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.store.CreateJob(c.Request.Context(), &job); err != nil {
		h.logger.Error("Failed to create job",
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job"})
		return
	}

	h.publisher.JobTransition(c.Request.Context(), &job)

	h.logger.Info("Scan job queued",
		slog.String("job_id", job.JobID),
		slog.String("repo_url", job.RepoURL),
	)

	c.JSON(http.StatusAccepted, dto.CreateScanResponse{
		JobID:  job.JobID,
		Status: job.Status,
	})
}

// ListScans handles GET /scans
// Lists recent jobs, newest first, with a bounded page size.
func (h *ScanHandler) ListScans(c *gin.Context) {
	limit := parseBounded(c.Query("limit"), defaultPageSize, maxPageSize)

	jobs, err := h.store.ListRecentJobs(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list jobs",
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}

	resp := dto.ListScansResponse{Jobs: make([]dto.JobDTO, len(jobs))}
	for i := range jobs {
		resp.Jobs[i] = toJobDTO(&jobs[i])
	}
	c.JSON(http.StatusOK, resp)
}

// GetJob handles GET /jobs/:job_id
func (h *ScanHandler) GetJob(c *gin.Context) {
	job, ok := h.jobOr404(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toJobDTO(job))
}

// GetJobResults handles GET /jobs/:job_id/results
// Per-tool canonical summaries, ordered by insertion.
func (h *ScanHandler) GetJobResults(c *gin.Context) {
	job, ok := h.jobOr404(c)
	if !ok {
		return
	}

	findings, err := h.store.ListFindings(c.Request.Context(), job.JobID)
	if err != nil {
		h.logger.Error("Failed to list findings",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list results"})
		return
	}

	results := make([]dto.ResultDTO, len(findings))
	for i, f := range findings {
		results[i] = dto.ResultDTO{
			Tool:      f.Tool,
			Summary:   f.Summary,
			CreatedAt: f.CreatedAt.Format(time.RFC3339),
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// GetJobFindings handles GET /jobs/:job_id/findings
// Summaries plus the full raw tool documents.
func (h *ScanHandler) GetJobFindings(c *gin.Context) {
	job, ok := h.jobOr404(c)
	if !ok {
		return
	}

	findings, err := h.store.ListFindings(c.Request.Context(), job.JobID)
	if err != nil {
		h.logger.Error("Failed to list findings",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list findings"})
		return
	}

	out := make([]dto.FindingDTO, len(findings))
	for i, f := range findings {
		out[i] = dto.FindingDTO{
			Tool:      f.Tool,
			Summary:   f.Summary,
			Raw:       f.Raw,
			CreatedAt: f.CreatedAt.Format(time.RFC3339),
		}
	}
	c.JSON(http.StatusOK, gin.H{"findings": out})
}

// GetJobLogs handles GET /jobs/:job_id/logs?after=N
// Returns log lines with seq > after, designed for repeated polling.
func (h *ScanHandler) GetJobLogs(c *gin.Context) {
	job, ok := h.jobOr404(c)
	if !ok {
		return
	}

	after, err := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil || after < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after cursor"})
		return
	}
	limit := parseBounded(c.Query("limit"), defaultLogsLimit, maxLogsLimit)

	lines, err := h.store.ListLogsSince(c.Request.Context(), job.JobID, after, limit)
	if err != nil {
		h.logger.Error("Failed to list logs",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list logs"})
		return
	}

	resp := dto.LogsResponse{
		Lines:     make([]dto.LogLineDTO, len(lines)),
		NextAfter: after,
	}
	for i, line := range lines {
		resp.Lines[i] = dto.LogLineDTO{
			Seq:       line.Seq,
			Level:     line.Level,
			Message:   line.Message,
			CreatedAt: line.CreatedAt.Format(time.RFC3339),
		}
		resp.NextAfter = line.Seq
	}
	c.JSON(http.StatusOK, resp)
}

// validateRepoURL returns a rejection reason, or "" when the URL is
// acceptable. Only http/https URLs whose host is on the allow-list pass.
func (h *ScanHandler) validateRepoURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid repository url"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "repository url must be http or https"
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "invalid repository url"
	}
	if _, ok := h.allowedHosts[host]; !ok {
		return "repository host not allowed"
	}
	return ""
}

func (h *ScanHandler) jobOr404(c *gin.Context) (*scan.Job, bool) {
	jobID := c.Param("job_id")

	job, err := h.store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, scan.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return nil, false
		}
		h.logger.Error("Failed to get job",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return nil, false
	}
	return job, true
}

func toJobDTO(job *scan.Job) dto.JobDTO {
	out := dto.JobDTO{
		JobID:     job.JobID,
		RepoURL:   job.RepoURL,
		Ref:       job.Ref,
		Status:    job.Status,
		Error:     job.Error,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		out.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.FinishedAt != nil {
		out.FinishedAt = job.FinishedAt.Format(time.RFC3339)
	}
	return out
}

func parseBounded(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
