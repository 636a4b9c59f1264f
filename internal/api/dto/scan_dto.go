package dto

import (
	"encoding/json"

	"github.com/cuongbtq/scan-orchestrator/internal/scan"
)

type CreateScanRequest struct {
	RepoURL string `json:"repoUrl" binding:"required"`
	Ref     string `json:"ref"`
}

type CreateScanResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

type JobDTO struct {
	JobID      string `json:"jobId"`
	RepoURL    string `json:"repoUrl"`
	Ref        string `json:"ref,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"createdAt"`
	StartedAt  string `json:"startedAt,omitempty"`
	FinishedAt string `json:"finishedAt,omitempty"`
}

type ListScansResponse struct {
	Jobs []JobDTO `json:"jobs"`
}

// ResultDTO is the per-tool canonical summary without the raw document.
type ResultDTO struct {
	Tool      string       `json:"tool"`
	Summary   scan.Summary `json:"summary"`
	CreatedAt string       `json:"createdAt"`
}

// FindingDTO additionally carries the full raw tool output.
type FindingDTO struct {
	Tool      string          `json:"tool"`
	Summary   scan.Summary    `json:"summary"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	CreatedAt string          `json:"createdAt"`
}

type LogsResponse struct {
	Lines []LogLineDTO `json:"lines"`
	// NextAfter is the cursor for the next poll; equal to the request's
	// after value when no new lines arrived.
	NextAfter int64 `json:"nextAfter"`
}

type LogLineDTO struct {
	Seq       int64  `json:"seq"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	CreatedAt string `json:"createdAt"`
}
