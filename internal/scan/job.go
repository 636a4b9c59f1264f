package scan

import "time"

// Job status constants. Transitions only move forward:
// queued -> running -> (succeeded | failed).
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// Job is one end-to-end scan request for a repository.
type Job struct {
	JobID      string     `db:"job_id"`
	RepoURL    string     `db:"repo_url"`
	Ref        string     `db:"ref"`
	Status     string     `db:"status"`
	WorkDir    string     `db:"work_dir"`
	Error      string     `db:"error_message"`
	CreatedAt  time.Time  `db:"created_at"`
	StartedAt  *time.Time `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`
}

// Terminal reports whether the job has reached a terminal status.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}

// Log severity levels for job log lines.
const (
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// LogLine is an append-only log record scoped to one job. Seq is a
// store-wide monotonic sequence used as a polling cursor.
type LogLine struct {
	Seq       int64     `db:"seq" json:"seq"`
	JobID     string    `db:"job_id" json:"job_id"`
	Level     string    `db:"level" json:"level"`
	Message   string    `db:"message" json:"message"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Summary is the canonical severity/count record every driver reduces its
// raw output to. Tools without severities (syft) only populate Total.
type Summary struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
	Total    int `json:"total"`
}

// Finding is the persisted output of one scan tool against one job:
// the canonical summary plus the full raw tool document.
type Finding struct {
	JobID     string    `db:"job_id" json:"job_id"`
	Tool      string    `db:"tool" json:"tool"`
	Summary   Summary   `json:"summary"`
	Raw       []byte    `db:"raw" json:"raw,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
