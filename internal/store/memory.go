package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/scan-orchestrator/internal/scan"
)

// MemoryStore is a mutex-guarded in-memory Store. It backs the test suites
// and local runs without a database; the single mutex serializes the claim
// race the same way the conditional UPDATE does in Postgres.
type MemoryStore struct {
	mu       sync.Mutex
	jobs     map[string]scan.Job
	logs     []scan.LogLine
	findings map[string][]scan.Finding
	nextSeq  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]scan.Job),
		logs:     make([]scan.LogLine, 0, 128),
		findings: make(map[string][]scan.Finding),
		nextSeq:  1,
	}
}

func (m *MemoryStore) CreateJob(_ context.Context, job *scan.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.JobID]; ok {
		return scan.ErrDuplicateJob
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	m.jobs[job.JobID] = *job
	return nil
}

func (m *MemoryStore) ClaimNextJob(_ context.Context) (*scan.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var picked *scan.Job
	for id := range m.jobs {
		j := m.jobs[id]
		if j.Status != scan.JobStatusQueued {
			continue
		}
		if picked == nil ||
			j.CreatedAt.Before(picked.CreatedAt) ||
			(j.CreatedAt.Equal(picked.CreatedAt) && j.JobID < picked.JobID) {
			jc := j
			picked = &jc
		}
	}
	if picked == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	picked.Status = scan.JobStatusRunning
	picked.StartedAt = &now
	m.jobs[picked.JobID] = *picked

	out := *picked
	return &out, nil
}

func (m *MemoryStore) GetJob(_ context.Context, jobID string) (*scan.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, scan.ErrJobNotFound
	}
	out := job
	return &out, nil
}

func (m *MemoryStore) ListRecentJobs(_ context.Context, limit int) ([]scan.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]scan.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.After(out[k].CreatedAt)
		}
		return out[i].JobID > out[k].JobID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SetJobWorkDir(_ context.Context, jobID, workDir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil
	}
	job.WorkDir = workDir
	m.jobs[jobID] = job
	return nil
}

func (m *MemoryStore) FinishJob(_ context.Context, jobID, status, errorMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		// Deleted jobs are tolerated, same as the Postgres no-op.
		return nil
	}
	now := time.Now().UTC()
	job.Status = status
	job.Error = errorMsg
	job.FinishedAt = &now
	m.jobs[jobID] = job
	return nil
}

func (m *MemoryStore) AppendLog(_ context.Context, jobID, level, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[jobID]; !ok {
		return scan.ErrJobNotFound
	}
	m.logs = append(m.logs, scan.LogLine{
		Seq:       m.nextSeq,
		JobID:     jobID,
		Level:     level,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	})
	m.nextSeq++
	return nil
}

func (m *MemoryStore) ListLogsSince(_ context.Context, jobID string, afterSeq int64, limit int) ([]scan.LogLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]scan.LogLine, 0, limit)
	for _, line := range m.logs {
		if line.JobID != jobID || line.Seq <= afterSeq {
			continue
		}
		out = append(out, line)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) AddFinding(_ context.Context, jobID, tool string, summary scan.Summary, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[jobID]; !ok {
		return scan.ErrJobNotFound
	}
	rawCopy := make([]byte, len(raw))
	copy(rawCopy, raw)
	m.findings[jobID] = append(m.findings[jobID], scan.Finding{
		JobID:     jobID,
		Tool:      tool,
		Summary:   summary,
		Raw:       rawCopy,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (m *MemoryStore) ListFindings(_ context.Context, jobID string) ([]scan.Finding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]scan.Finding, len(m.findings[jobID]))
	copy(out, m.findings[jobID])
	return out, nil
}
