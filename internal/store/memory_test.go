package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/scan-orchestrator/internal/scan"
)

func newQueuedJob(id string, createdAt time.Time) *scan.Job {
	return &scan.Job{
		JobID:     id,
		RepoURL:   "https://github.com/acme/" + id,
		Status:    scan.JobStatusQueued,
		CreatedAt: createdAt,
	}
}

func TestMemoryStore_CreateJob(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	job := newQueuedJob("job-1", time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, scan.JobStatusQueued, got.Status)
	assert.Equal(t, job.RepoURL, got.RepoURL)

	// Duplicate id is rejected
	err = s.CreateJob(ctx, newQueuedJob("job-1", time.Now().UTC()))
	assert.ErrorIs(t, err, scan.ErrDuplicateJob)
}

func TestMemoryStore_GetJob_NotFound(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, scan.ErrJobNotFound)
}

func TestMemoryStore_ClaimNextJob_Order(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	base := time.Now().UTC()
	require.NoError(t, s.CreateJob(ctx, newQueuedJob("job-b", base.Add(time.Second))))
	require.NoError(t, s.CreateJob(ctx, newQueuedJob("job-a", base)))
	require.NoError(t, s.CreateJob(ctx, newQueuedJob("job-c", base.Add(2*time.Second))))

	first, err := s.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "job-a", first.JobID)
	assert.Equal(t, scan.JobStatusRunning, first.Status)
	require.NotNil(t, first.StartedAt)

	second, err := s.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "job-b", second.JobID)

	third, err := s.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, "job-c", third.JobID)

	// Queue drained
	none, err := s.ClaimNextJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMemoryStore_ClaimNextJob_TieBreakOnJobID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	created := time.Now().UTC()
	require.NoError(t, s.CreateJob(ctx, newQueuedJob("job-z", created)))
	require.NoError(t, s.CreateJob(ctx, newQueuedJob("job-a", created)))

	claimed, err := s.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "job-a", claimed.JobID)
}

func TestMemoryStore_ClaimNextJob_Exclusive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	const jobCount = 50
	const claimers = 8

	base := time.Now().UTC()
	for i := 0; i < jobCount; i++ {
		job := newQueuedJob(fmt.Sprintf("job-%03d", i), base.Add(time.Duration(i)*time.Millisecond))
		require.NoError(t, s.CreateJob(ctx, job))
	}

	var mu sync.Mutex
	claimedBy := make(map[string]int)

	var wg sync.WaitGroup
	for c := 0; c < claimers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := s.ClaimNextJob(ctx)
				assert.NoError(t, err)
				if job == nil {
					return
				}
				mu.Lock()
				claimedBy[job.JobID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Every job claimed exactly once
	assert.Len(t, claimedBy, jobCount)
	for id, count := range claimedBy {
		assert.Equal(t, 1, count, "job %s claimed %d times", id, count)
	}
}

func TestMemoryStore_FinishJob(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateJob(ctx, newQueuedJob("job-1", time.Now().UTC())))

	claimed, err := s.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, s.FinishJob(ctx, "job-1", scan.JobStatusFailed, "clone failed"))

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, scan.JobStatusFailed, got.Status)
	assert.Equal(t, "clone failed", got.Error)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.Terminal())

	// Unknown job is a tolerated no-op
	assert.NoError(t, s.FinishJob(ctx, "missing", scan.JobStatusSucceeded, ""))
}

func TestMemoryStore_ListRecentJobs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		job := newQueuedJob(fmt.Sprintf("job-%d", i), base.Add(time.Duration(i)*time.Second))
		require.NoError(t, s.CreateJob(ctx, job))
	}

	jobs, err := s.ListRecentJobs(ctx, 3)
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	// Newest first
	assert.Equal(t, "job-4", jobs[0].JobID)
	assert.Equal(t, "job-3", jobs[1].JobID)
	assert.Equal(t, "job-2", jobs[2].JobID)
}

func TestMemoryStore_Logs_CursorPaging(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateJob(ctx, newQueuedJob("job-1", time.Now().UTC())))
	require.NoError(t, s.CreateJob(ctx, newQueuedJob("job-2", time.Now().UTC())))

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendLog(ctx, "job-1", scan.LogLevelInfo, fmt.Sprintf("line %d", i)))
		// Interleave another job's lines; they must not leak into job-1's page.
		require.NoError(t, s.AppendLog(ctx, "job-2", scan.LogLevelInfo, "noise"))
	}

	page, err := s.ListLogsSince(ctx, "job-1", 0, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "line 0", page[0].Message)
	assert.Equal(t, "line 2", page[2].Message)
	for i := 1; i < len(page); i++ {
		assert.Greater(t, page[i].Seq, page[i-1].Seq)
	}

	// Resume from the cursor
	rest, err := s.ListLogsSince(ctx, "job-1", page[2].Seq, 10)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "line 3", rest[0].Message)
	assert.Equal(t, "line 4", rest[1].Message)

	// Cursor past the end yields an empty page
	empty, err := s.ListLogsSince(ctx, "job-1", rest[1].Seq, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStore_AppendLog_UnknownJob(t *testing.T) {
	s := NewMemoryStore()

	err := s.AppendLog(context.Background(), "missing", scan.LogLevelInfo, "orphan")
	assert.ErrorIs(t, err, scan.ErrJobNotFound)
}

func TestMemoryStore_Findings(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateJob(ctx, newQueuedJob("job-1", time.Now().UTC())))

	summary := scan.Summary{High: 2, Medium: 1, Total: 3}
	raw := []byte(`{"results":[]}`)
	require.NoError(t, s.AddFinding(ctx, "job-1", "semgrep", summary, raw))
	require.NoError(t, s.AddFinding(ctx, "job-1", "trivy", scan.Summary{Total: 0}, []byte(`{}`)))

	findings, err := s.ListFindings(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, findings, 2)

	// Insertion order preserved
	assert.Equal(t, "semgrep", findings[0].Tool)
	assert.Equal(t, summary, findings[0].Summary)
	assert.Equal(t, raw, findings[0].Raw)
	assert.Equal(t, "trivy", findings[1].Tool)

	// Unknown job
	err = s.AddFinding(ctx, "missing", "semgrep", scan.Summary{}, nil)
	assert.ErrorIs(t, err, scan.ErrJobNotFound)

	none, err := s.ListFindings(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}
