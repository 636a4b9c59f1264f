package gitfetch

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/scan-orchestrator/internal/runner"
	"github.com/cuongbtq/scan-orchestrator/internal/scan"
)

// recordingRunner records every invocation and replays scripted results.
type recordingRunner struct {
	specs   []runner.Spec
	results []runner.Result
	err     error
}

func (r *recordingRunner) Run(_ context.Context, spec runner.Spec) (runner.Result, error) {
	r.specs = append(r.specs, spec)
	if r.err != nil {
		return runner.Result{}, r.err
	}
	if len(r.results) == 0 {
		return runner.Result{}, nil
	}
	res := r.results[0]
	r.results = r.results[1:]
	return res, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestFetch_CloneOnly(t *testing.T) {
	rec := &recordingRunner{}
	f := NewFetcher(rec, "alpine/git:latest", testLogger())

	err := f.Fetch(context.Background(), "https://github.com/acme/app", "", "/tmp/job-1", time.Minute)
	require.NoError(t, err)

	// Without a ref, only the shallow clone runs.
	require.Len(t, rec.specs, 1)
	spec := rec.specs[0]
	assert.Equal(t, "alpine/git:latest", spec.Image)
	assert.Equal(t, []string{"clone", "--depth", "1", "--", "https://github.com/acme/app", "."}, spec.Args)
	assert.Equal(t, []runner.Mount{{Host: "/tmp/job-1", Container: "/work"}}, spec.Mounts)
	assert.Equal(t, "/work", spec.WorkDir)
	assert.Equal(t, time.Minute, spec.Timeout)
}

func TestFetch_WithRef(t *testing.T) {
	rec := &recordingRunner{}
	f := NewFetcher(rec, "alpine/git:latest", testLogger())

	err := f.Fetch(context.Background(), "https://github.com/acme/app", "v1.2.3", "/tmp/job-1", time.Minute)
	require.NoError(t, err)

	require.Len(t, rec.specs, 3)
	assert.Equal(t, []string{"clone", "--depth", "1", "--", "https://github.com/acme/app", "."}, rec.specs[0].Args)
	assert.Equal(t, []string{"fetch", "--tags", "origin"}, rec.specs[1].Args)
	assert.Equal(t, []string{"checkout", "--detach", "v1.2.3"}, rec.specs[2].Args)
}

func TestFetch_RefValidation(t *testing.T) {
	tests := []struct {
		name  string
		ref   string
		valid bool
	}{
		{name: "branch", ref: "main", valid: true},
		{name: "tag", ref: "v1.2.3", valid: true},
		{name: "commit sha", ref: "0b7e3a9c4f2d", valid: true},
		{name: "nested branch", ref: "feature/login-flow", valid: true},
		{name: "ref with at sign", ref: "release@2024", valid: true},
		{name: "leading dash is an option", ref: "--upload-pack=/bin/sh", valid: false},
		{name: "leading dot", ref: ".hidden", valid: false},
		{name: "shell metacharacters", ref: "main;rm -rf /", valid: false},
		{name: "embedded space", ref: "my branch", valid: false},
		{name: "backtick injection", ref: "`id`", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingRunner{}
			f := NewFetcher(rec, "alpine/git:latest", testLogger())

			err := f.Fetch(context.Background(), "https://github.com/acme/app", tt.ref, "/tmp/job-1", time.Minute)

			if tt.valid {
				assert.NoError(t, err)
			} else {
				var stageErr *scan.StageError
				require.ErrorAs(t, err, &stageErr)
				assert.Equal(t, "checkout", stageErr.Stage)
				// Rejected before any process runs.
				assert.Empty(t, rec.specs)
			}
		})
	}
}

func TestFetch_CloneFailure(t *testing.T) {
	rec := &recordingRunner{
		results: []runner.Result{
			{ExitCode: 128, Stderr: "fatal: repository not found\n"},
		},
	}
	f := NewFetcher(rec, "alpine/git:latest", testLogger())

	err := f.Fetch(context.Background(), "https://github.com/acme/missing", "", "/tmp/job-1", time.Minute)

	var stageErr *scan.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "clone", stageErr.Stage)
	assert.Equal(t, "failed", stageErr.Reason)
	assert.Contains(t, stageErr.Detail, "repository not found")
}

func TestFetch_CloneTimeout(t *testing.T) {
	rec := &recordingRunner{
		results: []runner.Result{
			{ExitCode: -1, TimedOut: true, Stderr: "Cloning into '.'...\n"},
		},
	}
	f := NewFetcher(rec, "alpine/git:latest", testLogger())

	err := f.Fetch(context.Background(), "https://github.com/acme/huge", "", "/tmp/job-1", time.Second)

	var stageErr *scan.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "clone", stageErr.Stage)
	assert.Equal(t, "timeout", stageErr.Reason)
	assert.True(t, stageErr.TimedOut)
}

func TestFetch_CheckoutFailure(t *testing.T) {
	rec := &recordingRunner{
		results: []runner.Result{
			{ExitCode: 0},
			{ExitCode: 0},
			{ExitCode: 1, Stderr: "error: pathspec 'ghost' did not match\n"},
		},
	}
	f := NewFetcher(rec, "alpine/git:latest", testLogger())

	err := f.Fetch(context.Background(), "https://github.com/acme/app", "ghost", "/tmp/job-1", time.Minute)

	var stageErr *scan.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "checkout", stageErr.Stage)
	assert.Contains(t, stageErr.Detail, "pathspec")
}

func TestFetch_RunnerError(t *testing.T) {
	rec := &recordingRunner{err: errors.New("docker binary not found")}
	f := NewFetcher(rec, "alpine/git:latest", testLogger())

	err := f.Fetch(context.Background(), "https://github.com/acme/app", "", "/tmp/job-1", time.Minute)
	require.Error(t, err)

	var stageErr *scan.StageError
	assert.False(t, errors.As(err, &stageErr), "runner launch failures are not stage errors")
}
