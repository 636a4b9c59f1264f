package scanners

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/scan-orchestrator/internal/runner"
	"github.com/cuongbtq/scan-orchestrator/internal/scan"
)

// srcPath is where the fetched repository is mounted inside tool containers.
const srcPath = "/src"

// Driver encapsulates how to invoke one scan tool and interpret its output.
type Driver interface {
	// Name is the stable tool identifier persisted with findings.
	Name() string

	// Scan runs the tool against workDir and returns its raw JSON document.
	Scan(ctx context.Context, r runner.Runner, workDir, image string, timeout time.Duration) (json.RawMessage, error)

	// Summarize reduces a raw document to the canonical summary. It never
	// fails: malformed or absent fields count as zero.
	Summarize(raw json.RawMessage) scan.Summary
}

// DefaultOrder is the fixed, deterministic order the pipeline runs drivers in.
func DefaultOrder() []string {
	return []string{"semgrep", "trivy", "grype", "syft", "nuclei"}
}

// ByName returns the driver for a tool name.
func ByName(name string) (Driver, bool) {
	switch strings.ToLower(name) {
	case "semgrep":
		return semgrepDriver{}, true
	case "trivy":
		return trivyDriver{}, true
	case "grype":
		return grypeDriver{}, true
	case "syft":
		return syftDriver{}, true
	case "nuclei":
		return nucleiDriver{}, true
	default:
		return nil, false
	}
}

// runTool invokes a scanner container with the repository mounted read-only.
func runTool(ctx context.Context, r runner.Runner, workDir, image string, timeout time.Duration, args ...string) (runner.Result, error) {
	return r.Run(ctx, runner.Spec{
		Image: image,
		Args:  args,
		Mounts: []runner.Mount{
			{Host: workDir, Container: srcPath, ReadOnly: true},
		},
		Timeout: timeout,
	})
}

// toolFailure converts a non-success runner result into a StageError, or
// returns nil when the tool exited cleanly.
func toolFailure(tool string, res runner.Result) error {
	if res.TimedOut {
		return &scan.StageError{
			Stage:    tool,
			Reason:   "timeout",
			Detail:   res.Stderr,
			TimedOut: true,
		}
	}
	if res.ExitCode != 0 {
		return &scan.StageError{
			Stage:  tool,
			Reason: "failed",
			Err:    fmt.Errorf("exit code %d", res.ExitCode),
			Detail: res.Stderr + res.Stdout,
		}
	}
	return nil
}

// severity bucket names shared across tools, compared case-insensitively.
func bucket(s *scan.Summary, severity string) {
	switch strings.ToUpper(severity) {
	case "CRITICAL":
		s.Critical++
	case "HIGH", "ERROR":
		s.High++
	case "MEDIUM", "WARNING":
		s.Medium++
	case "LOW":
		s.Low++
	default:
		// INFO, NEGLIGIBLE, UNKNOWN, or absent.
		s.Info++
	}
	s.Total++
}
