package scanners

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cuongbtq/scan-orchestrator/internal/runner"
	"github.com/cuongbtq/scan-orchestrator/internal/scan"
)

// grypeDriver matches the repository's packages against vulnerability data.
type grypeDriver struct{}

func (grypeDriver) Name() string { return "grype" }

func (d grypeDriver) Scan(ctx context.Context, r runner.Runner, workDir, image string, timeout time.Duration) (json.RawMessage, error) {
	res, err := runTool(ctx, r, workDir, image, timeout,
		"dir:"+srcPath, "-o", "json", "--quiet")
	if err != nil {
		return nil, err
	}
	if failure := toolFailure(d.Name(), res); failure != nil {
		return nil, failure
	}

	raw, err := ExtractJSON([]byte(res.Stdout))
	if err != nil {
		return nil, &scan.StageError{
			Stage:  d.Name(),
			Reason: "parse",
			Err:    err,
			Detail: res.Stdout,
		}
	}
	return raw, nil
}

func (grypeDriver) Summarize(raw json.RawMessage) scan.Summary {
	var doc struct {
		Matches []struct {
			Vulnerability struct {
				Severity string `json:"severity"`
			} `json:"vulnerability"`
		} `json:"matches"`
	}
	var summary scan.Summary
	if err := json.Unmarshal(raw, &doc); err != nil {
		return summary
	}
	for _, match := range doc.Matches {
		bucket(&summary, match.Vulnerability.Severity)
	}
	return summary
}
