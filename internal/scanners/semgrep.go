package scanners

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cuongbtq/scan-orchestrator/internal/runner"
	"github.com/cuongbtq/scan-orchestrator/internal/scan"
)

// semgrepDriver runs semgrep's auto ruleset against the repository.
type semgrepDriver struct{}

func (semgrepDriver) Name() string { return "semgrep" }

func (d semgrepDriver) Scan(ctx context.Context, r runner.Runner, workDir, image string, timeout time.Duration) (json.RawMessage, error) {
	res, err := runTool(ctx, r, workDir, image, timeout,
		"semgrep", "scan", "--config", "auto", "--json", "--quiet", srcPath)
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

func (semgrepDriver) Summarize(raw json.RawMessage) scan.Summary {
	var doc struct {
		Results []struct {
			Extra struct {
				Severity string `json:"severity"`
			} `json:"extra"`
		} `json:"results"`
	}
	var summary scan.Summary
	if err := json.Unmarshal(raw, &doc); err != nil {
		return summary
	}
	for _, result := range doc.Results {
		bucket(&summary, result.Extra.Severity)
	}
	return summary
}
