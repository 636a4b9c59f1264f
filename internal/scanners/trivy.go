package scanners

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cuongbtq/scan-orchestrator/internal/runner"
	"github.com/cuongbtq/scan-orchestrator/internal/scan"
)

// trivyDriver runs a trivy filesystem scan (vulnerabilities in lockfiles,
// OS packages and config).
type trivyDriver struct{}

func (trivyDriver) Name() string { return "trivy" }

func (d trivyDriver) Scan(ctx context.Context, r runner.Runner, workDir, image string, timeout time.Duration) (json.RawMessage, error) {
	res, err := runTool(ctx, r, workDir, image, timeout,
		"fs", "--format", "json", "--quiet", srcPath)
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

func (trivyDriver) Summarize(raw json.RawMessage) scan.Summary {
	var doc struct {
		Results []struct {
			Vulnerabilities []struct {
				Severity string `json:"Severity"`
			} `json:"Vulnerabilities"`
		} `json:"Results"`
	}
	var summary scan.Summary
	if err := json.Unmarshal(raw, &doc); err != nil {
		return summary
	}
	for _, result := range doc.Results {
		for _, vuln := range result.Vulnerabilities {
			bucket(&summary, vuln.Severity)
		}
	}
	return summary
}
