package scanners

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cuongbtq/scan-orchestrator/internal/runner"
	"github.com/cuongbtq/scan-orchestrator/internal/scan"
)

// syftDriver produces an SBOM of the repository. An SBOM has no
// severities, so its summary only carries the package count.
type syftDriver struct{}

func (syftDriver) Name() string { return "syft" }

func (d syftDriver) Scan(ctx context.Context, r runner.Runner, workDir, image string, timeout time.Duration) (json.RawMessage, error) {
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

func (syftDriver) Summarize(raw json.RawMessage) scan.Summary {
	var doc struct {
		Artifacts []json.RawMessage `json:"artifacts"`
	}
	var summary scan.Summary
	if err := json.Unmarshal(raw, &doc); err != nil {
		return summary
	}
	summary.Total = len(doc.Artifacts)
	return summary
}
