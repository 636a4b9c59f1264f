package scanners

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cuongbtq/scan-orchestrator/internal/runner"
	"github.com/cuongbtq/scan-orchestrator/internal/scan"
)

// nucleiDriver runs nuclei templates against the checked-out repository.
// Nuclei emits JSON Lines, one finding per line, and nothing at all when
// there are no findings.
type nucleiDriver struct{}

func (nucleiDriver) Name() string { return "nuclei" }

func (d nucleiDriver) Scan(ctx context.Context, r runner.Runner, workDir, image string, timeout time.Duration) (json.RawMessage, error) {
	res, err := runTool(ctx, r, workDir, image, timeout,
		"-u", "file://"+srcPath, "-jsonl", "-silent")
	if err != nil {
		return nil, err
	}
	if failure := toolFailure(d.Name(), res); failure != nil {
		return nil, failure
	}

	return ExtractJSONLines([]byte(res.Stdout)), nil
}

func (nucleiDriver) Summarize(raw json.RawMessage) scan.Summary {
	var findings []struct {
		Info struct {
			Severity string `json:"severity"`
		} `json:"info"`
	}
	var summary scan.Summary
	if err := json.Unmarshal(raw, &findings); err != nil {
		return summary
	}
	for _, finding := range findings {
		bucket(&summary, finding.Info.Severity)
	}
	return summary
}
