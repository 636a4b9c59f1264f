package scanners

import (
	"bytes"
	"encoding/json"

	"github.com/cuongbtq/scan-orchestrator/internal/scan"
)

// ExtractJSON recovers the structured payload from tool output that may be
// wrapped in banner noise. Strategy, in order:
//
//  1. the whole (trimmed) output is valid JSON;
//  2. a streaming decode from each '{' or '[' position, which stops at the
//     first fully-balanced top-level value;
//  3. last resort, the first-'{'-to-last-'}' substring.
//
// Returns scan.ErrNoParsableOutput when nothing well-formed exists.
func ExtractJSON(output []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(output)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return json.RawMessage(append([]byte(nil), trimmed...)), nil
	}

	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] != '{' && trimmed[i] != '[' {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(trimmed[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err == nil && json.Valid(raw) {
			return raw, nil
		}
	}

	if start := bytes.IndexByte(trimmed, '{'); start >= 0 {
		if end := bytes.LastIndexByte(trimmed, '}'); end > start {
			candidate := trimmed[start : end+1]
			if json.Valid(candidate) {
				return json.RawMessage(append([]byte(nil), candidate...)), nil
			}
		}
	}

	return nil, scan.ErrNoParsableOutput
}

// ExtractJSONLines parses JSON-Lines output (one object per line) into a
// single JSON array. Lines that are not valid JSON are skipped; empty
// output yields an empty array, which is how line-oriented tools report
// "no findings".
func ExtractJSONLines(output []byte) json.RawMessage {
	items := []json.RawMessage{}
	for _, line := range bytes.Split(output, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] != '{' || !json.Valid(line) {
			continue
		}
		items = append(items, json.RawMessage(append([]byte(nil), line...)))
	}

	arr, err := json.Marshal(items)
	if err != nil {
		return json.RawMessage("[]")
	}
	return arr
}
