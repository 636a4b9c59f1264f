package scan

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrDuplicateJob is returned when creating a job whose id already exists
	ErrDuplicateJob = errors.New("job id already exists")

	// ErrNoParsableOutput is returned when tool output contains no
	// well-formed JSON value anywhere
	ErrNoParsableOutput = errors.New("no parsable JSON in tool output")
)

// StageError is a terminal failure of one pipeline stage. It carries the
// captured process output so the diagnostic detail survives into the job
// log and the job's error field.
type StageError struct {
	Stage    string // clone, checkout, or a tool name
	Reason   string // failed, timeout, parse
	Detail   string // captured stderr/stdout, possibly truncated
	Err      error
	TimedOut bool
}

func (e *StageError) Error() string {
	msg := e.Stage + " " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Unwrap() error {
	return e.Err
}
