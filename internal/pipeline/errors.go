package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleRequest marks results from a superseded request version.
	// It is informational: the newer request owns the symbol now.
	ErrStaleRequest = errors.New("stale request superseded by newer version")

	// ErrNoFindings means every ANALYZING collector failed, leaving nothing
	// to synthesize.
	ErrNoFindings = errors.New("no analysis findings available")
)

// StageError wraps the failure that drove a request to FAILED, carrying the
// stage and how many attempts were spent.
type StageError struct {
	Stage    Stage
	Attempts int
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed after %d attempt(s): %v", e.Stage, e.Attempts, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// AsStageError unwraps err to its StageError, if any.
func AsStageError(err error) (*StageError, bool) {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr, true
	}
	return nil, false
}

// IsStale reports whether err means the request was superseded.
func IsStale(err error) bool {
	return errors.Is(err, ErrStaleRequest)
}
