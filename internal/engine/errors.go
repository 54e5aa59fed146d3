package engine

import (
	"errors"
	"fmt"

	"github.com/artpar/shipyard/internal/core/domain"
)

// =============================================================================
// Engine Errors
// =============================================================================

var (
	// ErrOperationInProgress rejects a second mutating operation for an
	// application that already has one running.
	ErrOperationInProgress = errors.New("operation already in progress")
)

// PipelineError reports a failed build pipeline invocation. Stage is the
// phase that was running when the failure happened; Err carries the
// tool's output verbatim.
type PipelineError struct {
	Stage   domain.BuildStage
	App     string
	Version string
	Err     error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline failed during %s for %s:%s: %v", e.Stage, e.App, e.Version, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// PromotionError reports a failed production promotion. Reverted tells the
// caller whether the one-shot automatic revert to the prior image went
// through.
type PromotionError struct {
	App      string
	Version  string
	Reverted bool
	Err      error
}

func (e *PromotionError) Error() string {
	if e.Reverted {
		return fmt.Sprintf("promotion of %s:%s failed (reverted to previous image): %v", e.App, e.Version, e.Err)
	}
	return fmt.Sprintf("promotion of %s:%s failed: %v", e.App, e.Version, e.Err)
}

func (e *PromotionError) Unwrap() error {
	return e.Err
}
