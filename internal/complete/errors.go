package complete

import (
	"errors"
	"fmt"
)

// Pipeline stage names. These appear verbatim in user-facing failure
// messages, so they stay SCREAMING_SNAKE.
const (
	StageRequested             = "REQUESTED"
	StageResolvingAgent        = "RESOLVING_AGENT"
	StageVerifyingDeliverables = "VERIFYING_DELIVERABLES"
	StageVerifyingPhase        = "VERIFYING_PHASE"
	StageValidatingVCS         = "VALIDATING_VCS"
	StageClosingIssue          = "CLOSING_ISSUE"
	StageReleasingTransport    = "RELEASING_TRANSPORT"
	StageDone                  = "DONE"
)

var (
	ErrDeliverableMissing = errors.New("deliverable missing")
	ErrPhaseNotComplete   = errors.New("phase not complete")
	ErrRepoMismatch       = errors.New("agent belongs to a different repository")
	ErrVcsDirty           = errors.New("working tree has uncommitted changes")
	ErrReviewRequired     = errors.New("review acknowledgment required")
)

// StageError names the pipeline stage that failed. Verification failures
// are never retried internally; the caller sees exactly one stage-tagged
// line per failed run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}
