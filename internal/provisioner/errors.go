package provisioner

import (
	"errors"
	"fmt"
)

var (
	ErrRunInProgress   = errors.New("a provisioning run is already in progress")
	ErrCredentialScope = errors.New("enrollment credential is scoped to a different policy")
)

// NotFoundError reports that the named policy does not exist.
type NotFoundError struct {
	PolicyName string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("policy %q not found", e.PolicyName)
}

// StageError tags the originating error with the stage that failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage returns the stage recorded in err, if any.
func FailedStage(err error) (Stage, bool) {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage, true
	}
	return "", false
}
