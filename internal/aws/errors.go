package aws

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/stackrun/stackrun/internal/poll"
)

// Stage names the part of a run that failed.
type Stage string

const (
	StageProvision Stage = "provision"
	StageResolve   Stage = "resolve"
	StageReady     Stage = "ready"
	StageUpload    Stage = "upload"
	StageSubmit    Stage = "submit"
	StageWatch     Stage = "watch"
)

// Sentinel errors identifying the kind of a stage failure.
var (
	// ErrProvision indicates stack creation or its wait failed.
	ErrProvision = errors.New("stack provisioning failed")

	// ErrResolution indicates a stack output or resource could not be found.
	ErrResolution = errors.New("stack resource not found")

	// ErrClusterFailed indicates the cluster terminated while waiting for it.
	ErrClusterFailed = errors.New("cluster entered terminal state")

	// ErrUpload indicates the job artifact could not be uploaded.
	ErrUpload = errors.New("artifact upload failed")

	// ErrSubmission indicates the step could not be added to the cluster.
	ErrSubmission = errors.New("step submission failed")

	// ErrStepStatus indicates the step state could not be read.
	ErrStepStatus = errors.New("step status unavailable")

	// ErrTimeout indicates a wait exceeded its deadline.
	ErrTimeout = poll.ErrTimeout
)

// Classified remote failures.
var (
	ErrStackNotFound = errors.New("stack does not exist")
	ErrAccessDenied  = errors.New("access denied")
	ErrThrottled     = errors.New("request throttled")
)

// StageError wraps a failure with the stage it happened in. errors.Is matches
// both the Kind sentinel and the underlying cause.
type StageError struct {
	Stage Stage
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func stageErr(stage Stage, kind, err error) error {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// StageOf returns the stage recorded on err, if any.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// Classify maps an AWS API error to one of the classified sentinels, or nil
// when the error is not recognised.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrStackNotFound, ErrAccessDenied, ErrThrottled} {
		if errors.Is(err, known) {
			return known
		}
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return nil
	}
	switch apiErr.ErrorCode() {
	case "ValidationError":
		// CloudFormation reports a missing stack as a validation error.
		if strings.Contains(apiErr.ErrorMessage(), "does not exist") {
			return ErrStackNotFound
		}
	case "AccessDenied", "AccessDeniedException", "UnauthorizedOperation", "Forbidden":
		return ErrAccessDenied
	case "Throttling", "ThrottlingException", "RequestLimitExceeded", "SlowDown", "TooManyRequestsException":
		return ErrThrottled
	}
	return nil
}

// IsStackNotFound reports whether err means the stack does not exist.
func IsStackNotFound(err error) bool {
	return errors.Is(Classify(err), ErrStackNotFound)
}

// waiterTimeout turns the SDK waiter's deadline error into ErrTimeout.
func waiterTimeout(err error) error {
	if err != nil && strings.Contains(err.Error(), "exceeded max wait time") {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
