package daemon

import (
	"errors"
	"fmt"

	"forge/internal/artifact"
	"forge/internal/bus"
	"forge/internal/orchestrator"
)

type ServiceErrorKind string

const (
	ServiceErrorInvalid     ServiceErrorKind = "invalid"
	ServiceErrorNotFound    ServiceErrorKind = "not_found"
	ServiceErrorUnavailable ServiceErrorKind = "unavailable"
	ServiceErrorConflict    ServiceErrorKind = "conflict"
)

type ServiceError struct {
	Kind    ServiceErrorKind
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *ServiceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func invalidError(message string, err error) *ServiceError {
	return &ServiceError{Kind: ServiceErrorInvalid, Message: message, Err: err}
}

func notFoundError(message string, err error) *ServiceError {
	return &ServiceError{Kind: ServiceErrorNotFound, Message: message, Err: err}
}

func conflictError(message string, err error) *ServiceError {
	return &ServiceError{Kind: ServiceErrorConflict, Message: message, Err: err}
}

// classifyError maps engine and storage sentinels onto service errors so
// handlers can pass failures straight through.
func classifyError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, orchestrator.ErrRunNotFound),
		errors.Is(err, artifact.ErrRunNotFound):
		return notFoundError("run not found", err)
	case errors.Is(err, artifact.ErrFileNotFound):
		return notFoundError("file not found", err)
	case errors.Is(err, artifact.ErrVersionNotFound):
		return notFoundError("version not found", err)
	case errors.Is(err, orchestrator.ErrInvalidSpec),
		errors.Is(err, artifact.ErrInvalidPath),
		errors.Is(err, orchestrator.ErrNoReviewFiles):
		return invalidError(err.Error(), nil)
	case errors.Is(err, orchestrator.ErrRunActive):
		return conflictError("run is still active", err)
	case errors.Is(err, bus.ErrRunClosed):
		return conflictError("run event log is closed", err)
	default:
		return err
	}
}
