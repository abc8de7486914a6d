package workflow

import (
	"errors"
	"fmt"

	"github.com/songzhibin97/workflow-fsm/storage"
)

// RejectionCode names the rule a rejected request violated.
type RejectionCode string

const (
	CodeMissingDefinitionID  RejectionCode = "missing_definition_id"
	CodeNoStates             RejectionCode = "no_states"
	CodeInitialStateCount    RejectionCode = "initial_state_count"
	CodeDuplicateStateID     RejectionCode = "duplicate_state_id"
	CodeDuplicateActionID    RejectionCode = "duplicate_action_id"
	CodeUnknownStateRef      RejectionCode = "unknown_state_reference"
	CodeNoInitialState       RejectionCode = "no_initial_state"
	CodeFinalState           RejectionCode = "final_state"
	CodeActionNotFound       RejectionCode = "action_not_found"
	CodeActionDisabled       RejectionCode = "action_disabled"
	CodeActionNotAllowed     RejectionCode = "action_not_allowed"
	CodeInvalidFilter        RejectionCode = "invalid_filter"
)

// Not-found sentinels. They alias the storage sentinels so a store error and an
// engine error for the same missing record compare equal under errors.Is.
var (
	ErrDefinitionNotFound = storage.ErrDefinitionNotFound
	ErrInstanceNotFound   = storage.ErrInstanceNotFound
)

// ErrConcurrentUpdate is returned when another writer advanced the instance
// between read and commit. Callers may re-read and retry.
var ErrConcurrentUpdate = errors.New("workflow instance was modified concurrently")

// RejectedError is a client-correctable refusal of a request.
type RejectedError struct {
	Code   RejectionCode
	Detail string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected (%s): %s", e.Code, e.Detail)
}

func rejectf(code RejectionCode, format string, args ...interface{}) *RejectedError {
	return &RejectedError{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing definition or instance.
type NotFoundError struct {
	Kind string
	ID   string
}

const (
	KindDefinition = "definition"
	KindInstance   = "instance"
)

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("workflow %s not found: id=%s", e.Kind, e.ID)
}

// Is matches the not-found sentinel for the error's kind.
func (e *NotFoundError) Is(target error) bool {
	switch e.Kind {
	case KindDefinition:
		return target == ErrDefinitionNotFound
	case KindInstance:
		return target == ErrInstanceNotFound
	}
	return false
}

// IntegrityError means stored data disagrees with its own definition.
// Retrying the same request cannot succeed.
type IntegrityError struct {
	InstanceID string
	Detail     string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation on instance %s: %s", e.InstanceID, e.Detail)
}

// IsRejected reports whether err is a RejectedError.
func IsRejected(err error) bool {
	var target *RejectedError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is a NotFoundError or wraps a storage not-found sentinel.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target) ||
		errors.Is(err, ErrDefinitionNotFound) ||
		errors.Is(err, ErrInstanceNotFound)
}

// IsIntegrity reports whether err is an IntegrityError.
func IsIntegrity(err error) bool {
	var target *IntegrityError
	return errors.As(err, &target)
}

// RejectionCodeOf returns the code of a RejectedError in err's chain, or "".
func RejectionCodeOf(err error) RejectionCode {
	var target *RejectedError
	if errors.As(err, &target) {
		return target.Code
	}
	return ""
}

// notFound converts a storage not-found error into a NotFoundError and wraps
// anything else.
func notFound(err error, kind, id, op string) error {
	if errors.Is(err, storage.ErrDefinitionNotFound) || errors.Is(err, storage.ErrInstanceNotFound) {
		return &NotFoundError{Kind: kind, ID: id}
	}
	return fmt.Errorf("%s: %w", op, err)
}
