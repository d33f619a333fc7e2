package domain

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes failures surfaced to operators.
type ErrorCode string

const (
	// CodeInvalidInput indicates a malformed payload rejected before any state change.
	CodeInvalidInput ErrorCode = "invalid_input"

	// CodeNotFound indicates the referenced entity does not exist.
	CodeNotFound ErrorCode = "not_found"

	// CodeIllegalTransition indicates the entity's current status does not allow the action.
	CodeIllegalTransition ErrorCode = "illegal_transition"

	// CodeAlreadyInProgress indicates a concurrent claim or generation already holds the entity.
	CodeAlreadyInProgress ErrorCode = "already_in_progress"

	// CodePreconditionFailed indicates an invariant blocks the action (e.g. a story without slides).
	CodePreconditionFailed ErrorCode = "precondition_failed"

	// CodeRetryExhausted indicates the retry policy refuses another attempt.
	CodeRetryExhausted ErrorCode = "retry_exhausted"

	// CodeCollaboratorFailed indicates an external scraper or generator reported an error.
	CodeCollaboratorFailed ErrorCode = "collaborator_failed"

	// CodeStorageFailed indicates the persistence boundary failed; no partial state is visible.
	CodeStorageFailed ErrorCode = "storage_failed"
)

// EntityKind names the entity an error or change refers to.
type EntityKind string

const (
	EntitySource  EntityKind = "source"
	EntityArticle EntityKind = "article"
	EntityJob     EntityKind = "queue_job"
	EntityStory   EntityKind = "story"
	EntitySlide   EntityKind = "slide"
	EntityExport  EntityKind = "asset_export"
)

// Error is the structured failure returned by every controller.
//
// Reason is a short human-readable sentence shown verbatim as the operator
// explanation. Err optionally carries the underlying cause.
type Error struct {
	Code   ErrorCode
	Entity EntityKind
	ID     string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Reason)
	if e.ID != "" {
		msg = fmt.Sprintf("%s (%s=%s)", msg, e.Entity, e.ID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Invalid builds a CodeInvalidInput error.
func Invalid(entity EntityKind, id, reason string) *Error {
	return &Error{Code: CodeInvalidInput, Entity: entity, ID: id, Reason: reason}
}

// NotFound builds a CodeNotFound error.
func NotFound(entity EntityKind, id string) *Error {
	return &Error{Code: CodeNotFound, Entity: entity, ID: id, Reason: fmt.Sprintf("%s does not exist", entity)}
}

// IllegalTransition builds a CodeIllegalTransition error naming the action
// and the status that refused it.
func IllegalTransition(entity EntityKind, id, action string, from any) *Error {
	return &Error{
		Code:   CodeIllegalTransition,
		Entity: entity,
		ID:     id,
		Reason: fmt.Sprintf("cannot %s a %s in status %s", action, entity, from),
	}
}

// AlreadyInProgress builds a CodeAlreadyInProgress error.
func AlreadyInProgress(entity EntityKind, id, reason string) *Error {
	return &Error{Code: CodeAlreadyInProgress, Entity: entity, ID: id, Reason: reason}
}

// PreconditionFailed builds a CodePreconditionFailed error.
func PreconditionFailed(entity EntityKind, id, reason string) *Error {
	return &Error{Code: CodePreconditionFailed, Entity: entity, ID: id, Reason: reason}
}

// StorageFailed wraps a persistence error.
func StorageFailed(entity EntityKind, id string, err error) *Error {
	return &Error{Code: CodeStorageFailed, Entity: entity, ID: id, Reason: "the change could not be saved", Err: err}
}

// CodeOf returns the code of err, or CodeStorageFailed for untyped errors.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeStorageFailed
}

// Reason returns the operator-facing explanation for err.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) && de.Reason != "" {
		return de.Reason
	}
	return "an unexpected error occurred"
}

// IsNotFound reports whether err is a CodeNotFound error.
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

// IsAlreadyInProgress reports whether err is a CodeAlreadyInProgress error.
func IsAlreadyInProgress(err error) bool {
	return hasCode(err, CodeAlreadyInProgress)
}

// IsIllegalTransition reports whether err is a CodeIllegalTransition error.
func IsIllegalTransition(err error) bool {
	return hasCode(err, CodeIllegalTransition)
}

func hasCode(err error, code ErrorCode) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}
