package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies domain errors so the transport layer can map them to
// response statuses without inspecting message strings.
type ErrorCode string

const (
	CodeValidation        ErrorCode = "VALIDATION"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeConflict          ErrorCode = "CONFLICT"
	CodeForbidden         ErrorCode = "FORBIDDEN"
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	CodeAlreadyMatched    ErrorCode = "ALREADY_MATCHED"
	CodeNotCurrentOffer   ErrorCode = "NOT_CURRENT_OFFER"
	CodeAlreadyInTrip     ErrorCode = "ALREADY_IN_TRIP"
	CodeDriverUnavailable ErrorCode = "DRIVER_UNAVAILABLE"
)

// Error is the common error type returned by the coordination core.
type Error struct {
	Code    ErrorCode
	Message string
}

// Error returns the human-readable message.
func (e *Error) Error() string {
	return e.Message
}

// CodeOf extracts the ErrorCode from err, or empty string if err is not a domain error.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsCode reports whether err is a domain error with the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// NewValidationError creates an error for invalid caller input.
func NewValidationError(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// NewNotFoundError creates an error for a missing entity.
func NewNotFoundError(entity, id string) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s not found: %s", entity, id)}
}

// NewConflictError creates an error for a concurrent-modification conflict.
func NewConflictError(msg string) *Error {
	return &Error{Code: CodeConflict, Message: msg}
}

// NewForbiddenError creates an error for an operation the caller may not perform.
func NewForbiddenError(msg string) *Error {
	return &Error{Code: CodeForbidden, Message: msg}
}

// NewInvalidTransitionError creates an error for a command that is not legal
// in the trip's current state. The command is rejected and state is unchanged.
func NewInvalidTransitionError(state, event string) *Error {
	return &Error{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("event %q is not valid in state %q", event, state),
	}
}

// NewAlreadyMatchedError creates an error for a lost matching race.
func NewAlreadyMatchedError(tripID string) *Error {
	return &Error{Code: CodeAlreadyMatched, Message: fmt.Sprintf("trip %s was already accepted by another driver", tripID)}
}

// NewNotCurrentOfferError creates an error for a driver accepting a trip that
// was not offered to them.
func NewNotCurrentOfferError(tripID string) *Error {
	return &Error{Code: CodeNotCurrentOffer, Message: fmt.Sprintf("trip %s is not currently offered to this driver", tripID)}
}

// NewAlreadyInTripError creates an error for the one-active-trip-per-party invariant.
func NewAlreadyInTripError(role, id string) *Error {
	return &Error{Code: CodeAlreadyInTrip, Message: fmt.Sprintf("%s %s already has an active trip", role, id)}
}

// NewDriverUnavailableError creates an error for a driver that went offline or
// busy between offer and acceptance.
func NewDriverUnavailableError(driverID string) *Error {
	return &Error{Code: CodeDriverUnavailable, Message: fmt.Sprintf("driver %s is not available", driverID)}
}
