// Package domainerrors carries coded domain errors across service boundaries.
//
// Stores return infrastructure sentinels (pkg/platform/sentinel); services
// translate them into a Code so callers can branch with HasCode without
// string matching. The user-visible message is derived from the code by
// SafeMessage, so internal wrap chains never leak to clients.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error.
type Code string

const (
	CodeInternal           Code = "internal"
	CodeInvariantViolation Code = "invariant_violation"
	CodeValidation         Code = "validation"
	CodeInvalidInput       Code = "invalid_input"
	CodeBadRequest         Code = "bad_request"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeForbidden          Code = "forbidden"
	CodeUnauthorized       Code = "unauthorized"
	CodeTimeout            Code = "timeout"
	CodeUnavailable        Code = "unavailable"

	// Workflow codes.
	CodeUnclaimableEntityType    Code = "unclaimable_entity_type"
	CodeProfileAlreadyAssociated Code = "profile_already_associated"
	CodeAlreadyClaimed           Code = "already_claimed"
	CodeCardinalityViolation     Code = "cardinality_violation"
	CodeUnresolvedReference      Code = "unresolved_reference"
	CodePartialMergeFailure      Code = "partial_merge_failure"
	CodeInconsistentGraph        Code = "inconsistent_graph"
)

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Newf is New with formatting.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to err. A nil err yields nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether any error in err's chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// CodeOf returns the outermost code in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// SafeMessage maps an error to a message that is safe to show to a caller.
// Cardinality and consistency failures surface as a generic failure.
func SafeMessage(err error) string {
	switch CodeOf(err) {
	case CodeUnclaimableEntityType:
		return "the selected item cannot be claimed"
	case CodeProfileAlreadyAssociated:
		return "a profile is already associated with this user"
	case CodeAlreadyClaimed:
		return "the selected item has already been claimed"
	case CodeUnresolvedReference:
		return "the referenced item could not be found"
	case CodeNotFound:
		return "resource not found"
	case CodeForbidden:
		return "operation not permitted"
	case CodeValidation, CodeInvalidInput, CodeBadRequest:
		var de *Error
		if errors.As(err, &de) {
			return de.Message
		}
		return "invalid request"
	case CodeConflict:
		return "resource conflict"
	case CodeTimeout, CodeUnavailable:
		return "service temporarily unavailable"
	default:
		return "the operation could not be completed"
	}
}

// ToHTTPStatus maps an error code to a transport status.
func ToHTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation, CodeInvalidInput, CodeBadRequest, CodeUnclaimableEntityType:
		return http.StatusBadRequest
	case CodeNotFound, CodeUnresolvedReference:
		return http.StatusNotFound
	case CodeConflict, CodeProfileAlreadyAssociated, CodeAlreadyClaimed:
		return http.StatusConflict
	case CodeForbidden:
		return http.StatusForbidden
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
