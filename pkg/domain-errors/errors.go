// Package domainerrors carries coded domain errors across service boundaries.
//
// Services return these so transports can map them to user-facing responses
// without inspecting error strings. Infrastructure facts (not found, conflict)
// live in pkg/platform/sentinel and are translated into codes by services.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	CodeBadRequest     Code = "bad_request"
	CodeInvalidInput   Code = "invalid_input"
	CodeValidation     Code = "validation_error"
	CodeNotFound       Code = "not_found"
	CodeConflict       Code = "conflict"
	CodeUnauthorized   Code = "unauthorized"
	CodeForbidden      Code = "forbidden"
	CodeTimeout        Code = "timeout"
	CodeInternal       Code = "internal_error"
	CodeMissingConsent Code = "missing_consent"

	// Key material is absent or malformed. Fatal at startup.
	CodeKeyConfiguration Code = "key_configuration_error"
	// A ciphertext or tag did not verify. Treated as tampering or corruption.
	CodeAuthenticationFailure Code = "authentication_failure"
	CodeRateLimited           Code = "rate_limit_exceeded"
	CodeLedgerWrite           Code = "ledger_write_error"
	CodeStoreWrite            Code = "store_write_error"
	// Re-delivery of work that already completed. Callers treat it as success.
	CodeDuplicate Code = "duplicate_processing_detected"
)

// Error is a coded domain error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error without a cause.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying error.
// The cause stays reachable through errors.Is / errors.As.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether any error in the chain carries code.
func HasCode(err error, code Code) bool {
	var de *Error
	for err != nil {
		if errors.As(err, &de) {
			if de.Code == code {
				return true
			}
			err = de.Err
			continue
		}
		return false
	}
	return false
}

// Is is an alias for HasCode kept for handler readability.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the outermost code in the chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
