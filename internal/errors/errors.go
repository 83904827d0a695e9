package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies a RAGError.
type ErrorCode string

const (
	ErrConfiguration        ErrorCode = "CONFIGURATION"
	ErrRetrievalUnavailable ErrorCode = "RETRIEVAL_UNAVAILABLE"
	ErrGenerationFailure    ErrorCode = "GENERATION_FAILURE"
	ErrInvalidRequest       ErrorCode = "INVALID_REQUEST"
	ErrNotFound             ErrorCode = "NOT_FOUND"
	ErrInternal             ErrorCode = "INTERNAL"
)

// RAGError is a structured error carrying a code, an HTTP-ish status and an optional cause.
type RAGError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *RAGError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *RAGError) Unwrap() error { return e.Err }

// NewConfiguration reports invalid settings detected at construction time.
func NewConfiguration(msg string) *RAGError {
	return &RAGError{
		Code:    ErrConfiguration,
		Status:  500,
		Message: msg,
	}
}

// NewConfigurationf is NewConfiguration with formatting.
func NewConfigurationf(format string, args ...any) *RAGError {
	return NewConfiguration(fmt.Sprintf(format, args...))
}

// NewRetrievalUnavailable wraps an embedding or vector-search failure.
func NewRetrievalUnavailable(op string, err error) *RAGError {
	return &RAGError{
		Code:    ErrRetrievalUnavailable,
		Status:  503,
		Message: op + " failed",
		Details: map[string]any{"operation": op},
		Err:     err,
	}
}

// NewGenerationFailure wraps a generation collaborator failure or timeout.
func NewGenerationFailure(err error) *RAGError {
	return &RAGError{
		Code:    ErrGenerationFailure,
		Status:  502,
		Message: "generation failed",
		Err:     err,
	}
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *RAGError {
	return &RAGError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing resource.
func NewNotFound(kind, identifier string) *RAGError {
	return &RAGError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *RAGError {
	return &RAGError{
		Code:    ErrInternal,
		Status:  500,
		Message: "internal error",
		Err:     err,
	}
}

// As returns the first RAGError in err's chain.
func As(err error) (*RAGError, bool) {
	var rErr *RAGError
	if stderrors.As(err, &rErr) {
		return rErr, true
	}
	return nil, false
}

// Is checks if err's chain contains a RAGError with the given code.
func Is(err error, code ErrorCode) bool {
	rErr, ok := As(err)
	return ok && rErr.Code == code
}

// StatusOf returns the status carried by err, or 500.
func StatusOf(err error) int {
	if rErr, ok := As(err); ok && rErr.Status != 0 {
		return rErr.Status
	}
	return 500
}
