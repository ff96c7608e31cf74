package errors

import (
	"errors"
	"fmt"
)

// Error types for the pipeline domains
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeSchema     ErrorType = "schema"
	ErrorTypeBusiness   ErrorType = "business"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeStorage    ErrorType = "storage"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeIntegrity  ErrorType = "integrity"

	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
)

// Well-known codes used across services.
const (
	CodeClaimGeneration   = "CLAIM_GENERATION_FAILED"
	CodeFinalization      = "FINALIZATION_FAILED"
	CodeIntegrity         = "INTEGRITY_VIOLATION"
	CodeSchema            = "SCHEMA_VIOLATION"
	CodeInvalidTransition = "INVALID_STATUS_TRANSITION"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors
func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: 400,
	}
}

// NewFieldError is a validation error naming the offending input field.
func NewFieldError(code, field, message string) *AppError {
	return NewValidationError(code, message).WithDetails(map[string]interface{}{"field": field})
}

func NewSchemaError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeSchema,
		Code:       CodeSchema,
		Message:    message,
		StatusCode: 422,
	}
}

func NewBusinessError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeBusiness,
		Code:       code,
		Message:    message,
		StatusCode: 422,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       "RESOURCE_NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: 404,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
		StatusCode: 401,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       "FORBIDDEN",
		Message:    message,
		StatusCode: 403,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       "CONFLICT",
		Message:    message,
		StatusCode: 409,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

func NewStorageError(operation string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeStorage,
		Code:       "STORAGE_ERROR",
		Message:    fmt.Sprintf("storage %s failed", operation),
		Cause:      cause,
		Retryable:  true,
		StatusCode: 503,
		Details:    map[string]interface{}{"operation": operation},
	}
}

// NewIntegrityError reports a hash that no longer matches its content.
func NewIntegrityError(field, expected, actual string) *AppError {
	return &AppError{
		Type:       ErrorTypeIntegrity,
		Code:       CodeIntegrity,
		Message:    fmt.Sprintf("%s mismatch", field),
		StatusCode: 409,
		Details: map[string]interface{}{
			"field":    field,
			"expected": expected,
			"actual":   actual,
		},
	}
}

// NewClaimGenerationError wraps any failure raised while assembling a claim.
func NewClaimGenerationError(cause error) *AppError {
	status := GetStatusCode(cause)
	return &AppError{
		Type:       ErrorTypeBusiness,
		Code:       CodeClaimGeneration,
		Message:    "claim generation failed",
		Cause:      cause,
		StatusCode: status,
	}
}

// NewFinalizationError wraps a failure in the filing transaction.
func NewFinalizationError(cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       CodeFinalization,
		Message:    "regulatory finalization failed",
		Cause:      cause,
		Retryable:  IsRetryable(cause),
		StatusCode: GetStatusCode(cause),
	}
}

func NewInvalidTransitionError(from, to string) *AppError {
	return NewBusinessError(CodeInvalidTransition,
		fmt.Sprintf("cannot transition from %s to %s", from, to)).
		WithDetails(map[string]interface{}{"from": from, "to": to})
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// HasCode reports whether any AppError in the chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// CodeOf returns the code of the outermost AppError, or "" for plain errors.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetStatusCode extracts HTTP status code from error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 500
}

// AsAppError returns the outermost AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
