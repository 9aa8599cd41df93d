package util

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

const (
	CodeValidation = "VALIDATION_FAILED"
	CodeNotFound   = "NOT_FOUND"
	CodeConflict   = "CONFLICT"
	CodeForbidden  = "FORBIDDEN"
	CodeUnauth     = "UNAUTHORIZED"
	CodeIntegrity  = "INTEGRITY_FAILED"
	CodeGateway    = "GATEWAY_UNAVAILABLE"
	CodeRateLimit  = "RATE_LIMITED"
	CodeInternal   = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauth, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

// NewIntegrityError flags a security-relevant mismatch such as a forged callback.
func NewIntegrityError(message string, details map[string]any) error {
	return NewDomainError(CodeIntegrity, message, http.StatusBadRequest, details)
}

// NewGatewayError wraps a payment gateway failure. Callers may retry.
func NewGatewayError(err error) error {
	return &DomainError{
		Code:       CodeGateway,
		Message:    "payment gateway unavailable",
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

func NewRateLimited(message string) error {
	return NewDomainError(CodeRateLimit, message, http.StatusTooManyRequests, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return NewNotFound("resource", nil).(*DomainError)
	}
	return NewInternalError(err).(*DomainError)
}

// HasCode reports whether err carries the given DomainError code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return false
	}
	return domainErr.Code == code
}

func IsValidation(err error) bool { return HasCode(err, CodeValidation) }
func IsConflict(err error) bool   { return HasCode(err, CodeConflict) }
func IsIntegrity(err error) bool  { return HasCode(err, CodeIntegrity) }
func IsNotFound(err error) bool   { return HasCode(err, CodeNotFound) }
func IsForbidden(err error) bool  { return HasCode(err, CodeForbidden) }
