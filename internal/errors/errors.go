// Package errors provides error handling functionality for the realtime gateway.
// It defines error categories, error codes, and the taxonomy that decides whether
// a failure tears down the connection or only drops the offending message.
package errors

import "fmt"

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryAuth represents authentication and authorization errors
	CategoryAuth ErrorCategory = "auth"
	// CategoryValidation represents inbound payload validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryCrypto represents envelope encryption/decryption errors
	CategoryCrypto ErrorCategory = "crypto"
	// CategoryRateLimit represents rate limiting errors
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategoryService represents downstream store errors
	CategoryService ErrorCategory = "service"
)

// ErrorCode represents specific error codes
type ErrorCode string

const (
	// Authentication errors (fatal to the connection)
	ErrCodeAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"
	ErrCodeTokenExpired         ErrorCode = "TOKEN_EXPIRED"
	ErrCodeInvalidSubject       ErrorCode = "INVALID_SUBJECT"
	ErrCodePrincipalNotFound    ErrorCode = "PRINCIPAL_NOT_FOUND"

	// Validation errors (fatal to the message)
	ErrCodeInvalidTicketID ErrorCode = "INVALID_TICKET_ID"
	ErrCodeInvalidStatus   ErrorCode = "INVALID_STATUS"
	ErrCodeInvalidFormat   ErrorCode = "INVALID_FORMAT"

	// Crypto errors (fatal to the message)
	ErrCodeDecryptionFailed ErrorCode = "DECRYPTION_FAILED"

	// Rate limiting errors (fatal to the message)
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Service errors
	ErrCodeStoreError ErrorCode = "STORE_ERROR"
)

// GatewayError represents an application error with category and recoverability
// information. Recoverable errors drop the offending message only; fatal errors
// close the connection.
type GatewayError struct {
	Category    ErrorCategory
	Code        ErrorCode
	Message     string
	Event       string // Inbound event name the error relates to, if any
	Recoverable bool
	Cause       error
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// IsFatal returns true if the error is fatal and requires connection closure
func (e *GatewayError) IsFatal() bool {
	return !e.Recoverable
}

// WithEvent returns a copy of the error annotated with the inbound event name.
func (e *GatewayError) WithEvent(event string) *GatewayError {
	clone := *e
	clone.Event = event
	return &clone
}

// NewAuthError creates a new authentication error (fatal to the connection)
func NewAuthError(code ErrorCode, message string, cause error) *GatewayError {
	return &GatewayError{
		Category:    CategoryAuth,
		Code:        code,
		Message:     message,
		Recoverable: false,
		Cause:       cause,
	}
}

// NewValidationError creates a new validation error (fatal to the message only)
func NewValidationError(code ErrorCode, message string, cause error) *GatewayError {
	return &GatewayError{
		Category:    CategoryValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewCryptoError creates a new envelope crypto error (fatal to the message only)
func NewCryptoError(message string, cause error) *GatewayError {
	return &GatewayError{
		Category:    CategoryCrypto,
		Code:        ErrCodeDecryptionFailed,
		Message:     message,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewRateLimitError creates a new rate limit error (fatal to the message only)
func NewRateLimitError(message string) *GatewayError {
	return &GatewayError{
		Category:    CategoryRateLimit,
		Code:        ErrCodeRateLimitExceeded,
		Message:     message,
		Recoverable: true,
	}
}

// NewServiceError creates a new downstream store error
func NewServiceError(message string, cause error) *GatewayError {
	return &GatewayError{
		Category:    CategoryService,
		Code:        ErrCodeStoreError,
		Message:     message,
		Recoverable: true,
		Cause:       cause,
	}
}

// Common error constructors for convenience

// ErrAuthenticationFailed creates a missing/invalid credential error
func ErrAuthenticationFailed(cause error) *GatewayError {
	return NewAuthError(ErrCodeAuthenticationFailed, "Authentication failed", cause)
}

// ErrTokenExpired creates an expired credential error
func ErrTokenExpired(cause error) *GatewayError {
	return NewAuthError(ErrCodeTokenExpired, "Authentication token has expired", cause)
}

// ErrInvalidSubject creates an error for a missing or sentinel subject id
func ErrInvalidSubject(subject string) *GatewayError {
	return NewAuthError(ErrCodeInvalidSubject,
		fmt.Sprintf("Invalid subject id %q in credential", subject), nil)
}

// ErrPrincipalNotFound creates an error for a credential whose subject does not exist
func ErrPrincipalNotFound(id string) *GatewayError {
	return NewAuthError(ErrCodePrincipalNotFound,
		fmt.Sprintf("Principal %s not found", id), nil)
}

// ErrInvalidTicketID creates a ticket id validation error
func ErrInvalidTicketID(detail string) *GatewayError {
	return NewValidationError(ErrCodeInvalidTicketID,
		fmt.Sprintf("Invalid ticket id: %s", detail), nil)
}

// ErrInvalidStatus creates a ticket status validation error
func ErrInvalidStatus(status string) *GatewayError {
	return NewValidationError(ErrCodeInvalidStatus,
		fmt.Sprintf("Invalid ticket status: %q", status), nil)
}

// ErrRateLimitExceeded creates a rate limit error naming the throttled event
func ErrRateLimitExceeded(event string) *GatewayError {
	e := NewRateLimitError(fmt.Sprintf("Rate limit exceeded for event %s", event))
	e.Event = event
	return e
}

// ErrDecryptionFailed creates an envelope decryption error
func ErrDecryptionFailed(cause error) *GatewayError {
	return NewCryptoError("Failed to decrypt envelope: invalid format", cause)
}
