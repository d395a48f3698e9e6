package apiclient

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error types carried by ClientError.Type.
const (
	ErrorTypeCooldownActive    = "CooldownActive"
	ErrorTypeAuthExpired       = "AuthExpired"
	ErrorTypeMalformedResponse = "MalformedResponse"
	ErrorTypeClient            = "ClientError"
	ErrorTypeServer            = "ServerError"
	ErrorTypeDecode            = "Decode"
	ErrorTypeValidation        = "Validation"
	ErrorTypeConfiguration     = "Configuration"
)

// maxAttempts is the original attempt plus the single post-renewal retry.
const maxAttempts = 2

// Sentinel errors, matched by type with errors.Is.
var (
	// ErrCooldownActive is returned when an identical request was issued
	// within the cooldown window. Callers should treat it as a no-op.
	ErrCooldownActive = &ClientError{Type: ErrorTypeCooldownActive, Message: "request cooldown active"}

	// ErrAuthExpired is returned when credential renewal failed or the retry
	// after renewal was still unauthorized. The user has to sign in again.
	ErrAuthExpired = &ClientError{Type: ErrorTypeAuthExpired, Message: "session expired, please sign in again"}

	// ErrMalformedResponse is returned when a success response does not carry
	// structured data, typically a gateway or proxy interstitial page.
	ErrMalformedResponse = &ClientError{Type: ErrorTypeMalformedResponse, Message: "malformed response"}
)

// ClientError is the classified error returned by every client operation.
type ClientError struct {
	Type       string
	Message    string
	Cause      error
	RequestID  string
	Method     string
	Endpoint   string
	URL        string
	StatusCode int
	Attempt    int
	Timeout    bool
	Body       []byte
	Timestamp  time.Time
}

// Error implements error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, maxAttempts)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.Endpoint != "" {
		info += fmt.Sprintf("Endpoint: %s\n", e.Endpoint)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, maxAttempts)
	}
	if e.Timeout {
		info += "Timeout: true\n"
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// IsCooldown reports whether err is a cooldown rejection.
func IsCooldown(err error) bool {
	return errors.Is(err, ErrCooldownActive)
}

// IsAuthExpired reports whether err means the session can no longer be renewed.
func IsAuthExpired(err error) bool {
	return errors.Is(err, ErrAuthExpired)
}

// IsTransient reports whether a later, caller-initiated attempt might succeed:
// server errors, transport failures, timeouts, 429 and cooldown rejections.
// The client itself never retries these.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		return false
	}

	switch clientErr.Type {
	case ErrorTypeServer, ErrorTypeCooldownActive:
		return true
	case ErrorTypeClient:
		return clientErr.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}
