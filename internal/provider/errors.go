package provider

import (
	"errors"
	"fmt"
)

// Error codes for categorizing provider errors
const (
	ErrCodeAuthentication = "AUTH_ERROR"
	ErrCodeSearch         = "SEARCH_ERROR"
	ErrCodeDownload       = "DOWNLOAD_ERROR"
	ErrCodeConfiguration  = "CONFIG_ERROR"
	ErrCodeRateLimit      = "RATE_LIMIT_ERROR"
	ErrCodeDisabled       = "DISABLED_ERROR"
	ErrCodeNetwork        = "NETWORK_ERROR"
	ErrCodeParse          = "PARSE_ERROR"
	ErrCodeNotFound       = "NOT_FOUND_ERROR"
)

// Error represents a categorized error from a provider operation.
type Error struct {
	Code         string // Error category code
	Message      string // Human-readable message
	ProviderName string // Name of the affected provider
	Retryable    bool   // Whether the operation can be retried
	Cause        error  // Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ProviderName != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.ProviderName, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements error matching for errors.Is().
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Common error instances for comparison
var (
	ErrAuthentication = &Error{Code: ErrCodeAuthentication, Message: "authentication failed"}
	ErrSearch         = &Error{Code: ErrCodeSearch, Message: "search failed"}
	ErrDownload       = &Error{Code: ErrCodeDownload, Message: "download failed"}
	ErrConfiguration  = &Error{Code: ErrCodeConfiguration, Message: "configuration error"}
	ErrRateLimit      = &Error{Code: ErrCodeRateLimit, Message: "rate limit exceeded"}
	ErrDisabled       = &Error{Code: ErrCodeDisabled, Message: "provider disabled"}
	ErrNetwork        = &Error{Code: ErrCodeNetwork, Message: "network error"}
	ErrParse          = &Error{Code: ErrCodeParse, Message: "parse error"}
	ErrNotFound       = &Error{Code: ErrCodeNotFound, Message: "not found"}
)

// NewAuthError creates an authentication error. Not retryable, credentials
// need fixing first.
func NewAuthError(name string, cause error) *Error {
	return &Error{Code: ErrCodeAuthentication, Message: "authentication failed",
		ProviderName: name, Retryable: false, Cause: cause}
}

// NewSearchError creates a search error.
func NewSearchError(name string, cause error) *Error {
	return &Error{Code: ErrCodeSearch, Message: "search failed",
		ProviderName: name, Retryable: true, Cause: cause}
}

// NewDownloadError creates a download error.
func NewDownloadError(name string, cause error) *Error {
	return &Error{Code: ErrCodeDownload, Message: "download failed",
		ProviderName: name, Retryable: true, Cause: cause}
}

// NewRateLimitError creates a rate limit error. Retryable after backoff but
// never within the same attempt.
func NewRateLimitError(name string) *Error {
	return &Error{Code: ErrCodeRateLimit, Message: "rate limit exceeded",
		ProviderName: name, Retryable: false}
}

// NewDisabledError reports an auto-disabled provider refusing admission.
func NewDisabledError(name string) *Error {
	return &Error{Code: ErrCodeDisabled, Message: "provider auto-disabled",
		ProviderName: name, Retryable: false}
}

// NewNetworkError creates a network error.
func NewNetworkError(name string, cause error) *Error {
	return &Error{Code: ErrCodeNetwork, Message: "network error",
		ProviderName: name, Retryable: true, Cause: cause}
}

// NewParseError creates a parsing error.
func NewParseError(name, message string, cause error) *Error {
	return &Error{Code: ErrCodeParse, Message: message,
		ProviderName: name, Retryable: false, Cause: cause}
}

// IsRetryable returns whether the error is retryable.
func IsRetryable(err error) bool {
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr.Retryable
	}
	return false
}

// IsSkip reports whether the error is an admission refusal (rate limit or
// auto-disable), which callers surface as "skipped" rather than failed.
func IsSkip(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrDisabled)
}
