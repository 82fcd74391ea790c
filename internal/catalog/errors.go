package catalog

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"syscall"
)

// ErrorType represents the category of a catalog error
type ErrorType int

const (
	// ErrTypeNetwork indicates a network-level error while fetching
	ErrTypeNetwork ErrorType = iota
	// ErrTypeHTTP indicates a non-200 response from the catalog server
	ErrTypeHTTP
	// ErrTypeParse indicates a malformed catalog document
	ErrTypeParse
	// ErrTypeValidation indicates a document that parsed but is not usable
	ErrTypeValidation
	// ErrTypeTimeout indicates a request timeout
	ErrTypeTimeout
	// ErrTypeConnectionRefused indicates the server refused the connection
	ErrTypeConnectionRefused
	// ErrTypeDNS indicates a DNS resolution failure
	ErrTypeDNS
	// ErrTypeNotFound indicates a missing local catalog file
	ErrTypeNotFound
	// ErrTypeUnsupported indicates an API level without a test suite
	ErrTypeUnsupported
	// ErrTypeSignature indicates a failed or missing detached signature
	ErrTypeSignature
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeNetwork:
		return "Network Error"
	case ErrTypeHTTP:
		return "HTTP Error"
	case ErrTypeParse:
		return "Parse Error"
	case ErrTypeValidation:
		return "Validation Error"
	case ErrTypeTimeout:
		return "Timeout"
	case ErrTypeConnectionRefused:
		return "Connection Refused"
	case ErrTypeDNS:
		return "DNS Error"
	case ErrTypeNotFound:
		return "Not Found"
	case ErrTypeUnsupported:
		return "Unsupported API Level"
	case ErrTypeSignature:
		return "Signature Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// Error is returned by catalog loading, fetching and verification.
type Error struct {
	Type       ErrorType // Category of error
	Message    string    // Human-readable error message
	Path       string    // File or URL involved (if any)
	StatusCode int       // HTTP status code (if applicable)
	Err        error     // Underlying error (if any)
	Retryable  bool      // Whether a fetch should be retried
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Path)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ClassifyNetworkError maps a transport error to a catalog error.
func ClassifyNetworkError(err error, target string) *Error {
	if err == nil {
		return nil
	}

	if os.IsTimeout(err) {
		return &Error{Type: ErrTypeTimeout, Message: "request timed out", Path: target, Err: err, Retryable: true}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &Error{
			Type:    ErrTypeDNS,
			Message: fmt.Sprintf("DNS resolution failed for %s", dnsErr.Name),
			Path:    target,
			Err:     err,
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && errors.Is(opErr.Err, syscall.ECONNREFUSED) {
		return &Error{Type: ErrTypeConnectionRefused, Message: "server refused connection", Path: target, Err: err, Retryable: true}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != err {
		return ClassifyNetworkError(urlErr.Err, target)
	}

	return &Error{Type: ErrTypeNetwork, Message: "network error", Path: target, Err: err, Retryable: true}
}

// NewHTTPError creates an HTTP-level error. Server errors are retryable.
func NewHTTPError(statusCode int, target string) *Error {
	return &Error{
		Type:       ErrTypeHTTP,
		Message:    fmt.Sprintf("unexpected status code: %d", statusCode),
		Path:       target,
		StatusCode: statusCode,
		Retryable:  statusCode >= 500,
	}
}

// NewParseError creates a parse error for a catalog document.
func NewParseError(path string, err error) *Error {
	return &Error{Type: ErrTypeParse, Message: "malformed catalog document", Path: path, Err: err}
}

// NewValidationError creates a validation error.
func NewValidationError(message string) *Error {
	return &Error{Type: ErrTypeValidation, Message: message}
}

// NewNotFoundError creates an error for a missing catalog file.
func NewNotFoundError(path string, err error) *Error {
	return &Error{Type: ErrTypeNotFound, Message: "catalog file not found", Path: path, Err: err}
}

// NewUnsupportedError reports an API level with no suite.
func NewUnsupportedError(apiLevel int) *Error {
	return &Error{Type: ErrTypeUnsupported, Message: fmt.Sprintf("no test suite for API level %d", apiLevel)}
}

// NewSignatureError creates a signature verification error.
func NewSignatureError(path string, err error) *Error {
	return &Error{Type: ErrTypeSignature, Message: "signature verification failed", Path: path, Err: err}
}

func hasType(err error, types ...ErrorType) bool {
	var cErr *Error
	if !errors.As(err, &cErr) {
		return false
	}
	for _, t := range types {
		if cErr.Type == t {
			return true
		}
	}
	return false
}

// IsNetworkError reports a transport-level failure.
func IsNetworkError(err error) bool {
	return hasType(err, ErrTypeNetwork, ErrTypeTimeout, ErrTypeConnectionRefused, ErrTypeDNS)
}

// IsHTTPError reports a non-200 response.
func IsHTTPError(err error) bool {
	return hasType(err, ErrTypeHTTP)
}

// IsParseError reports a malformed document.
func IsParseError(err error) bool {
	return hasType(err, ErrTypeParse)
}

// IsNotFound reports a missing local file.
func IsNotFound(err error) bool {
	return hasType(err, ErrTypeNotFound)
}

// IsUnsupported reports an API level without a suite.
func IsUnsupported(err error) bool {
	return hasType(err, ErrTypeUnsupported)
}

// IsSignatureError reports a verification failure.
func IsSignatureError(err error) bool {
	return hasType(err, ErrTypeSignature)
}

// IsRetryable checks if a fetch should be retried
func IsRetryable(err error) bool {
	var cErr *Error
	if errors.As(err, &cErr) {
		return cErr.Retryable
	}
	return false
}

// GetTroubleshootingHint returns advice for a catalog error
func GetTroubleshootingHint(err error) string {
	var cErr *Error
	if !errors.As(err, &cErr) {
		return "An unexpected error occurred. Run with --log-level debug for details."
	}

	switch cErr.Type {
	case ErrTypeNotFound:
		return strings.Join([]string{
			"A catalog file is missing.",
			"Troubleshooting:",
			"  • Run 'patchscan catalog fetch' to download the test suites",
			"  • Check catalog.dir in your config file",
		}, "\n")
	case ErrTypeUnsupported:
		return strings.Join([]string{
			"The catalog has no test suite for this firmware's API level.",
			"Troubleshooting:",
			"  • Check ro.build.version.sdk in the firmware's build.prop",
			"  • Refresh the catalog with 'patchscan catalog fetch'",
		}, "\n")
	case ErrTypeSignature:
		return strings.Join([]string{
			"A catalog file did not verify against the configured keyring.",
			"Troubleshooting:",
			"  • Re-download the catalog",
			"  • Check catalog.keyring in your config file",
			"  • Disable catalog.require_signatures only for catalogs you trust",
		}, "\n")
	case ErrTypeParse, ErrTypeValidation:
		return "A catalog document is malformed. Re-download the catalog."
	case ErrTypeHTTP:
		return fmt.Sprintf("The catalog server returned HTTP %d. Check catalog.base_url.", cErr.StatusCode)
	case ErrTypeTimeout, ErrTypeConnectionRefused, ErrTypeDNS, ErrTypeNetwork:
		return strings.Join([]string{
			"The catalog server could not be reached.",
			"Troubleshooting:",
			"  • Check your network connection",
			"  • Verify catalog.base_url in your config file",
		}, "\n")
	default:
		return "An error occurred. Please check the error message for details."
	}
}
