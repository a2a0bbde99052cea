package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Error codes for categorization
const (
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeConflict   = "CONFLICT"
	ErrCodeDatabase   = "DATABASE_ERROR"

	// Pipeline failure classes
	ErrCodeNavigation   = "NAVIGATION_FAILED"
	ErrCodeNoForm       = "NO_FORM_FOUND"
	ErrCodeCaptcha      = "CAPTCHA_BLOCKED"
	ErrCodeFieldFill    = "FIELD_FILL_FAILED"
	ErrCodeUnverified   = "SUBMISSION_UNVERIFIED"
	ErrCodePersistence  = "PERSISTENCE_ERROR"
	ErrCodeUnexpected   = "UNEXPECTED_ERROR"
	ErrCodeInvalidInput = "INVALID_INPUT"
)

// MaxErrorMessageLength bounds error text written back to persistence.
const MaxErrorMessageLength = 500

// DomainError is a structured error for domain operations
type DomainError struct {
	Code    string
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for error comparison
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinel domain errors (used with errors.Is)
var (
	ErrNotFoundVal     = &DomainError{Code: ErrCodeNotFound, Message: "not found"}
	ErrInvalidInputVal = &DomainError{Code: ErrCodeValidation, Message: "invalid input"}
	ErrConflictVal     = &DomainError{Code: ErrCodeConflict, Message: "conflict"}
)

// IsSentinelError checks if err matches a sentinel error
func IsSentinelError(err error, sentinel *DomainError) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == sentinel.Code
	}
	return false
}

// NotFoundError creates a not found domain error
func NotFoundError(resource string, id any) *DomainError {
	return &DomainError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found: %v", resource, id),
		Details: map[string]any{"resource": resource, "id": id},
		Err:     ErrNotFoundVal,
	}
}

// ConflictError creates a conflict domain error
func ConflictError(resource string, id any, message string) *DomainError {
	return &DomainError{
		Code:    ErrCodeConflict,
		Message: fmt.Sprintf("%s %v: %s", resource, id, message),
		Details: map[string]any{"resource": resource, "id": id},
		Err:     ErrConflictVal,
	}
}

// ValidationError creates a validation domain error
func ValidationError(field, message string) *DomainError {
	return &DomainError{
		Code:    ErrCodeValidation,
		Message: message,
		Details: map[string]any{"field": field},
		Err:     ErrInvalidInputVal,
	}
}

// PipelineError is the classified outcome of a failed submission attempt.
// Permanent errors are never re-queued.
type PipelineError struct {
	Code      string
	Message   string
	Permanent bool
	Cause     error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is matches on code so callers can compare against the Err* sentinels.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is against pipeline failures.
var (
	ErrNavigation  = &PipelineError{Code: ErrCodeNavigation}
	ErrNoForm      = &PipelineError{Code: ErrCodeNoForm}
	ErrCaptcha     = &PipelineError{Code: ErrCodeCaptcha}
	ErrFieldFill   = &PipelineError{Code: ErrCodeFieldFill}
	ErrUnverified  = &PipelineError{Code: ErrCodeUnverified}
	ErrPersistence = &PipelineError{Code: ErrCodePersistence}
	ErrUnexpected  = &PipelineError{Code: ErrCodeUnexpected}
)

// NavigationError builds a navigation failure. DNS, certificate and 4xx
// failures are permanent. The target URL never decides it.
func NavigationError(message string, cause error) *PipelineError {
	text := message
	if cause != nil {
		text += ": " + cause.Error()
	}
	return &PipelineError{
		Code:      ErrCodeNavigation,
		Message:   message,
		Cause:     cause,
		Permanent: IsPermanentFailure(text),
	}
}

func NoFormFoundError() *PipelineError {
	return &PipelineError{Code: ErrCodeNoForm, Message: "no contact form found", Permanent: true}
}

func CaptchaBlockedError(kind string) *PipelineError {
	msg := "captcha blocked"
	if kind != "" {
		msg = fmt.Sprintf("captcha blocked (%s)", kind)
	}
	return &PipelineError{Code: ErrCodeCaptcha, Message: msg}
}

func FieldFillError(message string) *PipelineError {
	return &PipelineError{Code: ErrCodeFieldFill, Message: message}
}

func UnverifiedError(message string) *PipelineError {
	return &PipelineError{Code: ErrCodeUnverified, Message: message}
}

func PersistenceError(op string, cause error) *PipelineError {
	return &PipelineError{Code: ErrCodePersistence, Message: op, Cause: cause}
}

func UnexpectedError(cause error) *PipelineError {
	return &PipelineError{Code: ErrCodeUnexpected, Message: "unexpected error", Cause: cause}
}

func InvalidInputError(message string, cause error) *PipelineError {
	return &PipelineError{Code: ErrCodeInvalidInput, Message: message, Cause: cause, Permanent: true}
}

// AsPipelineError converts any error into a PipelineError, wrapping unknown
// errors as unexpected.
func AsPipelineError(err error) *PipelineError {
	if err == nil {
		return nil
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe
	}
	return UnexpectedError(err)
}

// permanentMarkers are matched against recorded error messages once URLs
// are stripped, so hosts and paths like kesslerlaw.com or /certificates
// cannot trip them.
var permanentMarkers = regexp.MustCompile(`(?i)` + strings.Join([]string{
	`\[` + ErrCodeNoForm + `\]`,
	`\[` + ErrCodeInvalidInput + `\]`,
	`\binvalid url\b`,
	`\bhttp 40[34]\b`,
	`\b404 not found\b`,
	`\b403 forbidden\b`,
	`\berr_name_not_resolved\b`,
	`\bno such host\b`,
	`\berr_cert_\w+`,
	`\berr_ssl_\w+`,
	`\bssl handshake\b`,
	`\bx509: `,
	`\bno forms found\b`,
	`\bno contact form found\b`,
}, "|"))

var urlToken = regexp.MustCompile(`(?i)\b[a-z][a-z0-9+.-]*://\S*`)

// IsPermanentFailure reports whether a recorded error message describes a
// failure that retrying cannot fix.
func IsPermanentFailure(message string) bool {
	if message == "" {
		return false
	}
	return permanentMarkers.MatchString(urlToken.ReplaceAllString(message, " "))
}

// TruncateMessage bounds an error message for storage.
func TruncateMessage(msg string) string {
	if len(msg) <= MaxErrorMessageLength {
		return msg
	}
	return msg[:MaxErrorMessageLength-3] + "..."
}
