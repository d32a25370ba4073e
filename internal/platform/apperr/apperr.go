// Package apperr defines the typed errors returned by services and renders
// them as JSON responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ehr/weekplan/internal/domain/plan"
)

const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodeBadRequest           = "BAD_REQUEST"
	CodeNotFound             = "NOT_FOUND"
	CodeConflict             = "CONFLICT"
	CodeVersionConflict      = "VERSION_CONFLICT"
	CodeLedgerUnavailable    = "LEDGER_UNAVAILABLE"
	CodeDirectoryUnavailable = "DIRECTORY_UNAVAILABLE"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeInternal             = "INTERNAL"
)

// Error is an application error with a stable code and HTTP status.
type Error struct {
	Code         string       `json:"code"`
	Status       int          `json:"-"`
	Message      string       `json:"message"`
	Issues       []plan.Issue `json:"issues,omitempty"`
	Collaborator string       `json:"collaborator,omitempty"`
	Err          error        `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the same request unchanged.
func (e *Error) Retryable() bool { return e.Status == http.StatusServiceUnavailable }

func Validation(issues []plan.Issue) *Error {
	return &Error{Code: CodeValidationError, Status: http.StatusBadRequest,
		Message: fmt.Sprintf("plan has %d validation issue(s)", len(issues)), Issues: issues}
}

// ValidationFailed is returned when a persisted draft no longer validates
// at publish time.
func ValidationFailed(issues []plan.Issue) *Error {
	return &Error{Code: CodeValidationFailed, Status: http.StatusBadRequest,
		Message: fmt.Sprintf("stored draft has %d validation issue(s)", len(issues)), Issues: issues}
}

func BadRequest(format string, args ...interface{}) *Error {
	return &Error{Code: CodeBadRequest, Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

func NotFound(what string, id interface{}) *Error {
	return &Error{Code: CodeNotFound, Status: http.StatusNotFound, Message: fmt.Sprintf("%s %v not found", what, id)}
}

func Conflict(format string, args ...interface{}) *Error {
	return &Error{Code: CodeConflict, Status: http.StatusConflict, Message: fmt.Sprintf(format, args...)}
}

func VersionConflict(expected, actual int) *Error {
	return &Error{Code: CodeVersionConflict, Status: http.StatusPreconditionFailed,
		Message: fmt.Sprintf("version conflict: expected version %d but current version is %d", expected, actual)}
}

// Unavailable wraps a collaborator failure. The cause is kept in the message
// so operators can see it.
func Unavailable(collaborator string, err error) *Error {
	code := CodeInternal
	switch collaborator {
	case "ledger":
		code = CodeLedgerUnavailable
	case "directory", "holidays":
		code = CodeDirectoryUnavailable
	}
	return &Error{Code: code, Status: http.StatusServiceUnavailable, Collaborator: collaborator,
		Message: fmt.Sprintf("%s unavailable: %v", collaborator, err), Err: err}
}

func Internal(err error) *Error {
	return &Error{Code: CodeInternal, Status: http.StatusInternalServerError, Message: "internal error", Err: err}
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
