package core

import "fmt"

// Error kinds returned across the tool boundary. The orchestrator keys
// its retry/halt decisions off these, so they are part of the contract.
const (
	KindNotFound        = "not_found"
	KindMalformedReport = "malformed_report"
	KindProtectedBranch = "protected_branch"
	KindNoUpstream      = "no_upstream"
	KindPushRejected    = "push_rejected"
	KindAuthFailed      = "auth_failed"
	KindNoChanges       = "no_changes"
	KindUnknownTool     = "unknown_tool"
	KindInvalidArgument = "invalid_argument"
	KindProcessFailed   = "process_failed"
	KindToolNotAllowed  = "tool_not_allowed"
	KindInternal        = "internal_error"
)

// CodedError is implemented by domain errors that carry a machine-readable kind.
type CodedError interface {
	error
	ErrorCode() string
}

// Error is the concrete domain error used throughout the tool wrappers.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) ErrorCode() string {
	return e.Kind
}

// Errorf builds a kinded error with a formatted message.
func Errorf(kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
