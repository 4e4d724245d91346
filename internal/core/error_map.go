package core

import (
	"errors"
	"strings"
)

// MapError converts any error into the typed ToolError handed back to the
// orchestrator. Kinded domain errors pass through; everything else is
// classified by message sniffing so no raw fault reaches the caller.
func MapError(err error) *ToolError {
	if err == nil {
		return nil
	}

	var coded CodedError
	if errors.As(err, &coded) {
		return &ToolError{Kind: coded.ErrorCode(), Message: err.Error()}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "no such file"), strings.Contains(lower, "does not exist"):
		return &ToolError{Kind: KindNotFound, Message: msg}
	case strings.Contains(lower, "http 401"), strings.Contains(lower, "http 403"), strings.Contains(lower, "bad credentials"):
		return &ToolError{Kind: KindAuthFailed, Message: msg}
	case strings.Contains(lower, "non-fast-forward"), strings.Contains(lower, "fetch first"):
		return &ToolError{Kind: KindPushRejected, Message: msg}
	case strings.Contains(lower, "no upstream"), strings.Contains(lower, "has no upstream branch"):
		return &ToolError{Kind: KindNoUpstream, Message: msg}
	case strings.Contains(lower, "no commits between"):
		return &ToolError{Kind: KindNoChanges, Message: msg}
	default:
		return &ToolError{Kind: KindInternal, Message: msg}
	}
}
