package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestMapErrorNil(t *testing.T) {
	if got := MapError(nil); got != nil {
		t.Fatalf("expected nil for nil error, got %+v", got)
	}
}

func TestMapErrorKindedPassthrough(t *testing.T) {
	err := Errorf(KindProtectedBranch, "direct commits to %q are blocked", "main")

	got := MapError(err)
	if got.Kind != KindProtectedBranch {
		t.Fatalf("expected kind %s, got %s", KindProtectedBranch, got.Kind)
	}
	if got.Message != `direct commits to "main" are blocked` {
		t.Fatalf("unexpected message %q", got.Message)
	}
}

func TestMapErrorKindedWrapped(t *testing.T) {
	err := fmt.Errorf("commit tool: %w", Errorf(KindNoChanges, "nothing staged"))

	got := MapError(err)
	if got.Kind != KindNoChanges {
		t.Fatalf("expected wrapped kind to survive, got %s", got.Kind)
	}
}

func TestMapErrorClassification(t *testing.T) {
	cases := []struct {
		msg  string
		kind string
	}{
		{"open /tmp/x: no such file or directory", KindNotFound},
		{"report does not exist", KindNotFound},
		{"github api HTTP 401: bad credentials", KindAuthFailed},
		{"HTTP 403 forbidden", KindAuthFailed},
		{"! [rejected] non-fast-forward", KindPushRejected},
		{"hint: Updates were rejected. fetch first", KindPushRejected},
		{"fatal: the current branch has no upstream branch", KindNoUpstream},
		{"422 no commits between main and main", KindNoChanges},
		{"something exploded", KindInternal},
	}

	for _, tc := range cases {
		got := MapError(errors.New(tc.msg))
		if got.Kind != tc.kind {
			t.Errorf("message %q: expected kind %s, got %s", tc.msg, tc.kind, got.Kind)
		}
	}
}
