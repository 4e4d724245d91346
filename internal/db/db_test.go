package db

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNullableJSON(t *testing.T) {
	if got := nullableJSON(nil); got != nil {
		t.Fatalf("expected nil for empty payload, got %v", got)
	}
	if got := nullableJSON(json.RawMessage(`{}`)); string(got.([]byte)) != "{}" {
		t.Fatalf("unexpected payload %v", got)
	}
}

// Integration coverage; requires a disposable database, e.g.
// TEST_DATABASE_URL=postgres://localhost/coverhub_test?sslmode=disable
func TestInsertAndListToolCalls(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	database, err := New(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	tc := &ToolCall{
		ToolCallID: uuid.New().String(),
		TraceID:    uuid.New().String(),
		ToolName:   "run_tests",
		RepoPath:   "/work/billing",
		Request:    json.RawMessage(`{"project_path":"/work/billing"}`),
		Response:   json.RawMessage(`{"exit_code":0}`),
		DurationMS: 1234,
		CreatedAt:  time.Now().UTC(),
	}
	if err := database.InsertToolCall(ctx, tc); err != nil {
		t.Fatalf("insert: %v", err)
	}

	calls, err := database.ListToolCalls(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	found := false
	for _, got := range calls {
		if got.ToolCallID == tc.ToolCallID {
			found = true
			if got.ToolName != "run_tests" || got.DurationMS != 1234 {
				t.Fatalf("row mismatch %+v", got)
			}
		}
	}
	if !found {
		t.Fatal("inserted row not returned by ListToolCalls")
	}
}
