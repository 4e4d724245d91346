package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coverhub/coverhub/internal/db"
)

// AuditLog records every dispatched tool call to PostgreSQL. A nil
// AuditLog is a valid no-op so the server runs without a database.
type AuditLog struct {
	db     *db.DB
	logger *slog.Logger
}

func NewAuditLog(database *db.DB, logger *slog.Logger) *AuditLog {
	return &AuditLog{db: database, logger: logger}
}

// RecordInput describes one finished tool call.
type RecordInput struct {
	ToolCallID string
	TraceID    string
	ToolName   string
	RepoPath   string
	Request    any
	Response   any
	Err        error
	Duration   time.Duration
}

// Record appends one audit row. Audit failures are logged, not
// propagated: evidence loss must not fail the tool call itself.
func (a *AuditLog) Record(ctx context.Context, in RecordInput) {
	if a == nil || a.db == nil {
		return
	}

	tc := &db.ToolCall{
		ToolCallID: in.ToolCallID,
		TraceID:    in.TraceID,
		ToolName:   in.ToolName,
		RepoPath:   in.RepoPath,
		Request:    marshalLenient(in.Request),
		Response:   marshalLenient(in.Response),
		DurationMS: in.Duration.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	if in.Err != nil {
		tc.Error = in.Err.Error()
	}

	if err := a.db.InsertToolCall(ctx, tc); err != nil {
		a.logger.Error("audit record failed", "tool_name", in.ToolName, "err", err)
	}
}

// Recent returns the newest audit rows for the HTTP surface.
func (a *AuditLog) Recent(ctx context.Context, limit int) ([]*db.ToolCall, error) {
	if a == nil || a.db == nil {
		return []*db.ToolCall{}, nil
	}
	return a.db.ListToolCalls(ctx, limit)
}

func marshalLenient(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
