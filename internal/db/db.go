// Package db provides PostgreSQL persistence for CoverHub's audit trail
// of tool calls. The store is optional: the server runs without it when
// no DATABASE_URL is configured.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// DB wraps the underlying *sql.DB and provides typed query methods.
type DB struct {
	conn *sql.DB
}

// New opens a PostgreSQL connection, verifies connectivity, and applies
// pending migrations.
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if err := ApplyMigrations(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the database connection pool.
func (d *DB) Close() error {
	return d.conn.Close()
}

// ToolCall is one audited dispatch operation.
type ToolCall struct {
	ToolCallID string          `json:"tool_call_id"`
	TraceID    string          `json:"trace_id"`
	ToolName   string          `json:"tool_name"`
	RepoPath   string          `json:"repo_path,omitempty"`
	Request    json.RawMessage `json:"request,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	CreatedAt  time.Time       `json:"created_at"`
}

// InsertToolCall appends one audit row.
func (d *DB) InsertToolCall(ctx context.Context, tc *ToolCall) error {
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO tool_calls (tool_call_id, trace_id, tool_name, repo_path, request, response, error, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tc.ToolCallID, tc.TraceID, tc.ToolName, tc.RepoPath,
		nullableJSON(tc.Request), nullableJSON(tc.Response), tc.Error, tc.DurationMS, tc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert tool call: %w", err)
	}
	return nil
}

// ListToolCalls returns the most recent audit rows, newest first.
func (d *DB) ListToolCalls(ctx context.Context, limit int) ([]*ToolCall, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.conn.QueryContext(ctx,
		`SELECT tool_call_id, trace_id, tool_name, repo_path, request, response, error, duration_ms, created_at
		 FROM tool_calls ORDER BY created_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list tool calls: %w", err)
	}
	defer rows.Close()

	var calls []*ToolCall
	for rows.Next() {
		tc := &ToolCall{}
		var request, response []byte
		if err := rows.Scan(&tc.ToolCallID, &tc.TraceID, &tc.ToolName, &tc.RepoPath, &request, &response, &tc.Error, &tc.DurationMS, &tc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tool call: %w", err)
		}
		tc.Request = request
		tc.Response = response
		calls = append(calls, tc)
	}
	return calls, rows.Err()
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
