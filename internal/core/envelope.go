package core

// ToolEnvelope is the standard response wrapper for all tool calls.
// Every dispatched tool returns either a success payload or a typed
// error inside this envelope; nothing escapes uncategorized.
type ToolEnvelope struct {
	OK     bool       `json:"ok"`
	Meta   ToolMeta   `json:"meta"`
	Result any        `json:"result,omitempty"`
	Error  *ToolError `json:"error,omitempty"`
}

// ToolMeta contains call metadata for a tool call.
type ToolMeta struct {
	ToolCallID string `json:"tool_call_id"`
	TraceID    string `json:"trace_id,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// ToolError represents a tool-level error (distinct from transport errors).
type ToolError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
