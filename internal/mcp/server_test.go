package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coverhub/coverhub/internal/core"
	"github.com/coverhub/coverhub/internal/gitops"
	"github.com/coverhub/coverhub/internal/review"
	"github.com/coverhub/coverhub/internal/runner"
)

func newTestServer(allowlist string) *Server {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewServer("127.0.0.1:0",
		runner.NewRunner(runner.Config{}),
		gitops.NewService(gitops.Config{}),
		review.NewService(review.Config{}, nil),
		nil,
		core.NewPolicy(allowlist),
		logger,
	)
}

func callTool(t *testing.T, s *Server, name string, args any) core.ToolEnvelope {
	t.Helper()
	params := map[string]any{"name": name}
	if args != nil {
		params["arguments"] = args
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		t.Fatal(err)
	}

	resp := s.dispatch(context.Background(), jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  rawParams,
	})
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}

	env, ok := resp.Result.(core.ToolEnvelope)
	if !ok {
		t.Fatalf("expected ToolEnvelope, got %T", resp.Result)
	}
	return env
}

func requireEnvelopeError(t *testing.T, env core.ToolEnvelope, kind string) {
	t.Helper()
	if env.OK {
		t.Fatalf("expected failed envelope, got %+v", env)
	}
	if env.Error == nil || env.Error.Kind != kind {
		t.Fatalf("expected error kind %s, got %+v", kind, env.Error)
	}
}

func TestDispatchInitialize(t *testing.T) {
	s := newTestServer("")

	resp := s.dispatch(context.Background(), jsonRPCRequest{JSONRPC: "2.0", ID: 1, Method: "initialize"})
	if resp.Error != nil {
		t.Fatalf("unexpected error %+v", resp.Error)
	}

	result := resp.Result.(map[string]any)
	if result["protocolVersion"] != protocolVersion {
		t.Fatalf("unexpected protocol version %v", result["protocolVersion"])
	}
}

func TestDispatchToolsList(t *testing.T) {
	s := newTestServer("")

	resp := s.dispatch(context.Background(), jsonRPCRequest{JSONRPC: "2.0", ID: 2, Method: "tools/list"})
	if resp.Error != nil {
		t.Fatalf("unexpected error %+v", resp.Error)
	}

	tools := resp.Result.(map[string]any)["tools"].([]map[string]any)
	want := []string{"run_tests", "read_coverage", "git_status", "git_add_all", "git_commit", "git_push", "git_pull_request"}
	if len(tools) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(tools))
	}
	names := map[string]bool{}
	for _, tool := range tools {
		names[tool["name"].(string)] = true
	}
	for _, n := range want {
		if !names[n] {
			t.Fatalf("tool %s missing from tools/list", n)
		}
	}
}

func TestDispatchUnknownMethod(t *testing.T) {
	s := newTestServer("")

	resp := s.dispatch(context.Background(), jsonRPCRequest{JSONRPC: "2.0", ID: 3, Method: "resources/list"})
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("expected -32601, got %+v", resp.Error)
	}
}

func TestDispatchBadToolCallParams(t *testing.T) {
	s := newTestServer("")

	resp := s.dispatch(context.Background(), jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      4,
		Method:  "tools/call",
		Params:  json.RawMessage(`"not an object"`),
	})
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Fatalf("expected -32602, got %+v", resp.Error)
	}
}

func TestToolCallUnknownTool(t *testing.T) {
	s := newTestServer("")

	env := callTool(t, s, "delete_everything", map[string]any{})
	requireEnvelopeError(t, env, core.KindUnknownTool)
}

func TestToolCallDeniedByPolicy(t *testing.T) {
	s := newTestServer("read_coverage")

	env := callTool(t, s, "git_push", map[string]any{"repo_path": "/tmp"})
	requireEnvelopeError(t, env, core.KindToolNotAllowed)
}

func TestToolCallMissingArguments(t *testing.T) {
	s := newTestServer("")

	env := callTool(t, s, "run_tests", nil)
	requireEnvelopeError(t, env, core.KindInvalidArgument)
}

func TestToolCallMissingRequiredField(t *testing.T) {
	s := newTestServer("")

	env := callTool(t, s, "git_status", map[string]any{"repo_path": ""})
	requireEnvelopeError(t, env, core.KindInvalidArgument)
}

func TestToolCallReadCoverage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jacoco.xml")
	xml := `<report name="demo"><package name="p"><class name="p/C"><counter type="LINE" missed="2" covered="8"/></class></package></report>`
	if err := os.WriteFile(path, []byte(xml), 0o644); err != nil {
		t.Fatal(err)
	}

	s := newTestServer("")
	env := callTool(t, s, "read_coverage", map[string]any{"xml_path": path})
	if !env.OK {
		t.Fatalf("expected success, got %+v", env.Error)
	}
	if env.Meta.ToolCallID == "" {
		t.Fatalf("expected tool_call_id in meta, got %+v", env.Meta)
	}
}

func TestToolCallReadCoverageMissingFile(t *testing.T) {
	s := newTestServer("")

	env := callTool(t, s, "read_coverage", map[string]any{
		"xml_path": filepath.Join(t.TempDir(), "absent.xml"),
	})
	requireEnvelopeError(t, env, core.KindNotFound)
}

func TestRenderBodyVariants(t *testing.T) {
	// Plain string becomes the summary.
	out, err := renderBody(json.RawMessage(`"just text"`))
	if err != nil {
		t.Fatalf("string body: %v", err)
	}
	if !strings.Contains(out, "just text") {
		t.Fatalf("summary missing: %q", out)
	}

	// Structured body renders sections.
	out, err = renderBody(json.RawMessage(`{"summary":"s","bugs_found":["off by one"]}`))
	if err != nil {
		t.Fatalf("structured body: %v", err)
	}
	if !strings.Contains(out, "## Bugs found") || !strings.Contains(out, "off by one") {
		t.Fatalf("sections missing: %q", out)
	}

	// Absent body still renders the trailer.
	out, err = renderBody(nil)
	if err != nil {
		t.Fatalf("empty body: %v", err)
	}
	if strings.TrimSpace(out) == "" {
		t.Fatal("expected non-empty default body")
	}

	// Anything else is rejected as invalid.
	if _, err := renderBody(json.RawMessage(`42`)); err == nil {
		t.Fatal("expected rejection of numeric body")
	}
}
