package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coverhub/coverhub/internal/db"
)

func newTestServer(build BuildInfo) *Server {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewServer("127.0.0.1:0", nil, logger, build)
}

func doRequest(s *Server, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	s := newTestServer(BuildInfo{})

	rr := doRequest(s, "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var got map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["status"] != "ok" {
		t.Fatalf("unexpected body %v", got)
	}
}

func TestVersionReturnsInjectedValues(t *testing.T) {
	s := newTestServer(BuildInfo{
		Version:   "1.2.3",
		GitCommit: "abc123",
		BuildTime: "2026-08-01T12:00:00Z",
	})

	rr := doRequest(s, "/version")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var got map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["version"] != "1.2.3" || got["git_commit"] != "abc123" || got["build_time"] != "2026-08-01T12:00:00Z" {
		t.Fatalf("unexpected body %v", got)
	}
}

func TestMetricsContentType(t *testing.T) {
	s := newTestServer(BuildInfo{})

	rr := doRequest(s, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestToolCallsWithoutDatabase(t *testing.T) {
	s := newTestServer(BuildInfo{})

	rr := doRequest(s, "/api/v1/toolcalls")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var got struct {
		ToolCalls []json.RawMessage `json:"tool_calls"`
		Count     int               `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Count != 0 || len(got.ToolCalls) != 0 {
		t.Fatalf("expected empty result, got %+v", got)
	}
}

func TestToolCallsLimitValidation(t *testing.T) {
	s := newTestServer(BuildInfo{})

	for _, limit := range []string{"0", "-5", "501", "abc"} {
		rr := doRequest(s, "/api/v1/toolcalls?limit="+limit)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("limit %q: expected 400, got %d", limit, rr.Code)
		}
	}

	rr := doRequest(s, "/api/v1/toolcalls?limit=500")
	if rr.Code != http.StatusOK {
		t.Fatalf("limit 500: expected 200, got %d", rr.Code)
	}
}

func TestFilterByTool(t *testing.T) {
	calls := []*db.ToolCall{
		{ToolName: "run_tests"},
		{ToolName: "git_push"},
		{ToolName: "run_tests"},
	}

	got := filterByTool(calls, "run_tests")
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	for _, tc := range got {
		if tc.ToolName != "run_tests" {
			t.Fatalf("unexpected tool %s", tc.ToolName)
		}
	}
}
