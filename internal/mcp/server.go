// Package mcp exposes the CoverHub tools over a newline-delimited
// JSON-RPC 2.0 channel. Each tool call returns a ToolEnvelope: either a
// success payload or a typed {kind, message} error, never a raw fault.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coverhub/coverhub/internal/core"
	"github.com/coverhub/coverhub/internal/coverage"
	"github.com/coverhub/coverhub/internal/gitops"
	"github.com/coverhub/coverhub/internal/review"
	"github.com/coverhub/coverhub/internal/runner"
	"github.com/coverhub/coverhub/internal/telemetry"
)

const protocolVersion = "2024-11-05"

type ctxKey string

const ctxKeyTraceID ctxKey = "trace_id"

type Server struct {
	runner *runner.Runner
	git    *gitops.Service
	review *review.Service
	audit  *core.AuditLog
	policy *core.Policy
	addr   string
	logger *slog.Logger

	ln     net.Listener
	mu     sync.Mutex
	closed bool

	// One in-flight mutating call per repository path at a time.
	repoLocks sync.Map
}

func NewServer(addr string, testRunner *runner.Runner, git *gitops.Service, reviewSvc *review.Service, audit *core.AuditLog, policy *core.Policy, logger *slog.Logger) *Server {
	return &Server{
		runner: testRunner,
		git:    git,
		review: reviewSvc,
		audit:  audit,
		policy: policy,
		addr:   addr,
		logger: logger,
	}
}

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("mcp server starting", "addr", s.addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			s.logger.Error("mcp accept error", "err", err)
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *Server) Shutdown(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

// handleConn processes requests from one caller strictly in order: a call
// runs to completion before the next line is read.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req jsonRPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(conn, jsonRPCResponse{
				JSONRPC: "2.0",
				ID:      nil,
				Error:   &rpcError{Code: -32700, Message: "parse error"},
			})
			continue
		}

		traceID := uuid.New().String()
		ctx := context.WithValue(context.Background(), ctxKeyTraceID, traceID)
		resp := s.dispatch(ctx, req)
		s.writeResponse(conn, resp)
	}
}

func (s *Server) writeResponse(w io.Writer, resp jsonRPCResponse) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	w.Write(data)
}

func (s *Server) dispatch(ctx context.Context, req jsonRPCRequest) jsonRPCResponse {
	base := jsonRPCResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		base.Result = map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{"listChanged": false}},
			"serverInfo":      map[string]any{"name": "coverhub", "version": "0.1.0"},
		}
		return base

	case "tools/list":
		base.Result = map[string]any{"tools": ToolDefinitions()}
		return base

	case "tools/call":
		return s.handleToolCall(ctx, req, base)

	default:
		base.Error = &rpcError{Code: -32601, Message: fmt.Sprintf("method not found: %s", req.Method)}
		return base
	}
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) handleToolCall(ctx context.Context, req jsonRPCRequest, base jsonRPCResponse) jsonRPCResponse {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		base.Error = &rpcError{Code: -32602, Message: "invalid params: " + err.Error()}
		return base
	}

	traceID, _ := ctx.Value(ctxKeyTraceID).(string)
	toolCallID := uuid.New().String()
	start := time.Now()

	result, repoPath, err := s.invoke(ctx, params.Name, params.Arguments)
	duration := time.Since(start)

	telemetry.ObserveToolDuration(params.Name, duration)
	status := "ok"
	if err != nil {
		status = "error"
	}
	telemetry.IncToolCall(params.Name, status)

	s.audit.Record(ctx, core.RecordInput{
		ToolCallID: toolCallID,
		TraceID:    traceID,
		ToolName:   params.Name,
		RepoPath:   repoPath,
		Request:    params.Arguments,
		Response:   result,
		Err:        err,
		Duration:   duration,
	})

	if err != nil {
		s.logger.Error("tool call failed",
			"trace_id", traceID,
			"tool_call_id", toolCallID,
			"tool_name", params.Name,
			"repo_path", repoPath,
			"err", err,
		)
	} else {
		s.logger.Info("tool call completed",
			"trace_id", traceID,
			"tool_call_id", toolCallID,
			"tool_name", params.Name,
			"repo_path", repoPath,
			"duration_ms", duration.Milliseconds(),
		)
	}

	base.Result = core.ToolEnvelope{
		OK:     err == nil,
		Meta:   core.ToolMeta{ToolCallID: toolCallID, TraceID: traceID, DurationMS: duration.Milliseconds()},
		Result: result,
		Error:  core.MapError(err),
	}
	return base
}

// invoke routes one tool call. It returns the success payload, the
// repository path the call touched (for audit), and a kinded error.
func (s *Server) invoke(ctx context.Context, name string, raw json.RawMessage) (any, string, error) {
	if err := s.policy.CheckTool(name); err != nil {
		return nil, "", err
	}

	switch name {
	case "run_tests":
		return s.toolRunTests(ctx, raw)
	case "read_coverage":
		return s.toolReadCoverage(raw)
	case "git_status":
		return s.toolGitStatus(ctx, raw)
	case "git_add_all":
		return s.toolGitAddAll(ctx, raw)
	case "git_commit":
		return s.toolGitCommit(ctx, raw)
	case "git_push":
		return s.toolGitPush(ctx, raw)
	case "git_pull_request":
		return s.toolGitPullRequest(ctx, raw)
	default:
		return nil, "", core.Errorf(core.KindUnknownTool, "unknown tool: %s", name)
	}
}

// lockRepo serializes mutating calls against the same working directory.
func (s *Server) lockRepo(repoPath string) func() {
	key, err := filepath.Abs(repoPath)
	if err != nil {
		key = repoPath
	}
	muAny, _ := s.repoLocks.LoadOrStore(key, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func decodeArgs(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return core.Errorf(core.KindInvalidArgument, "arguments are required")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return core.Errorf(core.KindInvalidArgument, "invalid arguments: %v", err)
	}
	return nil
}

type runTestsArgs struct {
	ProjectPath string `json:"project_path"`
	DryRun      bool   `json:"dry_run,omitempty"`
}

func (s *Server) toolRunTests(ctx context.Context, raw json.RawMessage) (any, string, error) {
	var args runTestsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, "", err
	}
	if args.ProjectPath == "" {
		return nil, "", core.Errorf(core.KindInvalidArgument, "project_path is required")
	}

	unlock := s.lockRepo(args.ProjectPath)
	defer unlock()

	report, err := s.runner.Run(ctx, args.ProjectPath, args.DryRun)
	if err != nil {
		return nil, args.ProjectPath, err
	}
	if report.TimedOut {
		telemetry.IncProcessTimeout()
	}
	return report, args.ProjectPath, nil
}

type readCoverageArgs struct {
	XMLPath string `json:"xml_path"`
}

func (s *Server) toolReadCoverage(raw json.RawMessage) (any, string, error) {
	var args readCoverageArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, "", err
	}
	if args.XMLPath == "" {
		return nil, "", core.Errorf(core.KindInvalidArgument, "xml_path is required")
	}

	report, err := coverage.Parse(args.XMLPath)
	if err != nil {
		return nil, "", err
	}
	return report, "", nil
}

type repoArgs struct {
	RepoPath string `json:"repo_path"`
}

func (s *Server) toolGitStatus(ctx context.Context, raw json.RawMessage) (any, string, error) {
	var args repoArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, "", err
	}
	if args.RepoPath == "" {
		return nil, "", core.Errorf(core.KindInvalidArgument, "repo_path is required")
	}

	status, err := s.git.Status(ctx, args.RepoPath)
	if err != nil {
		telemetry.IncGitError("status")
		return nil, args.RepoPath, err
	}
	return status, args.RepoPath, nil
}

func (s *Server) toolGitAddAll(ctx context.Context, raw json.RawMessage) (any, string, error) {
	var args repoArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, "", err
	}
	if args.RepoPath == "" {
		return nil, "", core.Errorf(core.KindInvalidArgument, "repo_path is required")
	}

	unlock := s.lockRepo(args.RepoPath)
	defer unlock()

	result, err := s.git.AddAll(ctx, args.RepoPath)
	if err != nil {
		telemetry.IncGitError("add_all")
		return nil, args.RepoPath, err
	}
	return result, args.RepoPath, nil
}

type commitCoverageArgs struct {
	Before *coverage.Summary `json:"before,omitempty"`
	After  *coverage.Summary `json:"after,omitempty"`
}

type gitCommitArgs struct {
	RepoPath string              `json:"repo_path"`
	Message  string              `json:"message"`
	Coverage *commitCoverageArgs `json:"coverage,omitempty"`
}

func (s *Server) toolGitCommit(ctx context.Context, raw json.RawMessage) (any, string, error) {
	var args gitCommitArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, "", err
	}
	if args.RepoPath == "" {
		return nil, "", core.Errorf(core.KindInvalidArgument, "repo_path is required")
	}
	if args.Message == "" {
		return nil, "", core.Errorf(core.KindInvalidArgument, "message is required")
	}

	unlock := s.lockRepo(args.RepoPath)
	defer unlock()

	var before, after *coverage.Summary
	if args.Coverage != nil {
		before, after = args.Coverage.Before, args.Coverage.After
	}
	commitID, err := s.git.Commit(ctx, args.RepoPath, args.Message, before, after)
	if err != nil {
		telemetry.IncGitError("commit")
		return nil, args.RepoPath, err
	}
	return map[string]any{"commit_id": commitID}, args.RepoPath, nil
}

type gitPushArgs struct {
	RepoPath string `json:"repo_path"`
	Remote   string `json:"remote,omitempty"`
}

func (s *Server) toolGitPush(ctx context.Context, raw json.RawMessage) (any, string, error) {
	var args gitPushArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, "", err
	}
	if args.RepoPath == "" {
		return nil, "", core.Errorf(core.KindInvalidArgument, "repo_path is required")
	}

	unlock := s.lockRepo(args.RepoPath)
	defer unlock()

	if err := s.git.Push(ctx, args.RepoPath, args.Remote); err != nil {
		telemetry.IncGitError("push")
		return nil, args.RepoPath, err
	}
	return map[string]any{"status": "pushed"}, args.RepoPath, nil
}

type gitPullRequestArgs struct {
	RepoPath string          `json:"repo_path"`
	Base     string          `json:"base"`
	Title    string          `json:"title"`
	Body     json.RawMessage `json:"body,omitempty"`
}

func (s *Server) toolGitPullRequest(ctx context.Context, raw json.RawMessage) (any, string, error) {
	var args gitPullRequestArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, "", err
	}
	if args.RepoPath == "" {
		return nil, "", core.Errorf(core.KindInvalidArgument, "repo_path is required")
	}
	if args.Base == "" {
		return nil, "", core.Errorf(core.KindInvalidArgument, "base is required")
	}
	if args.Title == "" {
		return nil, "", core.Errorf(core.KindInvalidArgument, "title is required")
	}

	body, err := renderBody(args.Body)
	if err != nil {
		return nil, "", err
	}

	unlock := s.lockRepo(args.RepoPath)
	defer unlock()

	pr, err := s.review.OpenPullRequest(ctx, args.RepoPath, args.Base, args.Title, body)
	if err != nil {
		if mapped := core.MapError(err); mapped != nil {
			telemetry.IncGHCLIError(mapped.Kind)
		}
		return nil, args.RepoPath, err
	}
	return map[string]any{"pr_url": pr.URL}, args.RepoPath, nil
}

// renderBody accepts either a plain string or a structured review.Body.
func renderBody(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return review.Body{}.Render(), nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return review.Body{Summary: text}.Render(), nil
	}

	var structured review.Body
	if err := json.Unmarshal(raw, &structured); err != nil {
		return "", core.Errorf(core.KindInvalidArgument, "body must be a string or a pull request body object: %v", err)
	}
	return structured.Render(), nil
}
