// Package runner executes the configured build command inside a target
// project and captures the outcome as a structured report. Exit status,
// output and timeouts are data handed back to the orchestrator; the only
// errors returned are argument-validation failures raised before spawn.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/coverhub/coverhub/internal/core"
)

// Sentinel exit codes distinguishable from anything a real process returns.
const (
	ExitTimedOut     = -1
	ExitLaunchFailed = -2
)

var shellOperators = []string{";", "&&", "||", "|", ">", "<", "`", "$("}

type Config struct {
	Command            string
	Timeout            time.Duration
	MaxOutputBytes     int
	AllowedExecutables []string
}

// TestSummary is the parsed "Tests run: N, Failures: N, ..." line that
// Maven's surefire plugin prints per suite.
type TestSummary struct {
	TestsRun int `json:"tests_run"`
	Failures int `json:"failures"`
	Errors   int `json:"errors"`
	Skipped  int `json:"skipped"`
}

type Report struct {
	Command         string       `json:"command"`
	WorkDir         string       `json:"work_dir"`
	ExitCode        int          `json:"exit_code"`
	DurationMS      int64        `json:"duration_ms"`
	Stdout          string       `json:"stdout"`
	Stderr          string       `json:"stderr"`
	StdoutTruncated bool         `json:"stdout_truncated,omitempty"`
	StderrTruncated bool         `json:"stderr_truncated,omitempty"`
	TimedOut        bool         `json:"timed_out"`
	Summary         *TestSummary `json:"summary,omitempty"`
}

type Runner struct {
	cfg Config
}

func NewRunner(cfg Config) *Runner {
	if strings.TrimSpace(cfg.Command) == "" {
		cfg.Command = "mvn test"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 256 * 1024
	}
	if len(cfg.AllowedExecutables) == 0 {
		cfg.AllowedExecutables = []string{"mvn", "gradle", "go", "make", "npm", "npx", "pytest", "python", "python3"}
	}
	return &Runner{cfg: cfg}
}

// Run executes the configured command inside projectPath. A timeout or a
// failure to launch is folded into the report with a sentinel exit code;
// only pre-spawn validation returns an error. With dryRun the command is
// validated and echoed back without spawning anything.
func (r *Runner) Run(ctx context.Context, projectPath string, dryRun bool) (Report, error) {
	argv, err := splitCommand(r.cfg.Command)
	if err != nil {
		return Report{}, err
	}
	for _, op := range shellOperators {
		if strings.Contains(r.cfg.Command, op) {
			return Report{}, core.Errorf(core.KindInvalidArgument, "forbidden shell operator %q in command", op)
		}
	}
	if !allowed(argv[0], r.cfg.AllowedExecutables) {
		return Report{}, core.Errorf(core.KindInvalidArgument, "executable %q not in allowlist", argv[0])
	}

	wd, err := resolveDir(projectPath)
	if err != nil {
		return Report{}, err
	}

	if dryRun {
		return Report{Command: r.cfg.Command, WorkDir: wd}, nil
	}

	execCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, argv[0], argv[1:]...)
	cmd.Dir = wd
	var stdoutBuf bytes.Buffer
	var stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	report := Report{
		Command:    r.cfg.Command,
		WorkDir:    wd,
		DurationMS: duration.Milliseconds(),
	}
	report.Stdout, report.StdoutTruncated = capOutput(stdoutBuf.String(), r.cfg.MaxOutputBytes)
	report.Stderr, report.StderrTruncated = capOutput(stderrBuf.String(), r.cfg.MaxOutputBytes)
	report.Summary = parseTestSummary(stdoutBuf.String())

	switch {
	case runErr == nil:
		report.ExitCode = 0

	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		report.ExitCode = ExitTimedOut
		report.TimedOut = true
		if report.Stderr == "" {
			report.Stderr = fmt.Sprintf("command timed out after %s", r.cfg.Timeout)
		}

	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			report.ExitCode = exitErr.ExitCode()
		} else {
			// Spawn never happened (binary missing, permission denied).
			report.ExitCode = ExitLaunchFailed
			report.Stderr = runErr.Error()
		}
	}

	return report, nil
}

func splitCommand(cmdline string) ([]string, error) {
	argv := strings.Fields(cmdline)
	if len(argv) == 0 {
		return nil, core.Errorf(core.KindInvalidArgument, "command is empty")
	}
	return argv, nil
}

func allowed(executable string, allowlist []string) bool {
	base := filepath.Base(executable)
	for _, a := range allowlist {
		if base == a {
			return true
		}
	}
	return false
}

func resolveDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", core.Errorf(core.KindInvalidArgument, "resolve project path %q: %v", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", core.Errorf(core.KindNotFound, "project path %q: %v", dir, err)
	}
	if !info.IsDir() {
		return "", core.Errorf(core.KindInvalidArgument, "project path %q is not a directory", dir)
	}
	return abs, nil
}

// parseTestSummary picks out the first surefire summary line, e.g.
// "Tests run: 10, Failures: 1, Errors: 0, Skipped: 0".
func parseTestSummary(stdout string) *TestSummary {
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Tests run:") || !strings.Contains(line, "Failures:") {
			continue
		}
		s := &TestSummary{}
		for _, part := range strings.Split(line, ",") {
			key, val, ok := strings.Cut(part, ":")
			if !ok {
				continue
			}
			// Suite lines end with "- in com.example.FooTest"; only the
			// leading number matters.
			fields := strings.Fields(val)
			if len(fields) == 0 {
				continue
			}
			n, err := strconv.Atoi(fields[0])
			if err != nil {
				continue
			}
			switch strings.TrimSpace(key) {
			case "Tests run":
				s.TestsRun = n
			case "Failures":
				s.Failures = n
			case "Errors":
				s.Errors = n
			case "Skipped":
				s.Skipped = n
			}
		}
		return s
	}
	return nil
}

func capOutput(s string, max int) (string, bool) {
	if len(s) <= max {
		return s, false
	}
	return s[:max] + "\n... (output truncated)", true
}
