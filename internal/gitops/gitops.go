// Package gitops wraps the git binary for the repository tools. Every
// operation takes an explicit repository path, runs with a timeout, and
// fails closed with a kinded error instead of leaking raw exec failures.
package gitops

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/coverhub/coverhub/internal/core"
	"github.com/coverhub/coverhub/internal/coverage"
)

// Direct commits to these branches are always refused. Exact,
// case-sensitive match.
var protectedBranches = map[string]bool{
	"main":   true,
	"master": true,
}

// Build artifacts and editor litter never get staged.
var (
	ignorePrefixes = []string{"target/", ".idea/", ".vscode/", ".DS_Store"}
	ignoreSuffixes = []string{".class", ".log"}
)

type Config struct {
	GitBin  string
	Timeout time.Duration
}

type Service struct {
	cfg Config
}

func NewService(cfg Config) *Service {
	if strings.TrimSpace(cfg.GitBin) == "" {
		cfg.GitBin = "git"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Service{cfg: cfg}
}

// StatusResult buckets `git status --porcelain` output.
type StatusResult struct {
	Raw       string   `json:"raw"`
	Staged    []string `json:"staged"`
	Unstaged  []string `json:"unstaged"`
	Untracked []string `json:"untracked"`
	Conflicts []string `json:"conflicts"`
}

// AddAllResult lists the files that were actually staged.
type AddAllResult struct {
	Files []string `json:"files"`
	Count int      `json:"count"`
}

func (s *Service) Status(ctx context.Context, repoPath string) (*StatusResult, error) {
	dir, err := resolveRepo(repoPath)
	if err != nil {
		return nil, err
	}
	out, err := s.git(ctx, dir, "status", "--porcelain")
	if err != nil {
		return nil, err
	}

	result := &StatusResult{
		Raw:       out,
		Staged:    []string{},
		Unstaged:  []string{},
		Untracked: []string{},
		Conflicts: []string{},
	}
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		code := line[:2]
		file := line[3:]
		switch {
		case code == "??":
			result.Untracked = append(result.Untracked, file)
		case code == "UU":
			result.Conflicts = append(result.Conflicts, file)
		case code[0] != ' ':
			result.Staged = append(result.Staged, file)
		default:
			result.Unstaged = append(result.Unstaged, file)
		}
	}
	return result, nil
}

// AddAll stages every modified, deleted, or untracked file that is not a
// build artifact.
func (s *Service) AddAll(ctx context.Context, repoPath string) (*AddAllResult, error) {
	dir, err := resolveRepo(repoPath)
	if err != nil {
		return nil, err
	}
	out, err := s.git(ctx, dir, "ls-files", "--others", "--modified", "--deleted", "--exclude-standard")
	if err != nil {
		return nil, err
	}

	staged := []string{}
	for _, f := range strings.Split(out, "\n") {
		f = strings.TrimSpace(f)
		if f == "" || ignored(f) {
			continue
		}
		if _, err := s.git(ctx, dir, "add", "--", f); err != nil {
			return nil, err
		}
		staged = append(staged, f)
	}
	return &AddAllResult{Files: staged, Count: len(staged)}, nil
}

func (s *Service) CurrentBranch(ctx context.Context, repoPath string) (string, error) {
	dir, err := resolveRepo(repoPath)
	if err != nil {
		return "", err
	}
	out, err := s.git(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Commit creates a commit from the already-staged changes. The branch
// guard runs before anything touches the repository: commits on main or
// master are refused outright. Coverage summaries, when supplied, are
// appended to the message as a trailing block.
func (s *Service) Commit(ctx context.Context, repoPath, message string, before, after *coverage.Summary) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", core.Errorf(core.KindInvalidArgument, "commit message is required")
	}
	dir, err := resolveRepo(repoPath)
	if err != nil {
		return "", err
	}

	branch, err := s.CurrentBranch(ctx, dir)
	if err != nil {
		return "", err
	}
	if protectedBranches[branch] {
		return "", core.Errorf(core.KindProtectedBranch, "direct commits to %q are blocked", branch)
	}

	if _, err := s.git(ctx, dir, "commit", "-m", BuildCommitMessage(message, before, after)); err != nil {
		return "", err
	}

	hash, err := s.git(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(hash), nil
}

// Push pushes the current branch. With an explicit remote the upstream is
// set on the fly; without one the branch must already have an upstream.
// Rejections surface typed, and nothing ever force-pushes.
func (s *Service) Push(ctx context.Context, repoPath, remote string) error {
	dir, err := resolveRepo(repoPath)
	if err != nil {
		return err
	}

	var args []string
	if strings.TrimSpace(remote) != "" {
		args = []string{"push", "-u", remote, "HEAD"}
	} else {
		if _, err := s.git(ctx, dir, "rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{upstream}"); err != nil {
			return core.Errorf(core.KindNoUpstream, "branch has no upstream and no remote was supplied")
		}
		args = []string{"push"}
	}

	if _, err := s.git(ctx, dir, args...); err != nil {
		lower := strings.ToLower(err.Error())
		if strings.Contains(lower, "non-fast-forward") || strings.Contains(lower, "fetch first") || strings.Contains(lower, "[rejected]") {
			return core.Errorf(core.KindPushRejected, "push rejected: %v", err)
		}
		if strings.Contains(lower, "does not appear to be a git repository") || strings.Contains(lower, "could not read from remote") {
			return core.Errorf(core.KindNoUpstream, "push failed: %v", err)
		}
		return err
	}
	return nil
}

// BuildCommitMessage appends the coverage block the orchestrator expects
// in commit history.
func BuildCommitMessage(message string, before, after *coverage.Summary) string {
	if before == nil && after == nil {
		return message
	}

	var sb strings.Builder
	sb.WriteString(message)
	sb.WriteString("\n\nCoverage:\n")
	if before != nil && after != nil {
		fmt.Fprintf(&sb, "- Line: %.2f%% -> %.2f%%\n", before.LinePercent, after.LinePercent)
		fmt.Fprintf(&sb, "- Branch: %.2f%% -> %.2f%%", before.BranchPercent, after.BranchPercent)
	} else {
		s := after
		if s == nil {
			s = before
		}
		fmt.Fprintf(&sb, "- Line: %.2f%%\n", s.LinePercent)
		fmt.Fprintf(&sb, "- Branch: %.2f%%", s.BranchPercent)
	}
	return sb.String()
}

func ignored(path string) bool {
	for _, p := range ignorePrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	for _, ext := range ignoreSuffixes {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

func resolveRepo(repoPath string) (string, error) {
	if strings.TrimSpace(repoPath) == "" {
		return "", core.Errorf(core.KindInvalidArgument, "repo_path is required")
	}
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return "", core.Errorf(core.KindInvalidArgument, "resolve repo path %q: %v", repoPath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", core.Errorf(core.KindNotFound, "repo path %q: %v", repoPath, err)
	}
	if !info.IsDir() {
		return "", core.Errorf(core.KindInvalidArgument, "repo path %q is not a directory", repoPath)
	}
	return abs, nil
}

func (s *Service) git(ctx context.Context, dir string, args ...string) (string, error) {
	execCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, s.cfg.GitBin, append([]string{"-C", dir}, args...)...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", core.Errorf(core.KindProcessFailed, "git %s failed: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(out.String()))
	}
	return out.String(), nil
}
