// Package review opens pull requests for a repository, preferring the
// GitHub CLI and falling back to the REST API client when the binary is
// not installed. CLI failure modes that the orchestrator must react to
// (no login session, nothing to propose) come back as kinded errors.
package review

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/coverhub/coverhub/internal/core"
	"github.com/coverhub/coverhub/internal/github"
)

// PullRequest is the handle returned to the orchestrator.
type PullRequest struct {
	URL string `json:"url"`
}

// execFunc runs one external command; swapped out in tests.
type execFunc func(ctx context.Context, dir, name string, args ...string) (stdout, stderr string, err error)

type Config struct {
	GHBin   string
	Timeout time.Duration
}

type Service struct {
	cfg Config
	api *github.Client
	run execFunc
}

// NewService creates the review service. apiClient may be nil when no
// GitHub App is configured; then only the CLI path is available.
func NewService(cfg Config, apiClient *github.Client) *Service {
	if strings.TrimSpace(cfg.GHBin) == "" {
		cfg.GHBin = "gh"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Service{cfg: cfg, api: apiClient, run: runCommand}
}

// OpenPullRequest creates a pull request from the repository's current
// branch into base. Not idempotent: calling twice opens two requests.
func (s *Service) OpenPullRequest(ctx context.Context, repoPath, base, title, body string) (*PullRequest, error) {
	if strings.TrimSpace(base) == "" {
		return nil, core.Errorf(core.KindInvalidArgument, "base branch is required")
	}
	if strings.TrimSpace(title) == "" {
		return nil, core.Errorf(core.KindInvalidArgument, "title is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	head, _, err := s.run(ctx, repoPath, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, core.Errorf(core.KindProcessFailed, "determine current branch: %v", err)
	}
	head = strings.TrimSpace(head)
	if head == base {
		return nil, core.Errorf(core.KindNoChanges, "head branch %q is the base branch, nothing to propose", head)
	}

	stdout, stderr, err := s.run(ctx, repoPath, s.cfg.GHBin,
		"pr", "create", "--base", base, "--head", head, "--title", title, "--body", body)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return s.openViaAPI(ctx, repoPath, base, head, title, body)
		}
		return nil, classifyGHError(stderr, err)
	}

	url := lastNonEmptyLine(stdout)
	if url == "" {
		url = lastNonEmptyLine(stderr)
	}
	return &PullRequest{URL: url}, nil
}

func (s *Service) openViaAPI(ctx context.Context, repoPath, base, head, title, body string) (*PullRequest, error) {
	if s.api == nil {
		return nil, core.Errorf(core.KindAuthFailed, "gh binary not found and no GitHub App is configured")
	}

	remoteURL, _, err := s.run(ctx, repoPath, "git", "remote", "get-url", "origin")
	if err != nil {
		return nil, core.Errorf(core.KindProcessFailed, "determine origin remote: %v", err)
	}
	owner, repo, err := splitRemote(strings.TrimSpace(remoteURL))
	if err != nil {
		return nil, err
	}

	pr, err := s.api.CreatePullRequest(ctx, owner, repo, github.CreatePullRequestInput{
		Title: title,
		Head:  head,
		Base:  base,
		Body:  body,
	})
	if err != nil {
		return nil, classifyAPIError(err)
	}
	return &PullRequest{URL: pr.HTMLURL}, nil
}

func classifyGHError(stderr string, err error) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "gh auth login"),
		strings.Contains(lower, "not logged in"),
		strings.Contains(lower, "authentication"),
		strings.Contains(lower, "gh_token"):
		return core.Errorf(core.KindAuthFailed, "gh is not authenticated: %s", strings.TrimSpace(stderr))
	case strings.Contains(lower, "no commits between"):
		return core.Errorf(core.KindNoChanges, "nothing to propose: %s", strings.TrimSpace(stderr))
	default:
		return core.Errorf(core.KindProcessFailed, "gh pr create failed: %v: %s", err, strings.TrimSpace(stderr))
	}
}

func classifyAPIError(err error) error {
	var apiErr *github.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return core.Errorf(core.KindAuthFailed, "github api: %v", apiErr)
		case apiErr.StatusCode == 422 && strings.Contains(strings.ToLower(apiErr.Body), "no commits between"):
			return core.Errorf(core.KindNoChanges, "github api: %v", apiErr)
		}
	}
	return err
}

var remoteRe = regexp.MustCompile(`[:/]([^/:]+)/([^/]+?)(\.git)?$`)

func splitRemote(remoteURL string) (owner, repo string, err error) {
	m := remoteRe.FindStringSubmatch(remoteURL)
	if m == nil {
		return "", "", core.Errorf(core.KindInvalidArgument, "cannot parse owner/repo from remote %q", remoteURL)
	}
	return m[1], m[2], nil
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

func runCommand(ctx context.Context, dir, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}
