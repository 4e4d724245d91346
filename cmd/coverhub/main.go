package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coverhub/coverhub/internal/core"
	"github.com/coverhub/coverhub/internal/db"
	gh "github.com/coverhub/coverhub/internal/github"
	"github.com/coverhub/coverhub/internal/gitops"
	httpsvr "github.com/coverhub/coverhub/internal/http"
	mcpsvr "github.com/coverhub/coverhub/internal/mcp"
	"github.com/coverhub/coverhub/internal/review"
	"github.com/coverhub/coverhub/internal/runner"
)

var (
	version   = ""
	gitCommit = ""
	buildTime = ""
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel()}))

	var auditLog *core.AuditLog
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		database, err := db.New(databaseURL)
		if err != nil {
			logger.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		defer database.Close()
		auditLog = core.NewAuditLog(database, logger)
		logger.Info("audit trail enabled")
	} else {
		logger.Info("audit trail disabled (DATABASE_URL not set)")
	}

	runTimeout := durationEnv(logger, "RUN_TIMEOUT_SECONDS", 10*time.Minute)
	runMaxOutput := intEnv(logger, "RUN_MAX_OUTPUT_BYTES", 256*1024)
	var allowedExecutables []string
	if raw := strings.TrimSpace(os.Getenv("RUN_ALLOWED_EXECUTABLES")); raw != "" {
		allowedExecutables = splitCSV(raw)
		if len(allowedExecutables) == 0 {
			logger.Error("invalid RUN_ALLOWED_EXECUTABLES", "value", raw)
			os.Exit(1)
		}
	}
	testRunner := runner.NewRunner(runner.Config{
		Command:            envOrDefault("BUILD_CMD", "mvn test"),
		Timeout:            runTimeout,
		MaxOutputBytes:     runMaxOutput,
		AllowedExecutables: allowedExecutables,
	})

	gitService := gitops.NewService(gitops.Config{
		GitBin:  envOrDefault("GIT_BIN", "git"),
		Timeout: durationEnv(logger, "GIT_TIMEOUT_SECONDS", 2*time.Minute),
	})

	var apiClient *gh.Client
	if rawAppID := os.Getenv("GITHUB_APP_ID"); rawAppID != "" {
		appID, err := strconv.ParseInt(rawAppID, 10, 64)
		if err != nil {
			logger.Error("invalid GITHUB_APP_ID", "err", err)
			os.Exit(1)
		}
		var installationID int64
		if rawInstallationID := os.Getenv("GITHUB_INSTALLATION_ID"); rawInstallationID != "" {
			installationID, err = strconv.ParseInt(rawInstallationID, 10, 64)
			if err != nil {
				logger.Error("invalid GITHUB_INSTALLATION_ID", "err", err)
				os.Exit(1)
			}
		}
		apiClient, err = gh.NewClient(appID, installationID, requireEnv("GITHUB_PRIVATE_KEY_PATH"))
		if err != nil {
			logger.Error("github client init failed", "err", err)
			os.Exit(1)
		}
		logger.Info("github app fallback enabled", "app_id", appID)
	}

	reviewService := review.NewService(review.Config{
		GHBin:   envOrDefault("GH_BIN", "gh"),
		Timeout: durationEnv(logger, "GH_TIMEOUT_SECONDS", 2*time.Minute),
	}, apiClient)

	policy := core.NewPolicy(os.Getenv("TOOL_ALLOWLIST"))

	mcpAddr := envOrDefault("COVERHUB_MCP_LISTEN", "127.0.0.1:8090")
	httpAddr := envOrDefault("COVERHUB_HTTP_LISTEN", "127.0.0.1:8080")

	logger.Info("effective config",
		"mcp_addr", mcpAddr,
		"http_addr", httpAddr,
		"build_cmd", envOrDefault("BUILD_CMD", "mvn test"),
		"run_timeout", runTimeout.String(),
	)

	mcpServer := mcpsvr.NewServer(mcpAddr, testRunner, gitService, reviewService, auditLog, policy, logger)
	httpServer := httpsvr.NewServer(httpAddr, auditLog, logger, httpsvr.BuildInfo{
		Version:   version,
		GitCommit: gitCommit,
		BuildTime: buildTime,
	})

	errCh := make(chan error, 2)
	go func() { errCh <- mcpServer.ListenAndServe() }()
	go func() { errCh <- httpServer.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("server error", "err", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	mcpServer.Shutdown(ctx)
	httpServer.Shutdown(ctx)
	logger.Info("shutdown complete")
}

func logLevel() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required env var missing", "key", key)
		os.Exit(1)
	}
	return v
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(logger *slog.Logger, key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		logger.Error("invalid "+key, "value", raw)
		os.Exit(1)
	}
	return time.Duration(secs) * time.Second
}

func intEnv(logger *slog.Logger, key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		logger.Error("invalid "+key, "value", raw)
		os.Exit(1)
	}
	return n
}

func splitCSV(raw string) []string {
	out := make([]string, 0)
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
