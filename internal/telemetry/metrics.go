// Package telemetry keeps in-process counters and renders them in
// Prometheus text format for the /metrics endpoint.
package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var defaultRegistry = newRegistry()

type registry struct {
	mu                  sync.Mutex
	toolCalls           map[string]map[string]int64
	toolDurationBuckets map[string][]int64
	processTimeouts     int64
	gitErrors           map[string]int64
	ghCLIErrors         map[string]int64
}

func newRegistry() *registry {
	return &registry{
		toolCalls:           make(map[string]map[string]int64),
		toolDurationBuckets: make(map[string][]int64),
		gitErrors:           make(map[string]int64),
		ghCLIErrors:         make(map[string]int64),
	}
}

func IncToolCall(toolName, status string) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	if _, ok := defaultRegistry.toolCalls[toolName]; !ok {
		defaultRegistry.toolCalls[toolName] = make(map[string]int64)
	}
	defaultRegistry.toolCalls[toolName][status]++
}

func ObserveToolDuration(toolName string, d time.Duration) {
	buckets := []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}
	sec := d.Seconds()

	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	if _, ok := defaultRegistry.toolDurationBuckets[toolName]; !ok {
		defaultRegistry.toolDurationBuckets[toolName] = make([]int64, len(buckets)+1)
	}
	idx := len(buckets)
	for i, b := range buckets {
		if sec <= b {
			idx = i
			break
		}
	}
	defaultRegistry.toolDurationBuckets[toolName][idx]++
}

func IncProcessTimeout() {
	defaultRegistry.mu.Lock()
	defaultRegistry.processTimeouts++
	defaultRegistry.mu.Unlock()
}

func IncGitError(op string) {
	defaultRegistry.mu.Lock()
	defaultRegistry.gitErrors[op]++
	defaultRegistry.mu.Unlock()
}

func IncGHCLIError(kind string) {
	defaultRegistry.mu.Lock()
	defaultRegistry.ghCLIErrors[kind]++
	defaultRegistry.mu.Unlock()
}

func RenderPrometheus() string {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()

	var sb strings.Builder

	sb.WriteString("# TYPE coverhub_tool_calls_total counter\n")
	for _, tool := range sortedKeys(defaultRegistry.toolCalls) {
		for _, status := range sortedKeys(defaultRegistry.toolCalls[tool]) {
			sb.WriteString(fmt.Sprintf("coverhub_tool_calls_total{tool=\"%s\",status=\"%s\"} %d\n", tool, status, defaultRegistry.toolCalls[tool][status]))
		}
	}

	sb.WriteString("# TYPE coverhub_tool_duration_seconds_bucket counter\n")
	bucketLabels := []string{"0.1", "0.5", "1", "2", "5", "10", "30", "60", "+Inf"}
	for _, tool := range sortedKeys(defaultRegistry.toolDurationBuckets) {
		counts := defaultRegistry.toolDurationBuckets[tool]
		for i, v := range counts {
			sb.WriteString(fmt.Sprintf("coverhub_tool_duration_seconds_bucket{tool=\"%s\",le=\"%s\"} %d\n", tool, bucketLabels[i], v))
		}
	}

	sb.WriteString("# TYPE coverhub_process_timeouts_total counter\n")
	sb.WriteString(fmt.Sprintf("coverhub_process_timeouts_total %d\n", defaultRegistry.processTimeouts))

	sb.WriteString("# TYPE coverhub_git_errors_total counter\n")
	for _, op := range sortedKeys(defaultRegistry.gitErrors) {
		sb.WriteString(fmt.Sprintf("coverhub_git_errors_total{op=\"%s\"} %d\n", op, defaultRegistry.gitErrors[op]))
	}

	sb.WriteString("# TYPE coverhub_gh_cli_errors_total counter\n")
	for _, kind := range sortedKeys(defaultRegistry.ghCLIErrors) {
		sb.WriteString(fmt.Sprintf("coverhub_gh_cli_errors_total{kind=\"%s\"} %d\n", kind, defaultRegistry.ghCLIErrors[kind]))
	}

	return sb.String()
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
