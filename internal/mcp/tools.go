package mcp

// ToolDefinitions describes every dispatch operation with its input
// schema, served from tools/list.
func ToolDefinitions() []map[string]any {
	return []map[string]any{
		{
			"name":        "run_tests",
			"description": "Run the configured build/test command inside a project and capture exit status and output",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"project_path": map[string]string{"type": "string", "description": "Directory of the project to build"},
					"dry_run":      map[string]string{"type": "boolean", "description": "Validate and echo the command without running it"},
				},
				"required": []string{"project_path"},
			},
		},
		{
			"name":        "read_coverage",
			"description": "Parse a JaCoCo XML report into per-class coverage, worst-covered classes first",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"xml_path": map[string]string{"type": "string", "description": "Path to the jacoco.xml report"},
				},
				"required": []string{"xml_path"},
			},
		},
		{
			"name":        "git_status",
			"description": "Show staged, unstaged, untracked and conflicted files",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo_path": map[string]string{"type": "string"},
				},
				"required": []string{"repo_path"},
			},
		},
		{
			"name":        "git_add_all",
			"description": "Stage all meaningful changes, excluding build artifacts",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo_path": map[string]string{"type": "string"},
				},
				"required": []string{"repo_path"},
			},
		},
		{
			"name":        "git_commit",
			"description": "Commit staged changes with an optional coverage summary block; refuses main/master",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo_path": map[string]string{"type": "string"},
					"message":   map[string]string{"type": "string"},
					"coverage": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"before": map[string]string{"type": "object", "description": "Coverage summary before the change"},
							"after":  map[string]string{"type": "object", "description": "Coverage summary after the change"},
						},
					},
				},
				"required": []string{"repo_path", "message"},
			},
		},
		{
			"name":        "git_push",
			"description": "Push the current branch; fails typed when no upstream is configured or the push is rejected",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo_path": map[string]string{"type": "string"},
					"remote":    map[string]string{"type": "string", "description": "Remote name, e.g. origin"},
				},
				"required": []string{"repo_path"},
			},
		},
		{
			"name":        "git_pull_request",
			"description": "Open a pull request from the current branch into base via the gh CLI",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo_path": map[string]string{"type": "string"},
					"base":      map[string]string{"type": "string"},
					"title":     map[string]string{"type": "string"},
					"body": map[string]any{
						"description": "Plain text, or an object with summary, coverage_delta, classes_improved, bugs_found, next_steps",
					},
				},
				"required": []string{"repo_path", "base", "title"},
			},
		},
	}
}
