// Package code implements sandboxed Python execution.
//
// The snippet is written to a fixed script path inside the sandbox and run
// from the workspace root, so relative paths in user code resolve under
// /workspace. Files the code leaves in the output directory are discovered
// and reported with the result.
package code

import (
	"context"
	"log/slog"

	"github.com/jkaninda/sanduku/internal/sandbox"
	"github.com/jkaninda/sanduku/internal/tools"
)

// Tool executes Python snippets inside a sandbox.
type Tool struct {
	executor *tools.Executor
	logger   *slog.Logger
}

// NewTool creates a sandboxed Python execution tool.
func NewTool(executor *tools.Executor, logger *slog.Logger) *Tool {
	return &Tool{
		executor: executor,
		logger:   logger,
	}
}

func (t *Tool) Name() string { return "python" }
func (t *Tool) Description() string {
	return "Execute Python code in the sandboxed environment. Files written to " +
		sandbox.WorkspaceOutput + " are reported back as generated files."
}
func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code":            map[string]any{"type": "string", "description": "The Python source code to execute"},
			"timeout_seconds": map[string]any{"type": "number", "description": "Wall-clock bound in seconds, overrides the default timeout"},
		},
		"required": []string{"code"},
	}
}

func (t *Tool) Validate(params map[string]any) error {
	if _, err := tools.RequireString(params, "code"); err != nil {
		return err
	}
	_, err := tools.OptionalTimeout(params)
	return err
}

// Execute writes the snippet into the sandbox and runs it with python3.
// Writing the file first — rather than inlining the code into the command
// line — sidesteps shell quoting entirely and keeps tracebacks readable.
func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	snippet, err := tools.RequireString(params, "code")
	if err != nil {
		return nil, err
	}
	timeout, err := tools.OptionalTimeout(params)
	if err != nil {
		return nil, err
	}

	t.logger.InfoContext(ctx, "python tool executing", slog.Int("code_bytes", len(snippet)))

	sbx := t.executor.Sandbox()
	if err := sbx.WriteFile(ctx, sandbox.ScriptPath, snippet); err != nil {
		return tools.Errorf("staging script: %v", err), nil
	}

	result, err := t.executor.Run(ctx,
		"cd "+sandbox.WorkspaceRoot+" && python3 "+sandbox.ScriptPath,
		sandbox.RunOptions{Timeout: timeout},
	)
	if err != nil {
		return tools.Errorf("code execution failed: %v", err), nil
	}

	status := tools.StatusSuccess
	if !result.Success() {
		status = tools.StatusError
	}
	return &tools.Result{
		Status:         status,
		Stdout:         result.Stdout,
		Stderr:         result.Stderr,
		ExitCode:       result.ExitCode,
		GeneratedFiles: t.executor.ListGeneratedFiles(ctx),
	}, nil
}
