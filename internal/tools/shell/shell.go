// Package shell implements the sandboxed shell execution tool.
// All commands run through the sandbox — never directly on the host.
package shell

import (
	"context"
	"log/slog"

	"github.com/jkaninda/sanduku/internal/sandbox"
	"github.com/jkaninda/sanduku/internal/tools"
)

// Tool executes shell commands inside a sandbox.
type Tool struct {
	executor *tools.Executor
	logger   *slog.Logger
}

// NewTool creates a shell tool that delegates all execution to the executor's
// sandbox.
func NewTool(executor *tools.Executor, logger *slog.Logger) *Tool {
	return &Tool{
		executor: executor,
		logger:   logger,
	}
}

func (t *Tool) Name() string        { return "shell" }
func (t *Tool) Description() string { return "Execute a shell command in the sandboxed environment" }
func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command":         map[string]any{"type": "string", "description": "The shell command to execute"},
			"timeout_seconds": map[string]any{"type": "number", "description": "Wall-clock bound in seconds, overrides the default timeout"},
			"working_dir":     map[string]any{"type": "string", "description": "Working directory inside the sandbox"},
		},
		"required": []string{"command"},
	}
}

// Validate checks that required params are present and well-formed.
func (t *Tool) Validate(params map[string]any) error {
	if _, err := tools.RequireString(params, "command"); err != nil {
		return err
	}
	if _, err := tools.OptionalTimeout(params); err != nil {
		return err
	}
	return nil
}

// Execute runs the command through the sandbox. A non-zero exit or a timeout
// is reported inside the result, never as a Go error.
//
// Required params:
//
//	"command" (string) — the shell command to execute
//
// Optional params:
//
//	"timeout_seconds" (number) — wall-clock bound, overrides the default
//	"working_dir" (string) — working directory override
func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	command, err := tools.RequireString(params, "command")
	if err != nil {
		return nil, err
	}
	timeout, err := tools.OptionalTimeout(params)
	if err != nil {
		return nil, err
	}

	t.logger.InfoContext(ctx, "shell tool executing", slog.String("command", command))

	result, err := t.executor.Run(ctx, command, sandbox.RunOptions{
		WorkingDir: tools.OptionalString(params, "working_dir"),
		Timeout:    timeout,
	})
	if err != nil {
		return tools.Errorf("command execution failed: %v", err), nil
	}

	status := tools.StatusSuccess
	if !result.Success() {
		status = tools.StatusError
	}
	return &tools.Result{
		Status:   status,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		ExitCode: result.ExitCode,
	}, nil
}
