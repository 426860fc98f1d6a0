// Package file implements file access tools over the sandbox filesystem.
//
// Two tools are registered:
//   - file_read: transfer a file's content out of the sandbox
//   - file_write: transfer content into the sandbox
//
// Every path is normalized and checked against the workspace allow-list
// before any transfer. The check is per path component, so a sibling
// directory with the workspace root as a string prefix never slips through.
package file

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jkaninda/sanduku/internal/sandbox"
	"github.com/jkaninda/sanduku/internal/tools"
)

// ReadTool reads files from the sandbox workspace.
type ReadTool struct {
	executor *tools.Executor
	logger   *slog.Logger
}

// NewReadTool creates the file_read tool.
func NewReadTool(executor *tools.Executor, logger *slog.Logger) *ReadTool {
	return &ReadTool{executor: executor, logger: logger}
}

func (t *ReadTool) Name() string        { return "file_read" }
func (t *ReadTool) Description() string { return "Read a file from the sandbox workspace" }
func (t *ReadTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Absolute path inside the workspace (e.g. /workspace/output/result.txt)"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadTool) Validate(params map[string]any) error {
	_, err := tools.RequireString(params, "path")
	return err
}

func (t *ReadTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path, err := tools.RequireString(params, "path")
	if err != nil {
		return nil, err
	}
	if err := t.executor.ValidatePath(path); err != nil {
		return tools.Errorf("%v", err), nil
	}

	t.logger.InfoContext(ctx, "file read", slog.String("path", path))

	content, err := t.executor.Sandbox().ReadFile(ctx, path)
	if err != nil {
		if errors.Is(err, sandbox.ErrNotFound) {
			return tools.Errorf("file not found: %s", path), nil
		}
		return tools.Errorf("reading file: %v", err), nil
	}

	return &tools.Result{
		Status:  tools.StatusSuccess,
		Path:    path,
		Content: t.executor.Truncate(content),
		Size:    len(content),
	}, nil
}

// WriteTool writes files into the sandbox workspace.
type WriteTool struct {
	executor *tools.Executor
	logger   *slog.Logger
}

// NewWriteTool creates the file_write tool.
func NewWriteTool(executor *tools.Executor, logger *slog.Logger) *WriteTool {
	return &WriteTool{executor: executor, logger: logger}
}

func (t *WriteTool) Name() string        { return "file_write" }
func (t *WriteTool) Description() string { return "Write content to a file in the sandbox workspace" }
func (t *WriteTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "Absolute path inside the workspace"},
			"content": map[string]any{"type": "string", "description": "The content to write"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteTool) Validate(params map[string]any) error {
	if _, err := tools.RequireString(params, "path"); err != nil {
		return err
	}
	// Content is required but may legitimately be empty (truncate a file).
	if _, ok := params["content"]; !ok {
		return errors.New("missing required parameter: content")
	}
	if _, ok := params["content"].(string); !ok {
		return errors.New("parameter content must be a string")
	}
	return nil
}

func (t *WriteTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	if err := t.Validate(params); err != nil {
		return nil, err
	}
	path, _ := tools.RequireString(params, "path")
	content, _ := params["content"].(string)

	if err := t.executor.ValidatePath(path); err != nil {
		return tools.Errorf("%v", err), nil
	}

	t.logger.InfoContext(ctx, "file write",
		slog.String("path", path),
		slog.Int("bytes", len(content)),
	)

	if err := t.executor.Sandbox().WriteFile(ctx, path, content); err != nil {
		return tools.Errorf("writing file: %v", err), nil
	}

	return &tools.Result{
		Status: tools.StatusSuccess,
		Path:   path,
		Size:   len(content),
	}, nil
}
