// Package tools defines the tool interface, registry, and shared execution
// helpers for sanduku. Every tool delegates its actual work to a sandbox —
// nothing a tool does touches the host.
//
// Tool failures are results, not errors: a missing file, a path violation, or
// a non-zero exit comes back as a Result with status "error", so the caller
// always gets a structured answer it can relay. Go errors are reserved for
// malformed parameters, which are caller bugs.
package tools

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Status values of a Result.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Tool is the interface all sanduku tools implement.
type Tool interface {
	// Name returns the tool's unique identifier (e.g. "shell").
	Name() string

	// Description returns a human-readable description.
	Description() string

	// InputSchema returns a JSON Schema object describing the tool's
	// parameters, suitable for function-calling integrations.
	InputSchema() map[string]any

	// Validate checks that params are well-formed before execution, so
	// invalid requests fail fast without touching the sandbox.
	Validate(params map[string]any) error

	// Execute runs the tool. Operational failures are reported inside the
	// Result; the error return is for malformed parameters only.
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// Result is the outcome of a tool execution. Status is always set; the
// payload fields depend on the operation.
type Result struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`

	// Command execution payload.
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code"`

	// File payload.
	Content string `json:"content,omitempty"`
	Path    string `json:"path,omitempty"`
	Size    int    `json:"size,omitempty"`

	// Files discovered under the output directory after execution.
	GeneratedFiles []string `json:"generated_files,omitempty"`

	// Browse payload.
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

// Errorf builds an error-status result. ExitCode defaults to -1 so an error
// result never reads as a clean exit.
func Errorf(format string, args ...any) *Result {
	return &Result{
		Status:   StatusError,
		Error:    fmt.Sprintf(format, args...),
		ExitCode: -1,
	}
}

// RequireString extracts a required, non-empty string parameter.
func RequireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string, got %T", key, v)
	}
	if s == "" {
		return "", fmt.Errorf("parameter %s must not be empty", key)
	}
	return s, nil
}

// OptionalString extracts an optional string parameter, or "" when absent.
func OptionalString(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

// OptionalTimeout extracts the optional timeout_seconds parameter as a
// duration, or zero when absent. JSON numbers arrive as float64; integers
// are accepted for direct callers.
func OptionalTimeout(params map[string]any) (time.Duration, error) {
	v, ok := params["timeout_seconds"]
	if !ok {
		return 0, nil
	}
	var seconds float64
	switch n := v.(type) {
	case float64:
		seconds = n
	case int:
		seconds = float64(n)
	default:
		return 0, fmt.Errorf("parameter timeout_seconds must be a number, got %T", v)
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("parameter timeout_seconds must be positive, got %v", seconds)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// Registry holds available tools keyed by name.
// Thread-safe for concurrent reads; writes should only happen at startup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Panics on duplicate names (startup config error, not runtime).
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		panic("duplicate tool registration: " + t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns all registered tool names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// All returns all registered tools.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		result = append(result, t)
	}
	return result
}
