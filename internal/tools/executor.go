package tools

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/jkaninda/sanduku/internal/sandbox"
)

// DefaultMaxOutputChars caps tool output relayed to the caller. Sandbox-level
// capture has its own (larger) byte cap; this is the presentation limit.
const DefaultMaxOutputChars = 8000

// truncationMarker recognizes output this executor has already truncated, so
// re-truncation is a no-op rather than a second cut through the marker.
var truncationMarker = regexp.MustCompile(`\n\.\.\. \(truncated, \d+ total chars\)$`)

// PathViolationError reports a path outside the allowed workspace roots.
type PathViolationError struct {
	Path         string
	AllowedRoots []string
}

func (e *PathViolationError) Error() string {
	return fmt.Sprintf("path %q is outside the allowed roots %v", e.Path, e.AllowedRoots)
}

// Executor bundles the sandbox with the execution policy shared by every
// tool: output truncation, path restriction, and generated-file discovery.
type Executor struct {
	sandbox        sandbox.Sandbox
	maxOutputChars int
	defaultTimeout time.Duration
	allowedRoots   []string
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithMaxOutputChars overrides the output truncation limit.
func WithMaxOutputChars(n int) ExecutorOption {
	return func(e *Executor) { e.maxOutputChars = n }
}

// WithDefaultTimeout overrides the per-command timeout applied when a tool
// call does not carry its own.
func WithDefaultTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.defaultTimeout = d }
}

// WithAllowedRoots overrides the path allow-list.
func WithAllowedRoots(roots ...string) ExecutorOption {
	return func(e *Executor) { e.allowedRoots = roots }
}

// NewExecutor creates an executor over the given sandbox. By default all
// paths under the sandbox workspace root are allowed.
func NewExecutor(sbx sandbox.Sandbox, opts ...ExecutorOption) *Executor {
	e := &Executor{
		sandbox:        sbx,
		maxOutputChars: DefaultMaxOutputChars,
		defaultTimeout: sandbox.DefaultTimeout,
		allowedRoots:   []string{sandbox.WorkspaceRoot},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sandbox exposes the underlying sandbox for tools that need direct file
// transfer.
func (e *Executor) Sandbox() sandbox.Sandbox { return e.sandbox }

// DefaultTimeout returns the timeout applied when a tool call has none.
func (e *Executor) DefaultTimeout() time.Duration { return e.defaultTimeout }

// Run executes a command in the sandbox and truncates the captured output to
// the presentation limit. Exit codes pass through untouched.
func (e *Executor) Run(ctx context.Context, command string, opts sandbox.RunOptions) (*sandbox.CommandResult, error) {
	if opts.Timeout == 0 {
		opts.Timeout = e.defaultTimeout
	}
	result, err := e.sandbox.RunCommand(ctx, command, opts)
	if err != nil {
		return nil, err
	}
	result.Stdout = e.Truncate(result.Stdout)
	result.Stderr = e.Truncate(result.Stderr)
	return result, nil
}

// Truncate caps s at the output limit, appending a marker carrying the
// original length. Idempotent: already-truncated output passes through
// unchanged, so the marker is never cut in half by a second pass.
func (e *Executor) Truncate(s string) string {
	limit := e.maxOutputChars
	if limit <= 0 || len(s) <= limit {
		return s
	}
	if loc := truncationMarker.FindStringIndex(s); loc != nil && loc[0] <= limit {
		return s
	}
	return s[:limit] + fmt.Sprintf("\n... (truncated, %d total chars)", len(s))
}

// ValidatePath checks that p is an absolute POSIX path inside one of the
// allowed roots. Matching is per path component, so /workspace2 is rejected
// when the root is /workspace.
func (e *Executor) ValidatePath(p string) error {
	if p == "" {
		return &PathViolationError{Path: p, AllowedRoots: e.allowedRoots}
	}
	norm := path.Clean(p)
	if !path.IsAbs(norm) {
		return &PathViolationError{Path: p, AllowedRoots: e.allowedRoots}
	}
	for _, root := range e.allowedRoots {
		root = path.Clean(root)
		if norm == root || strings.HasPrefix(norm, root+"/") {
			return nil
		}
	}
	return &PathViolationError{Path: p, AllowedRoots: e.allowedRoots}
}

// ListGeneratedFiles returns the absolute paths of files currently under the
// sandbox output directory. Discovery failures are swallowed — a tool result
// without the file list is better than a failed tool call over a listing.
func (e *Executor) ListGeneratedFiles(ctx context.Context) []string {
	result, err := e.sandbox.RunCommand(ctx, "ls -1 "+sandbox.WorkspaceOutput, sandbox.RunOptions{
		Timeout: 10 * time.Second,
	})
	if err != nil || !result.Success() {
		return nil
	}
	var files []string
	for _, name := range strings.Split(result.Stdout, "\n") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		files = append(files, sandbox.WorkspaceOutput+"/"+name)
	}
	return files
}
