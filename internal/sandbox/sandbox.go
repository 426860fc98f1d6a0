// Package sandbox provides isolated execution environments for commands and
// code. A sandbox is one provisioned environment — a local Docker container or
// a remote Daytona workspace — with its own filesystem and process space.
// All command execution and file exchange goes through the Sandbox contract;
// nothing runs directly on the host.
package sandbox

import (
	"context"
	"time"
)

// Workspace layout inside every sandbox. The directories are created through
// the sandbox's own command execution during Start, so the layout is
// engine-independent.
const (
	WorkspaceRoot      = "/workspace"
	WorkspaceInput     = WorkspaceRoot + "/input"
	WorkspaceOutput    = WorkspaceRoot + "/output"
	WorkspaceTemp      = WorkspaceRoot + "/temp"
	WorkspaceDownloads = WorkspaceRoot + "/downloads"

	// ScriptPath is where code-execution tools write scripts before running them.
	ScriptPath = WorkspaceTemp + "/_script.py"
)

// workspaceInitCommand creates the standard directory layout. Run via the
// sandbox's own exec so it works for any backend.
const workspaceInitCommand = "mkdir -p " +
	WorkspaceInput + " " + WorkspaceOutput + " " + WorkspaceTemp + " " + WorkspaceDownloads

// DefaultTimeout bounds a command when RunOptions.Timeout is zero.
const DefaultTimeout = 120 * time.Second

// RunOptions constrains a single command execution.
type RunOptions struct {
	// WorkingDir is the directory the command runs in. Empty = WorkspaceRoot.
	WorkingDir string

	// Timeout is the wall-clock bound. Zero = DefaultTimeout. On expiry the
	// command is terminated (guaranteed for Docker, best-effort for Daytona)
	// and a distinguished timeout result is returned — not an error.
	Timeout time.Duration

	// Env adds environment variables for this command only.
	Env map[string]string
}

// timeout returns the effective timeout.
func (o RunOptions) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return DefaultTimeout
}

// workingDir returns the effective working directory.
func (o RunOptions) workingDir() string {
	if o.WorkingDir != "" {
		return o.WorkingDir
	}
	return WorkspaceRoot
}

// Sandbox is the capability contract every backend implements.
//
// No operation other than Start is valid before Start completes, and none is
// valid after Cleanup begins; backends return ErrNotStarted instead of
// silently no-opping. A Sandbox performs no internal locking — it is owned by
// the caller that created it, and concurrent use of one instance requires
// external synchronization.
type Sandbox interface {
	// Start provisions the environment and the workspace directory layout.
	// Not idempotent: calling Start twice returns ErrAlreadyStarted.
	// Provisioning failures are returned as a *ProvisioningError.
	Start(ctx context.Context) error

	// Cleanup destroys the environment irrecoverably. Safe to call after a
	// partially failed Start and safe to call twice (the second call is a
	// no-op). Host-side handles are released even when the remote deletion
	// fails; the failure is still returned.
	Cleanup(ctx context.Context) error

	// RunCommand executes a shell command inside the sandbox. A non-zero exit
	// is a normal result, not an error; errors are reserved for execution
	// failure (environment unreachable, dispatch rejected). A command that
	// exceeds its timeout yields the distinguished timeout result.
	RunCommand(ctx context.Context, command string, opts RunOptions) (*CommandResult, error)

	// ReadFile transfers a file's content out of the sandbox. A missing path
	// is reported as ErrNotFound, distinguishable from other I/O failures.
	ReadFile(ctx context.Context, path string) (string, error)

	// WriteFile transfers content into the sandbox, creating missing parent
	// directories transparently.
	WriteFile(ctx context.Context, path, content string) error
}

// With runs fn against a started sandbox and guarantees Cleanup afterwards,
// whether fn returns normally or not. The fn error wins over a cleanup error;
// a cleanup failure after a successful fn is still reported.
func With(ctx context.Context, sb Sandbox, fn func(Sandbox) error) (err error) {
	if err := sb.Start(ctx); err != nil {
		return err
	}
	defer func() {
		// Cleanup must run even when the caller's context is already done.
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 60*time.Second)
		defer cancel()
		if cerr := sb.Cleanup(cleanupCtx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(sb)
}
