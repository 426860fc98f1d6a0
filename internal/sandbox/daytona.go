package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"
)

const (
	defaultDaytonaImage    = "daytonaio/workspace:latest"
	defaultDaytonaTarget   = "us"
	defaultDaytonaCPU      = 2
	defaultDaytonaMemoryGB = 4
	defaultDaytonaDiskGB   = 10
	defaultAutoStopMinutes = 30
)

// DaytonaConfig configures the Daytona cloud workspace sandbox.
type DaytonaConfig struct {
	APIKey           string // Required. Validated before any network call.
	ServerURL        string // API endpoint. Default: https://api.daytona.io.
	Target           string // Region (e.g. "us", "eu").
	Image            string // Workspace image.
	CPU              int    // CPU cores.
	MemoryGB         int    // Memory in GB.
	DiskGB           int    // Disk in GB.
	AutoStopInterval int    // Minutes until the idle workspace auto-stops. 0 = disabled.

	// Env is applied to every command run in the workspace. Per-command
	// environment entries win on conflict.
	Env map[string]string

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// DaytonaSandbox implements the Sandbox contract against the remote Daytona
// workspace API.
//
// Known limitation: there is no in-workspace timeout utility, so RunCommand
// enforces its bound only from the caller's side. On expiry the distinguished
// timeout result is returned, but the remote process may keep running until
// the workspace's auto-stop interval fires — timeout termination here is
// best-effort, unlike the Docker backend's in-container guarantee.
type DaytonaSandbox struct {
	config DaytonaConfig
	logger *slog.Logger

	client    *daytonaClient
	workspace string // remote workspace ID, set by Start
	started   bool
}

// NewDaytonaSandbox creates a Daytona sandbox. The remote workspace is not
// provisioned until Start.
func NewDaytonaSandbox(cfg DaytonaConfig, logger *slog.Logger) *DaytonaSandbox {
	if cfg.ServerURL == "" {
		cfg.ServerURL = defaultDaytonaBaseURL
	}
	if cfg.Target == "" {
		cfg.Target = defaultDaytonaTarget
	}
	if cfg.Image == "" {
		cfg.Image = defaultDaytonaImage
	}
	if cfg.CPU <= 0 {
		cfg.CPU = defaultDaytonaCPU
	}
	if cfg.MemoryGB <= 0 {
		cfg.MemoryGB = defaultDaytonaMemoryGB
	}
	if cfg.DiskGB <= 0 {
		cfg.DiskGB = defaultDaytonaDiskGB
	}
	if cfg.AutoStopInterval < 0 {
		cfg.AutoStopInterval = defaultAutoStopMinutes
	}
	return &DaytonaSandbox{
		config: cfg,
		logger: logger,
	}
}

// WorkspaceID returns the remote workspace ID, or "" before Start.
func (s *DaytonaSandbox) WorkspaceID() string { return s.workspace }

// Start provisions a remote workspace and initializes the workspace
// directory layout. The client handle is created here and owned by this
// sandbox until Cleanup.
func (s *DaytonaSandbox) Start(ctx context.Context) error {
	if s.started {
		return ErrAlreadyStarted
	}
	if s.config.APIKey == "" {
		return &ProvisioningError{Backend: "daytona", Err: fmt.Errorf("api key is required")}
	}

	s.logger.InfoContext(ctx, "starting daytona sandbox",
		slog.String("image", s.config.Image),
		slog.String("target", s.config.Target),
	)

	s.client = newDaytonaClient(s.config.APIKey, s.config.ServerURL, s.config.HTTPClient, s.logger)

	info, err := s.client.createWorkspace(ctx, createWorkspaceRequest{
		Image:            s.config.Image,
		Target:           s.config.Target,
		CPU:              s.config.CPU,
		MemoryGB:         s.config.MemoryGB,
		DiskGB:           s.config.DiskGB,
		AutoStopInterval: s.config.AutoStopInterval,
	})
	if err != nil {
		s.client = nil
		return &ProvisioningError{Backend: "daytona", Err: err}
	}
	s.workspace = info.ID
	s.started = true

	// Workspace layout must exist before Start returns.
	result, err := s.RunCommand(ctx, workspaceInitCommand, RunOptions{Timeout: 30 * time.Second, WorkingDir: "/"})
	if err != nil || !result.Success() {
		if err == nil {
			err = fmt.Errorf("exit %d: %s", result.ExitCode, result.Stderr)
		}
		// Best-effort rollback of the half-provisioned workspace.
		if cerr := s.Cleanup(ctx); cerr != nil {
			s.logger.Warn("rollback of daytona workspace failed", slog.String("error", cerr.Error()))
		}
		return &ProvisioningError{Backend: "daytona", Err: fmt.Errorf("initializing workspace: %w", err)}
	}

	s.logger.InfoContext(ctx, "daytona sandbox started", slog.String("workspace", s.workspace))
	return nil
}

// Cleanup deletes the remote workspace. The client handle is cleared whether
// or not deletion succeeds — leaking the local handle is strictly worse than
// retrying the deletion out-of-band — and the failure is still returned.
func (s *DaytonaSandbox) Cleanup(ctx context.Context) error {
	if s.workspace == "" {
		s.client = nil
		s.started = false
		return nil // Never provisioned, or already destroyed.
	}

	s.logger.InfoContext(ctx, "cleaning up daytona sandbox", slog.String("workspace", s.workspace))

	err := s.client.deleteWorkspace(ctx, s.workspace)
	s.workspace = ""
	s.client = nil
	s.started = false

	if err != nil {
		return fmt.Errorf("deleting daytona workspace: %w", err)
	}
	return nil
}

// RunCommand executes a shell command in the remote workspace. The caller's
// bound is the only timeout enforcement — see the type doc for the
// termination caveat.
func (s *DaytonaSandbox) RunCommand(ctx context.Context, command string, opts RunOptions) (*CommandResult, error) {
	if !s.started {
		return nil, ErrNotStarted
	}

	timeout := opts.timeout()
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.DebugContext(ctx, "daytona exec",
		slog.String("workspace", s.workspace),
		slog.String("command", truncateForLog(command)),
		slog.Duration("timeout", timeout),
	)

	resp, err := s.client.execute(execCtx, s.workspace, execRequest{
		Command:        command,
		Cwd:            opts.workingDir(),
		Env:            mergeEnv(s.config.Env, opts.Env),
		TimeoutSeconds: int(timeout.Seconds()),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && execCtx.Err() != nil {
			s.logger.WarnContext(ctx, "command timed out",
				slog.String("workspace", s.workspace),
				slog.Duration("timeout", timeout),
			)
			return timeoutResult(timeout, "", ""), nil
		}
		return nil, fmt.Errorf("daytona exec failed: %w", err)
	}

	return adaptExecResponse(resp), nil
}

// mergeEnv overlays per-command entries on top of the sandbox-wide
// environment. Either map may be nil.
func mergeEnv(base, override map[string]string) map[string]string {
	if len(base) == 0 {
		return override
	}
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// adaptExecResponse is the single boundary point mapping the remote API's
// response shape onto CommandResult. The API reports only combined output, so
// stderr is always empty.
func adaptExecResponse(resp *execResponse) *CommandResult {
	return &CommandResult{
		ExitCode: resp.ExitCode,
		Stdout:   resp.Result,
		Stderr:   "",
	}
}

// ReadFile downloads a file from the remote workspace. The byte stream is
// decoded as UTF-8 with invalid sequences replaced — sandboxed output is
// best-effort text, not guaranteed to be well-formed.
func (s *DaytonaSandbox) ReadFile(ctx context.Context, filePath string) (string, error) {
	if !s.started {
		return "", ErrNotStarted
	}

	data, err := s.client.downloadFile(ctx, s.workspace, filePath)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("%w: %s", ErrNotFound, filePath)
		}
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return "", fmt.Errorf("%w: %s", ErrNotFound, filePath)
		}
		return "", fmt.Errorf("reading %s from workspace: %w", filePath, err)
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

// WriteFile uploads content to the remote workspace, creating missing parent
// directories first.
func (s *DaytonaSandbox) WriteFile(ctx context.Context, filePath, content string) error {
	if !s.started {
		return ErrNotStarted
	}

	dir := path.Dir(filePath)
	result, err := s.RunCommand(ctx, "mkdir -p "+shellescape.Quote(dir), RunOptions{Timeout: 30 * time.Second, WorkingDir: "/"})
	if err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	if !result.Success() {
		return fmt.Errorf("creating directory %s: exit %d: %s", dir, result.ExitCode, result.Stderr)
	}

	if err := s.client.uploadFile(ctx, s.workspace, filePath, []byte(content)); err != nil {
		return fmt.Errorf("writing %s to workspace: %w", filePath, err)
	}
	return nil
}
