package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path"
	"strconv"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/google/uuid"
)

const (
	defaultDockerImage   = "python:3.12-slim"
	defaultDockerMemMB   = 512
	defaultDockerCPUs    = 1.0
	defaultDockerWorkDir = WorkspaceRoot

	// graceTimeout is how much longer the host-side wait is allowed to run
	// than the in-container timeout utility, so the utility gets to fire
	// first and the process is actually killed inside the container.
	graceTimeout = 5 * time.Second

	// fileTransferTimeout bounds a single docker cp invocation.
	fileTransferTimeout = 60 * time.Second

	// timeoutUtilityExitCode is what the coreutils timeout command returns
	// when it kills the wrapped process.
	timeoutUtilityExitCode = 124
)

// DockerConfig configures the Docker-based sandbox.
type DockerConfig struct {
	Image          string            // Container image. Default: python:3.12-slim.
	MemoryMB       int               // Hard memory limit. Swap is disabled (OOM kill on exceed).
	CPUCores       float64           // --cpus rate limit (e.g. 0.5 = half a core).
	NetworkEnabled bool              // true = bridge network, false = --network=none.
	WorkDir        string            // Working directory inside the container.
	AutoRemove     bool              // Remove the container automatically when it stops.
	Env            map[string]string // Environment variables set on the container.
	Volumes        map[string]string // Volume mounts {host_path: container_path}.
}

// DockerSandbox is a persistent-container sandbox driven through the Docker
// CLI. Start creates one long-lived container kept alive by an idle command;
// every RunCommand is a docker exec against it, so filesystem state persists
// across commands. File transfer goes through in-memory tar archives piped to
// docker cp, because the container filesystem is not addressable from the
// host process.
type DockerSandbox struct {
	config DockerConfig
	logger *slog.Logger

	name      string // unique container name, assigned at construction
	container string // engine-assigned container ID, set by Start
	started   bool
}

// NewDockerSandbox creates a Docker sandbox. The container is not provisioned
// until Start.
func NewDockerSandbox(cfg DockerConfig, logger *slog.Logger) *DockerSandbox {
	if cfg.Image == "" {
		cfg.Image = defaultDockerImage
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = defaultDockerMemMB
	}
	if cfg.CPUCores <= 0 {
		cfg.CPUCores = defaultDockerCPUs
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = defaultDockerWorkDir
	}
	return &DockerSandbox{
		config: cfg,
		logger: logger,
		name:   "sanduku-" + uuid.NewString()[:8],
	}
}

// ContainerID returns the engine-assigned container ID, or "" before Start.
func (s *DockerSandbox) ContainerID() string { return s.container }

// Start pulls the image if absent, creates and starts the container, and
// initializes the workspace directory layout.
func (s *DockerSandbox) Start(ctx context.Context) error {
	if s.started {
		return ErrAlreadyStarted
	}

	s.logger.InfoContext(ctx, "starting docker sandbox",
		slog.String("name", s.name),
		slog.String("image", s.config.Image),
	)

	// Ensure the image is present locally, pulling it if absent.
	if _, _, err := s.docker(ctx, nil, "image", "inspect", s.config.Image); err != nil {
		s.logger.InfoContext(ctx, "pulling image", slog.String("image", s.config.Image))
		if _, stderr, err := s.docker(ctx, nil, "pull", s.config.Image); err != nil {
			return &ProvisioningError{Backend: "docker", Err: fmt.Errorf("pulling image %s: %v: %s", s.config.Image, err, stderr)}
		}
	}

	args := s.createArgs()
	stdout, stderr, err := s.docker(ctx, nil, args...)
	if err != nil {
		return &ProvisioningError{Backend: "docker", Err: fmt.Errorf("creating container: %v: %s", err, stderr)}
	}
	s.container = strings.TrimSpace(stdout)

	if _, stderr, err := s.docker(ctx, nil, "start", s.container); err != nil {
		s.forceRemove()
		s.container = ""
		return &ProvisioningError{Backend: "docker", Err: fmt.Errorf("starting container: %v: %s", err, stderr)}
	}

	s.started = true

	// Workspace layout must exist before Start returns.
	result, err := s.RunCommand(ctx, workspaceInitCommand, RunOptions{Timeout: 30 * time.Second, WorkingDir: "/"})
	if err != nil || !result.Success() {
		s.started = false
		s.forceRemove()
		s.container = ""
		if err == nil {
			err = fmt.Errorf("exit %d: %s", result.ExitCode, result.Stderr)
		}
		return &ProvisioningError{Backend: "docker", Err: fmt.Errorf("initializing workspace: %w", err)}
	}

	s.logger.InfoContext(ctx, "docker sandbox started",
		slog.String("name", s.name),
		slog.String("container", s.container),
	)
	return nil
}

// Cleanup force-removes the container. Safe after a partially failed Start
// and safe to call twice; the handle is cleared regardless of outcome.
func (s *DockerSandbox) Cleanup(ctx context.Context) error {
	if s.container == "" {
		return nil // Never provisioned, or already destroyed.
	}

	s.logger.InfoContext(ctx, "cleaning up docker sandbox",
		slog.String("name", s.name),
		slog.String("container", s.container),
	)

	_, stderr, err := s.docker(ctx, nil, "rm", "-f", s.container)
	s.container = ""
	s.started = false

	if err != nil && !strings.Contains(stderr, "No such container") {
		return fmt.Errorf("removing container %s: %v: %s", s.name, err, stderr)
	}
	return nil
}

// RunCommand executes a shell command inside the container with two layers of
// timeout enforcement: the coreutils timeout utility wraps the command inside
// the container (so the process is actually killed on expiry, not orphaned),
// and the host-side wait is bounded slightly longer so the in-container
// timeout gets to fire first.
func (s *DockerSandbox) RunCommand(ctx context.Context, command string, opts RunOptions) (*CommandResult, error) {
	if !s.started {
		return nil, ErrNotStarted
	}

	timeout := opts.timeout()
	seconds := int(timeout.Seconds())
	if seconds < 1 {
		seconds = 1
	}

	args := []string{"exec", "-w", opts.workingDir()}
	for k, v := range opts.Env {
		args = append(args, "-e", k+"="+v)
	}
	args = append(args, s.container,
		"timeout", strconv.Itoa(seconds), "/bin/sh", "-c", command)

	execCtx, cancel := context.WithTimeout(ctx, timeout+graceTimeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "docker", args...)
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: maxOutputBytes}

	s.logger.DebugContext(ctx, "docker exec",
		slog.String("container", s.name),
		slog.String("command", truncateForLog(command)),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if runErr != nil {
		if execCtx.Err() != nil {
			// The host-side bound expired before docker exec returned. The
			// in-container timeout utility still terminates the process.
			s.logger.WarnContext(ctx, "command timed out",
				slog.String("container", s.name),
				slog.Duration("timeout", timeout),
				slog.Duration("duration", duration),
			)
			return timeoutResult(timeout, stdoutBuf.String(), ""), nil
		}

		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// Command could not be dispatched at all (daemon unreachable,
			// docker binary missing). Execution failure, not a result.
			return nil, fmt.Errorf("docker exec failed: %w", runErr)
		}
		if exitErr.ExitCode() == timeoutUtilityExitCode {
			s.logger.WarnContext(ctx, "command timed out",
				slog.String("container", s.name),
				slog.Duration("timeout", timeout),
			)
			return timeoutResult(timeout, stdoutBuf.String(), stderrBuf.String()), nil
		}
		return &CommandResult{
			ExitCode: exitErr.ExitCode(),
			Stdout:   stdoutBuf.String(),
			Stderr:   stderrBuf.String(),
		}, nil
	}

	return &CommandResult{
		ExitCode: 0,
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
	}, nil
}

// ReadFile downloads a single-file tar archive from the container and
// extracts the content in memory. Content is returned byte-exact.
func (s *DockerSandbox) ReadFile(ctx context.Context, filePath string) (string, error) {
	if !s.started {
		return "", ErrNotStarted
	}

	cpCtx, cancel := context.WithTimeout(ctx, fileTransferTimeout)
	defer cancel()

	stdout, stderr, err := s.docker(cpCtx, nil, "cp", s.container+":"+filePath, "-")
	if err != nil {
		if isDockerNotFound(stderr) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, filePath)
		}
		return "", fmt.Errorf("reading %s from container: %v: %s", filePath, err, stderr)
	}

	content, err := extractSingleFile(strings.NewReader(stdout))
	if err != nil {
		return "", fmt.Errorf("extracting %s: %w", filePath, err)
	}
	return content, nil
}

// WriteFile builds a single-file tar archive in memory and uploads it to the
// file's parent directory, creating the directory first.
func (s *DockerSandbox) WriteFile(ctx context.Context, filePath, content string) error {
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

	archive, err := buildSingleFileArchive(path.Base(filePath), content)
	if err != nil {
		return fmt.Errorf("archiving %s: %w", filePath, err)
	}

	cpCtx, cancel := context.WithTimeout(ctx, fileTransferTimeout)
	defer cancel()

	if _, stderr, err := s.docker(cpCtx, bytes.NewReader(archive), "cp", "-", s.container+":"+dir); err != nil {
		return fmt.Errorf("writing %s to container: %v: %s", filePath, err, stderr)
	}
	return nil
}

// createArgs builds the docker create argument list. The idle command keeps
// the container alive as a persistent exec target.
func (s *DockerSandbox) createArgs() []string {
	memory := strconv.Itoa(s.config.MemoryMB) + "m"
	args := []string{
		"create",
		"--name", s.name,
		"-t",

		// Hard memory limit with swap disabled: over-allocation is an OOM
		// kill, never a hang.
		"--memory=" + memory,
		"--memory-swap=" + memory,
		"--cpus=" + strconv.FormatFloat(s.config.CPUCores, 'f', 2, 64),

		"-w", s.config.WorkDir,
	}

	if s.config.NetworkEnabled {
		args = append(args, "--network=bridge")
	} else {
		args = append(args, "--network=none")
	}
	if s.config.AutoRemove {
		args = append(args, "--rm")
	}
	for k, v := range s.config.Env {
		args = append(args, "-e", k+"="+v)
	}
	for host, container := range s.config.Volumes {
		args = append(args, "-v", host+":"+container)
	}

	args = append(args, s.config.Image, "sleep", "infinity")
	return args
}

// docker runs a docker CLI command and returns captured stdout/stderr.
// os/exec waits on a worker thread, so the caller's goroutine scheduler is
// never blocked while the engine call is in flight.
func (s *DockerSandbox) docker(ctx context.Context, stdin io.Reader, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// forceRemove is the rollback path for a failed Start. Errors are logged,
// not returned — the caller already has a better error to report.
func (s *DockerSandbox) forceRemove() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, stderr, err := s.docker(ctx, nil, "rm", "-f", s.name); err != nil {
		if !strings.Contains(stderr, "No such container") {
			s.logger.Warn("rollback docker rm -f failed",
				slog.String("name", s.name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// isDockerNotFound recognizes the docker cp error messages for a missing
// source path inside the container.
func isDockerNotFound(stderr string) bool {
	msg := strings.ToLower(stderr)
	return strings.Contains(msg, "could not find the file") ||
		strings.Contains(msg, "no such file or directory") ||
		strings.Contains(msg, "not found")
}

// buildSingleFileArchive creates an in-memory tar archive holding one file.
func buildSingleFileArchive(name, content string) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: name,
		Mode: 0644,
		Size: int64(len(content)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, err
	}
	if _, err := io.WriteString(tw, content); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// extractSingleFile reads the first regular file from a tar stream.
func extractSingleFile(r io.Reader) (string, error) {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return "", fmt.Errorf("archive contains no regular file")
		}
		if err != nil {
			return "", err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// truncateForLog keeps log lines readable for long commands.
func truncateForLog(command string) string {
	if len(command) > 100 {
		return command[:100] + "..."
	}
	return command
}
