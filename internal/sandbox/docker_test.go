package sandbox

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"testing"
	"time"
)

// testImage is the Docker image used for integration tests. It must carry
// python3 and the coreutils timeout utility.
const testImage = "python:3.12-slim"

// skipIfNoDocker skips the test if Docker is unavailable.
func skipIfNoDocker(t *testing.T) {
	t.Helper()
	if err := exec.Command("docker", "info").Run(); err != nil {
		t.Skip("docker not available, skipping integration test")
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// newStartedDockerSandbox starts a sandbox and registers cleanup.
func newStartedDockerSandbox(t *testing.T) *DockerSandbox {
	t.Helper()
	skipIfNoDocker(t)

	sbx := NewDockerSandbox(DockerConfig{
		Image:    testImage,
		MemoryMB: 256,
		CPUCores: 1.0,
	}, testLogger())

	ctx := context.Background()
	if err := sbx.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() {
		if err := sbx.Cleanup(context.Background()); err != nil {
			t.Errorf("Cleanup() failed: %v", err)
		}
	})
	return sbx
}

func TestDockerSandbox_BasicExecution(t *testing.T) {
	sbx := newStartedDockerSandbox(t)
	ctx := context.Background()

	result, err := sbx.RunCommand(ctx, "echo hello", RunOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success() {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
	if got := strings.TrimSpace(result.Stdout); got != "hello" {
		t.Errorf("stdout = %q, want %q", got, "hello")
	}
}

func TestDockerSandbox_NonZeroExit(t *testing.T) {
	sbx := newStartedDockerSandbox(t)
	ctx := context.Background()

	result, err := sbx.RunCommand(ctx, "exit 42", RunOptions{})
	if err != nil {
		t.Fatalf("non-zero exit must be a result, not an error: %v", err)
	}
	if result.ExitCode != 42 {
		t.Errorf("exit code = %d, want 42", result.ExitCode)
	}
	if result.Success() {
		t.Error("exit 42 should not be a success")
	}
}

func TestDockerSandbox_StderrSeparated(t *testing.T) {
	sbx := newStartedDockerSandbox(t)
	ctx := context.Background()

	result, err := sbx.RunCommand(ctx, "echo out; echo err >&2", RunOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(result.Stdout); got != "out" {
		t.Errorf("stdout = %q, want %q", got, "out")
	}
	if got := strings.TrimSpace(result.Stderr); got != "err" {
		t.Errorf("stderr = %q, want %q", got, "err")
	}
}

func TestDockerSandbox_Timeout(t *testing.T) {
	sbx := newStartedDockerSandbox(t)
	ctx := context.Background()

	start := time.Now()
	result, err := sbx.RunCommand(ctx, "echo before; sleep 60; echo after", RunOptions{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("timeout must be a result, not an error: %v", err)
	}
	if !result.TimedOut() {
		t.Errorf("exit code = %d, want %d", result.ExitCode, TimeoutExitCode)
	}
	if !strings.Contains(result.Stderr, "Command timed out after 2 seconds") {
		t.Errorf("stderr = %q, want timeout message", result.Stderr)
	}
	if !strings.Contains(result.Stdout, "before") {
		t.Errorf("stdout = %q, want partial output before the deadline", result.Stdout)
	}
	if strings.Contains(result.Stdout, "after") {
		t.Error("command continued past the timeout")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("timed-out command took %v, the in-container timeout should have fired at ~2s", elapsed)
	}

	// The process must actually be dead, not orphaned inside the container.
	check, err := sbx.RunCommand(ctx, "ps -ef | grep 'sleep 60' | grep -v grep | wc -l", RunOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(check.Stdout); got != "0" {
		t.Errorf("found %s orphaned sleep processes, want 0", got)
	}
}

func TestDockerSandbox_StatePersistsAcrossCommands(t *testing.T) {
	sbx := newStartedDockerSandbox(t)
	ctx := context.Background()

	if _, err := sbx.RunCommand(ctx, "echo data > /workspace/state.txt", RunOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := sbx.RunCommand(ctx, "cat /workspace/state.txt", RunOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(result.Stdout); got != "data" {
		t.Errorf("stdout = %q, want state written by the previous command", got)
	}
}

func TestDockerSandbox_WorkspaceLayout(t *testing.T) {
	sbx := newStartedDockerSandbox(t)
	ctx := context.Background()

	for _, dir := range []string{WorkspaceInput, WorkspaceOutput, WorkspaceTemp, WorkspaceDownloads} {
		result, err := sbx.RunCommand(ctx, "test -d "+dir, RunOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.Success() {
			t.Errorf("directory %s missing after Start", dir)
		}
	}
}

func TestDockerSandbox_FileRoundTrip(t *testing.T) {
	sbx := newStartedDockerSandbox(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		path    string
		content string
	}{
		{"simple", "/workspace/hello.txt", "hello sandbox\n"},
		{"nested dirs", "/workspace/output/deep/nested/result.json", `{"ok":true}`},
		{"empty file", "/workspace/empty.txt", ""},
		{"non-ascii", "/workspace/unicode.txt", "habari éè 世界\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := sbx.WriteFile(ctx, tt.path, tt.content); err != nil {
				t.Fatalf("WriteFile() failed: %v", err)
			}
			got, err := sbx.ReadFile(ctx, tt.path)
			if err != nil {
				t.Fatalf("ReadFile() failed: %v", err)
			}
			if got != tt.content {
				t.Errorf("ReadFile() = %q, want %q", got, tt.content)
			}
		})
	}
}

func TestDockerSandbox_ReadMissingFile(t *testing.T) {
	sbx := newStartedDockerSandbox(t)
	ctx := context.Background()

	_, err := sbx.ReadFile(ctx, "/workspace/does-not-exist.txt")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestDockerSandbox_NotStarted(t *testing.T) {
	sbx := NewDockerSandbox(DockerConfig{}, testLogger())
	ctx := context.Background()

	if _, err := sbx.RunCommand(ctx, "echo hi", RunOptions{}); !errors.Is(err, ErrNotStarted) {
		t.Errorf("RunCommand error = %v, want ErrNotStarted", err)
	}
	if _, err := sbx.ReadFile(ctx, "/workspace/x"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("ReadFile error = %v, want ErrNotStarted", err)
	}
	if err := sbx.WriteFile(ctx, "/workspace/x", "y"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("WriteFile error = %v, want ErrNotStarted", err)
	}
}

func TestDockerSandbox_DoubleStart(t *testing.T) {
	sbx := newStartedDockerSandbox(t)

	if err := sbx.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start error = %v, want ErrAlreadyStarted", err)
	}
}

func TestDockerSandbox_DoubleCleanup(t *testing.T) {
	skipIfNoDocker(t)
	ctx := context.Background()

	sbx := NewDockerSandbox(DockerConfig{Image: testImage, MemoryMB: 256}, testLogger())
	if err := sbx.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := sbx.Cleanup(ctx); err != nil {
		t.Fatalf("first Cleanup() failed: %v", err)
	}
	if err := sbx.Cleanup(ctx); err != nil {
		t.Errorf("second Cleanup() = %v, want nil (no-op)", err)
	}
}

func TestDockerSandbox_CleanupBeforeStart(t *testing.T) {
	sbx := NewDockerSandbox(DockerConfig{}, testLogger())
	if err := sbx.Cleanup(context.Background()); err != nil {
		t.Errorf("Cleanup() before Start = %v, want nil", err)
	}
}

func TestDockerSandbox_EnvPropagation(t *testing.T) {
	skipIfNoDocker(t)
	ctx := context.Background()

	sbx := NewDockerSandbox(DockerConfig{
		Image:    testImage,
		MemoryMB: 256,
		Env:      map[string]string{"SANDBOX_VAR": "from_config"},
	}, testLogger())
	if err := sbx.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = sbx.Cleanup(context.Background()) })

	result, err := sbx.RunCommand(ctx, "echo $SANDBOX_VAR:$RUN_VAR", RunOptions{
		Env: map[string]string{"RUN_VAR": "from_options"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(result.Stdout); got != "from_config:from_options" {
		t.Errorf("stdout = %q, want %q", got, "from_config:from_options")
	}
}

func TestDockerSandbox_MemoryLimit(t *testing.T) {
	sbx := newStartedDockerSandbox(t)
	ctx := context.Background()

	// Allocate past the 256MB limit. Swap is disabled, so this is an OOM
	// kill (137), never a hang.
	result, err := sbx.RunCommand(ctx, "python3 -c 'x = bytearray(512 * 1024 * 1024)'", RunOptions{})
	if err != nil {
		t.Logf("got error (acceptable for OOM): %v", err)
		return
	}
	if result.ExitCode != 137 && result.ExitCode != 1 {
		t.Errorf("exit code = %d, want OOM kill (137) or MemoryError (1)", result.ExitCode)
	}
}

func TestWith_CleansUpAfterError(t *testing.T) {
	skipIfNoDocker(t)
	ctx := context.Background()

	sbx := NewDockerSandbox(DockerConfig{Image: testImage, MemoryMB: 256}, testLogger())
	wantErr := errors.New("work failed")

	err := With(ctx, sbx, func(sb Sandbox) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("With() error = %v, want the fn error", err)
	}

	// The container must be gone despite the error.
	if _, err := sbx.RunCommand(ctx, "echo hi", RunOptions{}); !errors.Is(err, ErrNotStarted) {
		t.Errorf("sandbox still usable after With, error = %v, want ErrNotStarted", err)
	}
}

// --- Unit tests (no Docker required) ---

func TestDockerSandbox_CreateArgs(t *testing.T) {
	sbx := NewDockerSandbox(DockerConfig{
		Image:          "python:3.12-slim",
		MemoryMB:       512,
		CPUCores:       0.5,
		NetworkEnabled: false,
		Volumes:        map[string]string{"/host/data": "/workspace/input"},
	}, testLogger())

	args := sbx.createArgs()

	for _, want := range []string{
		"create",
		"--memory=512m",
		"--memory-swap=512m",
		"--cpus=0.50",
		"--network=none",
		"python:3.12-slim",
	} {
		if !slices.Contains(args, want) {
			t.Errorf("createArgs() missing %q: %v", want, args)
		}
	}
	if !slices.Contains(args, "-v") || !slices.Contains(args, "/host/data:/workspace/input") {
		t.Errorf("createArgs() missing volume mount: %v", args)
	}
	// The idle command comes last.
	if n := len(args); args[n-2] != "sleep" || args[n-1] != "infinity" {
		t.Errorf("createArgs() should end with the idle command: %v", args)
	}
}

func TestDockerSandbox_CreateArgsNetwork(t *testing.T) {
	sbx := NewDockerSandbox(DockerConfig{NetworkEnabled: true}, testLogger())
	if args := sbx.createArgs(); !slices.Contains(args, "--network=bridge") {
		t.Errorf("createArgs() with network = %v, want --network=bridge", args)
	}
}

func TestIsDockerNotFound(t *testing.T) {
	tests := []struct {
		stderr string
		want   bool
	}{
		{"Error response from daemon: Could not find the file /workspace/x in container abc", true},
		{"lstat /workspace/x: no such file or directory", true},
		{"permission denied", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isDockerNotFound(tt.stderr); got != tt.want {
			t.Errorf("isDockerNotFound(%q) = %v, want %v", tt.stderr, got, tt.want)
		}
	}
}

func TestTarArchiveRoundTrip(t *testing.T) {
	archive, err := buildSingleFileArchive("result.txt", "payload \x00\xff binary-safe")
	if err != nil {
		t.Fatalf("buildSingleFileArchive() failed: %v", err)
	}
	got, err := extractSingleFile(bytes.NewReader(archive))
	if err != nil {
		t.Fatalf("extractSingleFile() failed: %v", err)
	}
	if got != "payload \x00\xff binary-safe" {
		t.Errorf("round trip = %q, content not byte-exact", got)
	}
}

func TestExtractSingleFile_EmptyArchive(t *testing.T) {
	if _, err := extractSingleFile(bytes.NewReader(nil)); err == nil {
		t.Error("expected error for archive with no regular file")
	}
}

func TestTruncateForLog(t *testing.T) {
	if got := truncateForLog("short"); got != "short" {
		t.Errorf("truncateForLog(short) = %q", got)
	}
	long := strings.Repeat("x", 200)
	if got := truncateForLog(long); len(got) != 103 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncateForLog(long) = %q, want 100 chars plus ellipsis", got)
	}
}
