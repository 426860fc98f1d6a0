package sandbox

import (
	"fmt"
	"io"
	"time"
)

// maxOutputBytes caps stdout/stderr captured per command to prevent OOM on
// the host from chatty commands. Tool-level truncation is applied on top.
const maxOutputBytes = 1 << 20 // 1 MB

// TimeoutExitCode is the reserved exit code of the distinguished timeout
// result. It cannot collide with a real process exit status (0–255).
const TimeoutExitCode = -1

// CommandResult is the outcome of one command execution inside a sandbox.
// It is created fresh per invocation, never mutated, and owned by the caller.
type CommandResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Success reports whether the command exited cleanly.
func (r *CommandResult) Success() bool { return r.ExitCode == 0 }

// TimedOut reports whether this is the distinguished timeout result.
func (r *CommandResult) TimedOut() bool { return r.ExitCode == TimeoutExitCode }

// timeoutResult builds the distinguished timeout result. Partial stdout and
// stderr captured before the deadline are preserved so the caller can see how
// far the command got.
func timeoutResult(timeout time.Duration, stdout, stderr string) *CommandResult {
	msg := fmt.Sprintf("Command timed out after %d seconds", int(timeout.Seconds()))
	if stderr != "" {
		msg = msg + "\n" + stderr
	}
	return &CommandResult{
		ExitCode: TimeoutExitCode,
		Stdout:   stdout,
		Stderr:   msg,
	}
}

// limitedWriter wraps a writer and stops writing after a byte limit.
// Excess data is silently discarded (not an error — just capped).
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		return len(p), nil // Silently discard.
	}
	if len(p) > lw.remaining {
		n, err := lw.w.Write(p[:lw.remaining])
		lw.remaining -= n
		if err != nil {
			return n, err
		}
		return len(p), nil
	}
	n, err := lw.w.Write(p)
	lw.remaining -= n
	return n, err
}
