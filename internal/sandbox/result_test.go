package sandbox

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestCommandResult_Success(t *testing.T) {
	tests := []struct {
		name     string
		exitCode int
		want     bool
	}{
		{"zero exit", 0, true},
		{"non-zero exit", 1, false},
		{"exit 42", 42, false},
		{"timeout exit", TimeoutExitCode, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &CommandResult{ExitCode: tt.exitCode}
			if got := r.Success(); got != tt.want {
				t.Errorf("Success() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCommandResult_TimedOut(t *testing.T) {
	if (&CommandResult{ExitCode: TimeoutExitCode}).TimedOut() != true {
		t.Error("timeout result should report TimedOut")
	}
	if (&CommandResult{ExitCode: 124}).TimedOut() {
		t.Error("exit 124 is a real process status, not the distinguished timeout result")
	}
}

func TestTimeoutResult(t *testing.T) {
	r := timeoutResult(30*time.Second, "partial output", "")
	if !r.TimedOut() {
		t.Errorf("exit code = %d, want %d", r.ExitCode, TimeoutExitCode)
	}
	if r.Stdout != "partial output" {
		t.Errorf("stdout = %q, want partial output preserved", r.Stdout)
	}
	if want := "Command timed out after 30 seconds"; r.Stderr != want {
		t.Errorf("stderr = %q, want %q", r.Stderr, want)
	}
}

func TestTimeoutResult_PreservesStderr(t *testing.T) {
	r := timeoutResult(5*time.Second, "", "warning: something")
	if !strings.HasPrefix(r.Stderr, "Command timed out after 5 seconds") {
		t.Errorf("stderr = %q, want timeout message first", r.Stderr)
	}
	if !strings.Contains(r.Stderr, "warning: something") {
		t.Errorf("stderr = %q, want captured stderr appended", r.Stderr)
	}
}

func TestLimitedWriter(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, remaining: 10}

	n, err := lw.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("Write() = (%d, %v), want (5, nil)", n, err)
	}

	// Crosses the limit: only the first 5 bytes land, but the write
	// reports full success so the producing command is not broken.
	n, err = lw.Write([]byte("world and more"))
	if err != nil || n != 14 {
		t.Fatalf("Write() = (%d, %v), want (14, nil)", n, err)
	}
	if got := buf.String(); got != "helloworld" {
		t.Errorf("captured = %q, want %q", got, "helloworld")
	}

	// Past the limit: everything is discarded.
	if n, err := lw.Write([]byte("discarded")); err != nil || n != 9 {
		t.Errorf("Write() past limit = (%d, %v), want (9, nil)", n, err)
	}
	if buf.Len() != 10 {
		t.Errorf("captured %d bytes, want 10", buf.Len())
	}
}
