package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/sanduku/internal/config"
	"github.com/jkaninda/sanduku/internal/sandbox"
	"github.com/jkaninda/sanduku/internal/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- No-op path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, testLogger())
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, testLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability")
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
}

func TestObservability_NilSafe(t *testing.T) {
	// None of these may panic on a nil receiver.
	var obs *Observability
	obs.Start()
	obs.Shutdown(context.Background())
	if obs.MetricsOrNil() != nil || obs.TracerOrNil() != nil {
		t.Error("nil Observability must yield nil components")
	}
}

// --- Instrumented sandbox ---

type fakeSandbox struct {
	runResult *sandbox.CommandResult
	runErr    error
	readErr   error
}

func (f *fakeSandbox) Start(context.Context) error   { return nil }
func (f *fakeSandbox) Cleanup(context.Context) error { return nil }
func (f *fakeSandbox) RunCommand(context.Context, string, sandbox.RunOptions) (*sandbox.CommandResult, error) {
	return f.runResult, f.runErr
}
func (f *fakeSandbox) ReadFile(context.Context, string) (string, error) { return "", f.readErr }
func (f *fakeSandbox) WriteFile(context.Context, string, string) error  { return nil }

// counterValue reads a counter with the given label values from the registry.
func counterValue(t *testing.T, m *MetricsCollector, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		var metrics []*dto.Metric = fam.GetMetric()
	metric:
		for _, metric := range metrics {
			got := map[string]string{}
			for _, lp := range metric.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue metric
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestInstrumentedSandbox_RecordsExecutions(t *testing.T) {
	m := NewMetricsCollector()

	inner := &fakeSandbox{runResult: &sandbox.CommandResult{ExitCode: 0}}
	sbx := NewInstrumentedSandbox(inner, "docker", m, nil)
	ctx := context.Background()

	if _, err := sbx.RunCommand(ctx, "echo hi", sandbox.RunOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	inner.runResult = &sandbox.CommandResult{ExitCode: 3}
	if _, err := sbx.RunCommand(ctx, "false", sandbox.RunOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	inner.runResult = &sandbox.CommandResult{ExitCode: sandbox.TimeoutExitCode}
	if _, err := sbx.RunCommand(ctx, "sleep 99", sandbox.RunOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	name := "sanduku_sandbox_executions_total"
	if got := counterValue(t, m, name, map[string]string{"type": "docker", "status": "success"}); got != 1 {
		t.Errorf("success count = %v, want 1", got)
	}
	if got := counterValue(t, m, name, map[string]string{"type": "docker", "status": "failed"}); got != 1 {
		t.Errorf("failed count = %v, want 1", got)
	}
	if got := counterValue(t, m, name, map[string]string{"type": "docker", "status": "timeout"}); got != 1 {
		t.Errorf("timeout count = %v, want 1", got)
	}
}

func TestInstrumentedSandbox_RecordsLifecycle(t *testing.T) {
	m := NewMetricsCollector()
	sbx := NewInstrumentedSandbox(&fakeSandbox{}, "daytona", m, nil)
	ctx := context.Background()

	if err := sbx.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if got := counterValue(t, m, "sanduku_sandbox_starts_total", map[string]string{"type": "daytona", "status": "success"}); got != 1 {
		t.Errorf("starts count = %v, want 1", got)
	}
	if err := sbx.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup() failed: %v", err)
	}
}

func TestInstrumentedSandbox_RecordsTransferErrors(t *testing.T) {
	m := NewMetricsCollector()
	inner := &fakeSandbox{readErr: errors.New("transfer failed")}
	sbx := NewInstrumentedSandbox(inner, "docker", m, nil)

	if _, err := sbx.ReadFile(context.Background(), "/workspace/x"); err == nil {
		t.Fatal("expected read error to pass through")
	}
	got := counterValue(t, m, "sanduku_sandbox_file_transfers_total",
		map[string]string{"type": "docker", "direction": "out", "status": "error"})
	if got != 1 {
		t.Errorf("transfer error count = %v, want 1", got)
	}
}

func TestInstrumentedSandbox_NilMetrics(t *testing.T) {
	// No metrics, no tracer — the wrapper must be transparent.
	inner := &fakeSandbox{runResult: &sandbox.CommandResult{ExitCode: 0, Stdout: "ok"}}
	sbx := NewInstrumentedSandbox(inner, "docker", nil, nil)

	result, err := sbx.RunCommand(context.Background(), "echo ok", sandbox.RunOptions{})
	if err != nil || result.Stdout != "ok" {
		t.Errorf("result = (%+v, %v)", result, err)
	}
}

// --- Instrumented tool ---

type fakeTool struct {
	result *tools.Result
	err    error
}

func (f *fakeTool) Name() string                  { return "shell" }
func (f *fakeTool) Description() string           { return "fake" }
func (f *fakeTool) InputSchema() map[string]any   { return map[string]any{"type": "object"} }
func (f *fakeTool) Validate(map[string]any) error { return nil }
func (f *fakeTool) Execute(context.Context, map[string]any) (*tools.Result, error) {
	return f.result, f.err
}

func TestInstrumentedTool_RecordsExecutions(t *testing.T) {
	m := NewMetricsCollector()
	inner := &fakeTool{result: &tools.Result{Status: tools.StatusSuccess}}
	tool := NewInstrumentedTool(inner, m, nil)
	ctx := context.Background()

	if _, err := tool.Execute(ctx, map[string]any{"command": "ls"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	inner.result = &tools.Result{Status: tools.StatusError}
	if _, err := tool.Execute(ctx, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	name := "sanduku_tool_executions_total"
	if got := counterValue(t, m, name, map[string]string{"tool": "shell", "status": "success"}); got != 1 {
		t.Errorf("success count = %v, want 1", got)
	}
	if got := counterValue(t, m, name, map[string]string{"tool": "shell", "status": "failed"}); got != 1 {
		t.Errorf("failed count = %v, want 1", got)
	}
}

func TestInstrumentedTool_PassThrough(t *testing.T) {
	inner := &fakeTool{result: &tools.Result{Status: tools.StatusSuccess, Stdout: "hi"}}
	tool := NewInstrumentedTool(inner, nil, nil)

	if tool.Name() != "shell" {
		t.Errorf("Name() = %q", tool.Name())
	}
	result, err := tool.Execute(context.Background(), nil)
	if err != nil || result.Stdout != "hi" {
		t.Errorf("result = (%+v, %v)", result, err)
	}
}
