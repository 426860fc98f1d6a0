package main

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/jkaninda/sanduku/internal/config"
	"github.com/jkaninda/sanduku/internal/observability"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	tmp := t.TempDir()
	return &config.Config{
		Workspace: filepath.Join(tmp, "ws"),
		DataDir:   filepath.Join(tmp, "data"),
		Sandbox:   config.SandboxConfig{Type: "docker"},
	}
}

func TestInitShared_NoObservabilityBareSandbox(t *testing.T) {
	sc, err := initShared(testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("initShared: %v", err)
	}
	defer sc.Cleanup()

	if _, ok := sc.Sandbox.(*observability.InstrumentedSandbox); ok {
		t.Error("sandbox instrumented with observability disabled")
	}
	if _, ok := sc.Tools.Get("shell").(*observability.InstrumentedTool); ok {
		t.Error("tools instrumented with observability disabled")
	}
}

func TestInitShared_TracingOnlyInstruments(t *testing.T) {
	// Tracing without metrics is a valid configuration; spans must still be
	// produced, which requires the instrumented wrappers to be installed.
	cfg := testConfig(t)
	cfg.Observability = &config.ObservabilityConfig{
		Tracing: &config.TracingConfig{
			Enabled:  true,
			Endpoint: "localhost:4317",
			Insecure: true,
		},
	}

	sc, err := initShared(cfg, testLogger())
	if err != nil {
		t.Fatalf("initShared: %v", err)
	}
	defer sc.Cleanup()

	if sc.Obs == nil || sc.Obs.Tracer == nil {
		t.Fatal("tracer not set up")
	}
	if sc.Obs.Metrics != nil {
		t.Fatal("metrics unexpectedly enabled")
	}
	if _, ok := sc.Sandbox.(*observability.InstrumentedSandbox); !ok {
		t.Errorf("sandbox = %T, want instrumented with tracing enabled", sc.Sandbox)
	}
	for _, name := range []string{"shell", "python", "file_read", "file_write", "browse"} {
		if _, ok := sc.Tools.Get(name).(*observability.InstrumentedTool); !ok {
			t.Errorf("tool %s = %T, want instrumented with tracing enabled", name, sc.Tools.Get(name))
		}
	}
}

func TestInitShared_MetricsOnlyInstruments(t *testing.T) {
	cfg := testConfig(t)
	cfg.Observability = &config.ObservabilityConfig{
		Metrics: &config.MetricsConfig{Enabled: true, Addr: "127.0.0.1:0"},
	}

	sc, err := initShared(cfg, testLogger())
	if err != nil {
		t.Fatalf("initShared: %v", err)
	}
	defer sc.Cleanup()

	if _, ok := sc.Sandbox.(*observability.InstrumentedSandbox); !ok {
		t.Errorf("sandbox = %T, want instrumented with metrics enabled", sc.Sandbox)
	}
}

func TestSharedComponents_CleanupRunsOnce(t *testing.T) {
	// Commands call Cleanup explicitly before os.Exit on failure paths, and
	// a deferred Cleanup still runs afterwards; each function must fire once.
	sc := &SharedComponents{}
	var calls []string
	sc.addCleanup(func() { calls = append(calls, "first") })
	sc.addCleanup(func() { calls = append(calls, "second") })

	sc.Cleanup()
	sc.Cleanup()

	if len(calls) != 2 {
		t.Fatalf("cleanups ran %d times, want 2", len(calls))
	}
	if calls[0] != "second" || calls[1] != "first" {
		t.Errorf("cleanup order = %v, want reverse registration order", calls)
	}
}
