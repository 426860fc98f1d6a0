package observability

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/sanduku/internal/sandbox"
	"github.com/jkaninda/sanduku/internal/tools"
)

// --- InstrumentedSandbox ---

// InstrumentedSandbox wraps a sandbox.Sandbox with metrics and tracing.
type InstrumentedSandbox struct {
	inner       sandbox.Sandbox
	sandboxType string // "docker" or "daytona"
	metrics     *MetricsCollector
	tracer      trace.Tracer
}

// NewInstrumentedSandbox wraps a sandbox with observability. Either metrics
// or tracing may be nil.
func NewInstrumentedSandbox(inner sandbox.Sandbox, sandboxType string, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedSandbox {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedSandbox{
		inner:       inner,
		sandboxType: sandboxType,
		metrics:     metrics,
		tracer:      tracer,
	}
}

func (s *InstrumentedSandbox) Start(ctx context.Context) error {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "sandbox.start",
			trace.WithAttributes(attribute.String("sandbox.type", s.sandboxType)))
		defer span.End()
	}

	err := s.inner.Start(ctx)

	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.SandboxStartsTotal.WithLabelValues(s.sandboxType, status).Inc()
		if err == nil {
			s.metrics.ActiveSandboxes.Inc()
		}
	}
	if err != nil {
		s.recordSpanError(ctx, err)
	}
	return err
}

func (s *InstrumentedSandbox) Cleanup(ctx context.Context) error {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "sandbox.cleanup",
			trace.WithAttributes(attribute.String("sandbox.type", s.sandboxType)))
		defer span.End()
	}

	err := s.inner.Cleanup(ctx)
	if s.metrics != nil && err == nil {
		s.metrics.ActiveSandboxes.Dec()
	}
	if err != nil {
		s.recordSpanError(ctx, err)
	}
	return err
}

func (s *InstrumentedSandbox) RunCommand(ctx context.Context, command string, opts sandbox.RunOptions) (*sandbox.CommandResult, error) {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "sandbox.run_command",
			trace.WithAttributes(
				attribute.String("sandbox.type", s.sandboxType),
			))
		defer span.End()
	}

	start := time.Now()
	result, err := s.inner.RunCommand(ctx, command, opts)
	duration := time.Since(start).Seconds()

	status := "success"
	switch {
	case err != nil:
		status = "error"
		s.recordSpanError(ctx, err)
	case result.TimedOut():
		status = "timeout"
	case !result.Success():
		status = "failed"
	}

	if s.tracer != nil && result != nil {
		span := trace.SpanFromContext(ctx)
		span.SetAttributes(attribute.String("sandbox.exit_code", strconv.Itoa(result.ExitCode)))
	}
	if s.metrics != nil {
		s.metrics.SandboxExecutionsTotal.WithLabelValues(s.sandboxType, status).Inc()
		s.metrics.SandboxExecutionDuration.WithLabelValues(s.sandboxType).Observe(duration)
	}

	return result, err
}

func (s *InstrumentedSandbox) ReadFile(ctx context.Context, path string) (string, error) {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "sandbox.read_file",
			trace.WithAttributes(attribute.String("sandbox.type", s.sandboxType)))
		defer span.End()
	}

	content, err := s.inner.ReadFile(ctx, path)
	s.recordTransfer(ctx, "out", err)
	return content, err
}

func (s *InstrumentedSandbox) WriteFile(ctx context.Context, path, content string) error {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "sandbox.write_file",
			trace.WithAttributes(attribute.String("sandbox.type", s.sandboxType)))
		defer span.End()
	}

	err := s.inner.WriteFile(ctx, path, content)
	s.recordTransfer(ctx, "in", err)
	return err
}

func (s *InstrumentedSandbox) recordTransfer(ctx context.Context, direction string, err error) {
	status := "success"
	if err != nil {
		status = "error"
		s.recordSpanError(ctx, err)
	}
	if s.metrics != nil {
		s.metrics.SandboxFileTransfers.WithLabelValues(s.sandboxType, direction, status).Inc()
	}
}

func (s *InstrumentedSandbox) recordSpanError(ctx context.Context, err error) {
	if s.tracer == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// compile-time interface check
var _ sandbox.Sandbox = (*InstrumentedSandbox)(nil)

// --- InstrumentedTool ---

// InstrumentedTool wraps a tools.Tool with metrics and tracing.
type InstrumentedTool struct {
	inner   tools.Tool
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedTool wraps a tool with observability.
func NewInstrumentedTool(inner tools.Tool, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedTool {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedTool{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (t *InstrumentedTool) Name() string                    { return t.inner.Name() }
func (t *InstrumentedTool) Description() string             { return t.inner.Description() }
func (t *InstrumentedTool) InputSchema() map[string]any     { return t.inner.InputSchema() }
func (t *InstrumentedTool) Validate(p map[string]any) error { return t.inner.Validate(p) }

func (t *InstrumentedTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	name := t.inner.Name()

	if t.tracer != nil {
		var span trace.Span
		ctx, span = t.tracer.Start(ctx, "tool.execute",
			trace.WithAttributes(attribute.String("tool.name", name)))
		defer span.End()
	}

	start := time.Now()
	result, err := t.inner.Execute(ctx, params)
	duration := time.Since(start).Seconds()

	status := "success"
	switch {
	case err != nil:
		status = "error"
		if t.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	case result != nil && result.Status != tools.StatusSuccess:
		status = "failed"
	}

	if t.metrics != nil {
		t.metrics.ToolExecutionsTotal.WithLabelValues(name, status).Inc()
		t.metrics.ToolExecutionDuration.WithLabelValues(name).Observe(duration)
	}

	return result, err
}

// compile-time interface check
var _ tools.Tool = (*InstrumentedTool)(nil)
