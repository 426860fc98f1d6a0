package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector holds all Prometheus metrics for sanduku.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Sandbox metrics.
	SandboxExecutionsTotal   *prometheus.CounterVec
	SandboxExecutionDuration *prometheus.HistogramVec
	SandboxFileTransfers     *prometheus.CounterVec

	// Tool execution metrics.
	ToolExecutionsTotal   *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec

	// Provisioning metrics.
	SandboxStartsTotal *prometheus.CounterVec
	ActiveSandboxes    prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		SandboxExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sanduku",
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Total commands executed in sandboxes.",
		}, []string{"type", "status"}),

		SandboxExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sanduku",
			Subsystem: "sandbox",
			Name:      "execution_duration_seconds",
			Help:      "Sandbox command duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"type"}),

		SandboxFileTransfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sanduku",
			Subsystem: "sandbox",
			Name:      "file_transfers_total",
			Help:      "Total file transfers in and out of sandboxes.",
		}, []string{"type", "direction", "status"}),

		ToolExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sanduku",
			Subsystem: "tool",
			Name:      "executions_total",
			Help:      "Total tool executions.",
		}, []string{"tool", "status"}),

		ToolExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sanduku",
			Subsystem: "tool",
			Name:      "execution_duration_seconds",
			Help:      "Tool execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),

		SandboxStartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sanduku",
			Subsystem: "sandbox",
			Name:      "starts_total",
			Help:      "Total sandbox provisioning attempts.",
		}, []string{"type", "status"}),

		ActiveSandboxes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sanduku",
			Name:      "active_sandboxes",
			Help:      "Number of currently provisioned sandboxes.",
		}),
	}

	reg.MustRegister(
		m.SandboxExecutionsTotal,
		m.SandboxExecutionDuration,
		m.SandboxFileTransfers,
		m.ToolExecutionsTotal,
		m.ToolExecutionDuration,
		m.SandboxStartsTotal,
		m.ActiveSandboxes,
	)

	return m
}

// MetricsServer exposes the registry over HTTP.
type MetricsServer struct {
	server *http.Server
	logger *slog.Logger
}

// NewMetricsServer creates (but does not start) the metrics listener.
func NewMetricsServer(m *MetricsCollector, addr, path string, logger *slog.Logger) *MetricsServer {
	if addr == "" {
		addr = ":9090"
	}
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	return &MetricsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves metrics in a background goroutine until Shutdown.
func (s *MetricsServer) Start() {
	s.logger.Info("metrics server listening", slog.String("addr", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
}

// Shutdown stops the metrics listener.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
