// Package config handles loading and validating sanduku configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jkaninda/sanduku/internal/sandbox"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for sanduku.
type Config struct {
	Workspace     string               `json:"workspace,omitempty" yaml:"workspace,omitempty"` // Host workspace root. Default: ~/.sanduku. Override: SANDUKU_WORKSPACE env var.
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`   // Persistent data directory. Default: ~/.sanduku/data. Override: SANDUKU_DATA_DIR env var.
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Tools         ToolsConfig          `json:"tools" yaml:"tools"`
	History       *HistoryConfig       `json:"history,omitempty" yaml:"history,omitempty"`             // nil = SQLite default (derived from data dir)
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// SandboxConfig selects and configures the execution backend.
type SandboxConfig struct {
	Type        string               `json:"type" yaml:"type"` // "docker" or "daytona"
	Environment map[string]string    `json:"environment,omitempty" yaml:"environment,omitempty"`
	PassEnvVars *[]string            `json:"pass_env_vars,omitempty" yaml:"pass_env_vars,omitempty"` // nil = default allow-list, empty = disabled
	Docker      DockerSandboxConfig  `json:"docker" yaml:"docker"`
	Daytona     DaytonaSandboxConfig `json:"daytona" yaml:"daytona"`
}

// DockerSandboxConfig holds Docker-specific sandbox settings.
type DockerSandboxConfig struct {
	Image          string            `json:"image" yaml:"image"`                     // Container image. Default: python:3.12-slim.
	MemoryLimit    string            `json:"memory_limit" yaml:"memory_limit"`       // e.g. "512m", "2g". Default: 512m.
	CPUCores       float64           `json:"cpu_cores" yaml:"cpu_cores"`             // Docker --cpus flag. 0 = 1.0 default.
	NetworkEnabled bool              `json:"network_enabled" yaml:"network_enabled"` // Default: false (no network).
	AutoRemove     bool              `json:"auto_remove" yaml:"auto_remove"`
	Volumes        map[string]string `json:"volumes,omitempty" yaml:"volumes,omitempty"` // {host_path: container_path}
}

// DaytonaSandboxConfig holds Daytona-specific sandbox settings.
type DaytonaSandboxConfig struct {
	APIKey          string `json:"api_key" yaml:"api_key"` // Override: DAYTONA_API_KEY env var.
	ServerURL       string `json:"server_url" yaml:"server_url"`
	Target          string `json:"target" yaml:"target"` // Region. Default: "us".
	Image           string `json:"image" yaml:"image"`
	CPU             int    `json:"cpu" yaml:"cpu"`
	MemoryGB        int    `json:"memory_gb" yaml:"memory_gb"`
	DiskGB          int    `json:"disk_gb" yaml:"disk_gb"`
	AutoStopMinutes int    `json:"auto_stop_minutes" yaml:"auto_stop_minutes"` // 0 = disabled.
}

// ToolsConfig configures the tool execution layer.
type ToolsConfig struct {
	MaxOutputChars        int      `json:"max_output_chars" yaml:"max_output_chars"`               // Default: 8000.
	DefaultTimeoutSeconds int      `json:"default_timeout_seconds" yaml:"default_timeout_seconds"` // Default: 120.
	AllowedPaths          []string `json:"allowed_paths,omitempty" yaml:"allowed_paths,omitempty"` // Default: ["/workspace"].
}

// HistoryConfig configures the execution history store.
// When nil, defaults to SQLite with the database path derived from the data dir.
type HistoryConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"` // "sqlite" (default) or "postgres".
	SQLite   *SQLiteHistoryConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
	Postgres *PostgresHistoryConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"`
}

// SQLiteHistoryConfig holds SQLite-specific settings.
type SQLiteHistoryConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
}

// PostgresHistoryConfig holds PostgreSQL-specific settings.
type PostgresHistoryConfig struct {
	DSN string `json:"dsn" yaml:"dsn"`
}

// HistoryDriver returns the configured driver, defaulting to "sqlite".
func (h *HistoryConfig) HistoryDriver() string {
	if h != nil && h.Driver != "" {
		return h.Driver
	}
	return "sqlite"
}

// ObservabilityConfig configures metrics and tracing.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"` // Listen address. Default: ":9090".
	Path    string `json:"path" yaml:"path"` // Default: "/metrics".
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "sanduku"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// Default returns a runnable configuration without a config file: a local
// Docker sandbox with the stock defaults.
func Default() *Config {
	cfg := &Config{
		Sandbox: SandboxConfig{Type: "docker"},
	}
	applyEnvOverrides(cfg)
	return cfg
}

// DefaultConfigPath returns the conventional config file location.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/sanduku.json" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".sanduku", "config.json")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides and derived
// defaults. Env vars take precedence over config values.
func applyEnvOverrides(cfg *Config) {
	if envKey := os.Getenv("DAYTONA_API_KEY"); envKey != "" {
		cfg.Sandbox.Daytona.APIKey = envKey
	}
	if envWS := os.Getenv("SANDUKU_WORKSPACE"); envWS != "" {
		cfg.Workspace = envWS
	}
	if envDD := os.Getenv("SANDUKU_DATA_DIR"); envDD != "" {
		cfg.DataDir = envDD
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DataDir = filepath.Join(home, ".sanduku", "data")
		}
	}
}

func (c *Config) validate() error {
	switch c.Sandbox.Type {
	case "docker":
		if c.Sandbox.Docker.MemoryLimit != "" {
			if _, err := ParseMemoryMB(c.Sandbox.Docker.MemoryLimit); err != nil {
				return fmt.Errorf("sandbox.docker.memory_limit: %w", err)
			}
		}
		if c.Sandbox.Docker.CPUCores < 0 {
			return fmt.Errorf("sandbox.docker.cpu_cores must not be negative")
		}
	case "daytona":
		// The key is checked here, before anything touches the network, so
		// a misconfigured deployment fails at load time.
		if c.Sandbox.Daytona.APIKey == "" {
			return fmt.Errorf("sandbox.daytona.api_key is required (or set DAYTONA_API_KEY)")
		}
	case "":
		return fmt.Errorf("sandbox.type is required (docker or daytona)")
	default:
		return fmt.Errorf("sandbox.type %q is not supported (use docker or daytona)", c.Sandbox.Type)
	}

	if c.Tools.MaxOutputChars < 0 {
		return fmt.Errorf("tools.max_output_chars must not be negative")
	}
	if c.Tools.DefaultTimeoutSeconds < 0 {
		return fmt.Errorf("tools.default_timeout_seconds must not be negative")
	}
	for _, p := range c.Tools.AllowedPaths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("tools.allowed_paths entry %q must be absolute", p)
		}
	}

	if c.History != nil && c.History.Driver != "" {
		switch c.History.Driver {
		case "sqlite":
			// valid
		case "postgres":
			if c.History.Postgres == nil || c.History.Postgres.DSN == "" {
				return fmt.Errorf("history.postgres.dsn is required for the postgres driver")
			}
		default:
			return fmt.Errorf("history.driver %q is not supported (use sqlite or postgres)", c.History.Driver)
		}
	}

	if c.Observability != nil && c.Observability.Tracing != nil && c.Observability.Tracing.Enabled {
		t := c.Observability.Tracing
		if t.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
		switch t.Protocol {
		case "", "grpc", "http":
			// valid
		default:
			return fmt.Errorf("observability.tracing.protocol %q is not supported (use grpc or http)", t.Protocol)
		}
		if t.SampleRate < 0 || t.SampleRate > 1 {
			return fmt.Errorf("observability.tracing.sample_rate must be between 0 and 1")
		}
	}

	return nil
}

// SandboxSpec converts the file representation into the sandbox factory's
// config. Validation has already run, so parse errors here are impossible.
func (c *Config) SandboxSpec() sandbox.Config {
	spec := sandbox.Config{
		Type:        sandbox.Backend(c.Sandbox.Type),
		Environment: c.Sandbox.Environment,
	}
	if c.Sandbox.PassEnvVars != nil {
		spec.PassEnvVars = *c.Sandbox.PassEnvVars
		if spec.PassEnvVars == nil {
			spec.PassEnvVars = []string{}
		}
	}

	d := c.Sandbox.Docker
	memoryMB := 0
	if d.MemoryLimit != "" {
		memoryMB, _ = ParseMemoryMB(d.MemoryLimit)
	}
	spec.Docker = sandbox.DockerConfig{
		Image:          d.Image,
		MemoryMB:       memoryMB,
		CPUCores:       d.CPUCores,
		NetworkEnabled: d.NetworkEnabled,
		AutoRemove:     d.AutoRemove,
		Volumes:        d.Volumes,
	}

	dt := c.Sandbox.Daytona
	spec.Daytona = sandbox.DaytonaConfig{
		APIKey:           dt.APIKey,
		ServerURL:        dt.ServerURL,
		Target:           dt.Target,
		Image:            dt.Image,
		CPU:              dt.CPU,
		MemoryGB:         dt.MemoryGB,
		DiskGB:           dt.DiskGB,
		AutoStopInterval: dt.AutoStopMinutes,
	}
	return spec
}

// ToolTimeout returns the default per-command timeout for tools.
func (c *Config) ToolTimeout() time.Duration {
	if c.Tools.DefaultTimeoutSeconds > 0 {
		return time.Duration(c.Tools.DefaultTimeoutSeconds) * time.Second
	}
	return sandbox.DefaultTimeout
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".sanduku", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the default SQLite database path under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.ResolvedDataDir(), "sanduku.db")
}

// ParseMemoryMB parses a Docker-style memory limit ("512m", "2g", or a bare
// number of megabytes) into megabytes.
func ParseMemoryMB(s string) (int, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return 0, fmt.Errorf("memory limit is empty")
	}

	multiplier := 1
	switch {
	case strings.HasSuffix(v, "g"), strings.HasSuffix(v, "gb"):
		multiplier = 1024
		v = strings.TrimSuffix(strings.TrimSuffix(v, "b"), "g")
	case strings.HasSuffix(v, "m"), strings.HasSuffix(v, "mb"):
		v = strings.TrimSuffix(strings.TrimSuffix(v, "b"), "m")
	}

	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid memory limit %q (use e.g. \"512m\" or \"2g\")", s)
	}
	return n * multiplier, nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
