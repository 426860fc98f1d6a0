package sandbox

import (
	"fmt"
	"log/slog"
	"os"
)

// Backend identifies a sandbox implementation. The set is closed: adding a
// backend means adding a case to New.
type Backend string

const (
	BackendDocker  Backend = "docker"
	BackendDaytona Backend = "daytona"
)

// defaultPassEnvVars are host variables forwarded into every sandbox unless
// the configuration overrides the list. Unset variables are skipped.
var defaultPassEnvVars = []string{"TAVILY_API_KEY"}

// Config selects and configures a sandbox backend.
type Config struct {
	Type    Backend
	Docker  DockerConfig
	Daytona DaytonaConfig

	// Environment is set inside the sandbox verbatim and wins over
	// any passed-through host variable of the same name.
	Environment map[string]string

	// PassEnvVars names host environment variables to forward into the
	// sandbox. Nil means the default allow-list; an empty non-nil slice
	// disables pass-through entirely.
	PassEnvVars []string
}

// New builds the sandbox selected by cfg.Type. The returned sandbox is not
// started. Configuration errors are reported here, before any resource is
// provisioned.
func New(cfg Config, logger *slog.Logger) (Sandbox, error) {
	if logger == nil {
		logger = slog.Default()
	}
	env := resolveEnvironment(cfg)

	switch cfg.Type {
	case BackendDocker:
		dc := cfg.Docker
		// Resolved entries overlay any env set directly on the backend
		// config, so neither source is silently dropped.
		dc.Env = mergeEnv(dc.Env, env)
		return NewDockerSandbox(dc, logger), nil
	case BackendDaytona:
		if cfg.Daytona.APIKey == "" {
			return nil, fmt.Errorf("daytona sandbox: api key is required (set DAYTONA_API_KEY)")
		}
		dc := cfg.Daytona
		dc.Env = mergeEnv(dc.Env, env)
		return NewDaytonaSandbox(dc, logger), nil
	default:
		return nil, fmt.Errorf("unknown sandbox type %q (supported: %s, %s)", cfg.Type, BackendDocker, BackendDaytona)
	}
}

// resolveEnvironment merges passed-through host variables with the explicit
// environment. Explicit entries win.
func resolveEnvironment(cfg Config) map[string]string {
	passVars := cfg.PassEnvVars
	if passVars == nil {
		passVars = defaultPassEnvVars
	}

	env := make(map[string]string, len(passVars)+len(cfg.Environment))
	for _, name := range passVars {
		if value, ok := os.LookupEnv(name); ok {
			env[name] = value
		}
	}
	for name, value := range cfg.Environment {
		env[name] = value
	}
	if len(env) == 0 {
		return nil
	}
	return env
}
