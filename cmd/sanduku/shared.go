package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jkaninda/sanduku/internal/config"
	"github.com/jkaninda/sanduku/internal/history"
	"github.com/jkaninda/sanduku/internal/observability"
	"github.com/jkaninda/sanduku/internal/sandbox"
	"github.com/jkaninda/sanduku/internal/tools"
	"github.com/jkaninda/sanduku/internal/tools/browser"
	"github.com/jkaninda/sanduku/internal/tools/code"
	"github.com/jkaninda/sanduku/internal/tools/file"
	"github.com/jkaninda/sanduku/internal/tools/shell"
	"github.com/jkaninda/sanduku/internal/workspace"

	goutils "github.com/jkaninda/go-utils"
)

var (
	configPath string
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// SharedComponents holds all initialized subsystems the commands require.
// Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config    *config.Config
	Logger    *slog.Logger
	Workspace *workspace.Workspace
	Obs       *observability.Observability
	History   *history.Store // nil = history disabled.
	Sandbox   sandbox.Sandbox
	Executor  *tools.Executor
	Tools     *tools.Registry

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order. Safe to call
// more than once; commands invoke it explicitly before exiting with a status
// code, and the deferred call then finds nothing left to do.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
	sc.cleanups = nil
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// newLogger builds the process logger. Log output goes to stderr so that
// command output on stdout stays clean for piping.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// loadConfig resolves the config path from the flag or SANDUKU_CONFIG and
// loads it. A missing file at the default location is not an error: the
// built-in defaults apply, so sanduku works with zero configuration.
func loadConfig() (*config.Config, error) {
	path := goutils.Env("SANDUKU_CONFIG", configPath)
	if path == config.DefaultConfigPath() {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// initShared performs all common initialization shared between commands.
// Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Workspace.
	ws, err := initWorkspace(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing workspace: %w", err)
	}
	sc.Workspace = ws
	if err := ws.EnsureAll(); err != nil {
		return nil, fmt.Errorf("preparing workspace: %w", err)
	}
	logger.Debug("workspace initialized", slog.String("root", ws.Root))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	if obs != nil {
		obs.Start()
		sc.addCleanup(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		})
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
		)
	}

	// Execution history.
	store, err := initHistory(cfg, ws, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing history: %w", err)
	}
	sc.History = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing history store", slog.String("error", err.Error()))
		}
	})

	// Sandbox.
	sbx, err := sandbox.New(cfg.SandboxSpec(), logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing sandbox: %w", err)
	}
	logger.Debug("sandbox initialized", slog.String("type", cfg.Sandbox.Type))

	if instrumented(obs) {
		sbx = observability.NewInstrumentedSandbox(sbx, cfg.Sandbox.Type, obs.Metrics, obs.TracerOrNil())
	}
	sc.Sandbox = sbx

	// Tool executor and registry.
	executorOpts := []tools.ExecutorOption{
		tools.WithDefaultTimeout(cfg.ToolTimeout()),
	}
	if cfg.Tools.MaxOutputChars > 0 {
		executorOpts = append(executorOpts, tools.WithMaxOutputChars(cfg.Tools.MaxOutputChars))
	}
	if len(cfg.Tools.AllowedPaths) > 0 {
		executorOpts = append(executorOpts, tools.WithAllowedRoots(cfg.Tools.AllowedPaths...))
	}
	executor := tools.NewExecutor(sbx, executorOpts...)
	sc.Executor = executor

	reg := tools.NewRegistry()
	for _, t := range []tools.Tool{
		shell.NewTool(executor, logger),
		code.NewTool(executor, logger),
		file.NewReadTool(executor, logger),
		file.NewWriteTool(executor, logger),
		browser.NewTool(executor, logger),
	} {
		if instrumented(obs) {
			t = observability.NewInstrumentedTool(t, obs.Metrics, obs.TracerOrNil())
		}
		reg.Register(t)
	}
	sc.Tools = reg
	logger.Debug("tools registered", slog.Any("tools", reg.List()))

	return sc, nil
}

// instrumented reports whether the sandbox and tools should be wrapped.
// Either signal alone is enough: the wrappers handle nil metrics and a nil
// tracer internally, so a tracing-only configuration still gets spans.
func instrumented(obs *observability.Observability) bool {
	return obs != nil && (obs.Metrics != nil || obs.Tracer != nil)
}

// initWorkspace creates the host workspace, resolving the root from config or defaults.
func initWorkspace(cfg *config.Config) (*workspace.Workspace, error) {
	root := cfg.Workspace
	if root == "" {
		return workspace.Default()
	}
	return workspace.New(root)
}

// initHistory opens the execution history store from config.
func initHistory(cfg *config.Config, ws *workspace.Workspace, logger *slog.Logger) (*history.Store, error) {
	hcfg := history.Config{
		Driver:     cfg.History.HistoryDriver(),
		SQLitePath: ws.DatabasePath(),
	}
	if cfg.DataDir != "" {
		hcfg.SQLitePath = cfg.DatabasePath()
	}
	if cfg.History != nil {
		if cfg.History.SQLite != nil && cfg.History.SQLite.Path != "" {
			hcfg.SQLitePath = cfg.History.SQLite.Path
		}
		if cfg.History.Postgres != nil {
			hcfg.PostgresDSN = cfg.History.Postgres.DSN
		}
	}
	return history.Open(hcfg, logger)
}

// recordExecution appends a record to the history store. Failures are
// logged, never fatal: history is bookkeeping, not part of the result.
func (sc *SharedComponents) recordExecution(ctx context.Context, tool, command string, res *tools.Result, elapsed time.Duration) {
	if sc.History == nil {
		return
	}
	rec := &history.Record{
		Backend:    sc.Config.Sandbox.Type,
		Tool:       tool,
		Command:    command,
		ExitCode:   res.ExitCode,
		TimedOut:   res.ExitCode == sandbox.TimeoutExitCode,
		DurationMS: elapsed.Milliseconds(),
	}
	if err := sc.History.Append(ctx, rec); err != nil {
		sc.Logger.Error("recording execution history", slog.String("error", err.Error()))
	}
}

// toolRun describes a single tool invocation inside a freshly provisioned
// sandbox. Before and After run inside the sandbox lifetime, around the tool
// call, and are used to stage input files and fetch results.
type toolRun struct {
	Tool    string
	Command string // what the history record shows
	Params  map[string]any
	Before  func(ctx context.Context, sb sandbox.Sandbox) error
	After   func(ctx context.Context, sb sandbox.Sandbox, res *tools.Result) error
}

// runTool starts a sandbox, executes a single tool invocation inside it,
// records the result, and tears the sandbox down.
func runTool(ctx context.Context, sc *SharedComponents, r toolRun) (*tools.Result, error) {
	t := sc.Tools.Get(r.Tool)
	if t == nil {
		return nil, fmt.Errorf("unknown tool: %s", r.Tool)
	}
	if err := t.Validate(r.Params); err != nil {
		return nil, err
	}

	var res *tools.Result
	start := time.Now()
	err := sandbox.With(ctx, sc.Sandbox, func(sb sandbox.Sandbox) error {
		if r.Before != nil {
			if err := r.Before(ctx, sb); err != nil {
				return err
			}
		}
		var execErr error
		res, execErr = t.Execute(ctx, r.Params)
		if execErr != nil {
			return execErr
		}
		if r.After != nil {
			return r.After(ctx, sb, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sc.recordExecution(context.WithoutCancel(ctx), r.Tool, r.Command, res, time.Since(start))
	return res, nil
}

// exitCodeOf maps a tool result to a process exit code.
func exitCodeOf(res *tools.Result) int {
	if res.Status == tools.StatusSuccess {
		return 0
	}
	if res.ExitCode > 0 {
		return res.ExitCode
	}
	return 1
}
