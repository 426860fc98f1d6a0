package main

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/spf13/cobra"

	"github.com/jkaninda/sanduku/internal/sandbox"
	"github.com/jkaninda/sanduku/internal/tools"
)

var (
	runCommand    string
	runTimeout    int
	runWorkingDir string
	runEnv        []string
	runPuts       []string
	runGets       []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a shell command in a fresh sandbox",
	Long: `Provision a sandbox, run a single shell command inside it, print the
output, and tear the sandbox down.

The command runs under a bounded timeout. On timeout the process exits
with a non-zero status and stderr explains what happened.

Local files can be staged into the sandbox with --put and results copied
back with --get:

  sanduku run --put data.csv -c "wc -l /workspace/input/data.csv"
  sanduku run -c "sort /etc/passwd > /workspace/output/sorted" --get /workspace/output/sorted

Examples:
  sanduku run -c "python3 --version"
  sanduku run -c "pip install requests && python3 fetch.py" --timeout 300
  sanduku run -c "env | sort" -e DEBUG=1 -e REGION=eu`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runCommand, "command", "c", "", "shell command to run (required)")
	runCmd.Flags().IntVar(&runTimeout, "timeout", 0, "timeout in seconds (0 = configured default)")
	runCmd.Flags().StringVarP(&runWorkingDir, "workdir", "w", "", "working directory inside the sandbox")
	runCmd.Flags().StringArrayVarP(&runEnv, "env", "e", nil, "extra environment variable KEY=VALUE (repeatable)")
	runCmd.Flags().StringArrayVar(&runPuts, "put", nil, "stage a local file into the sandbox: local[:remote] (repeatable)")
	runCmd.Flags().StringArrayVar(&runGets, "get", nil, "fetch a sandbox file after the run: remote[:local] (repeatable)")

	_ = runCmd.MarkFlagRequired("command")
}

func runRun(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx, stop := signalContext()
	defer stop()

	params := map[string]any{
		"command": runCommand,
	}
	if runTimeout > 0 {
		params["timeout_seconds"] = runTimeout
	}
	if runWorkingDir != "" {
		params["working_dir"] = runWorkingDir
	}

	// Per-command env vars ride on the command itself: the shell tool has no
	// env parameter, and export keeps the sandbox backend agnostic.
	if len(runEnv) > 0 {
		exports, err := buildEnvExports(runEnv)
		if err != nil {
			return err
		}
		params["command"] = exports + runCommand
	}

	puts, err := parsePuts(runPuts)
	if err != nil {
		return err
	}
	gets, err := parseGets(runGets, sc.Workspace.DownloadPath)
	if err != nil {
		return err
	}

	res, err := runTool(ctx, sc, toolRun{
		Tool:    "shell",
		Command: runCommand,
		Params:  params,
		Before: func(ctx context.Context, sb sandbox.Sandbox) error {
			return stageFiles(ctx, sc, sb, puts)
		},
		After: func(ctx context.Context, sb sandbox.Sandbox, _ *tools.Result) error {
			return fetchFiles(ctx, sc, sb, gets)
		},
	})
	if err != nil {
		return err
	}

	if res.Stdout != "" {
		fmt.Print(res.Stdout)
	}
	if res.Stderr != "" {
		fmt.Fprint(os.Stderr, res.Stderr)
	}
	if res.Error != "" && res.Stderr == "" {
		fmt.Fprintln(os.Stderr, res.Error)
	}

	if code := exitCodeOf(res); code != 0 {
		// os.Exit skips deferred calls; release components first.
		sc.Cleanup()
		os.Exit(code)
	}
	return nil
}

// envKeyPattern matches valid shell variable names. Keys are interpolated
// into the command line, so anything else is rejected rather than quoted.
var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// buildEnvExports turns KEY=VALUE pairs into an export prefix for the command.
func buildEnvExports(pairs []string) (string, error) {
	var b strings.Builder
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return "", fmt.Errorf("invalid env var %q: expected KEY=VALUE", pair)
		}
		if !envKeyPattern.MatchString(key) {
			return "", fmt.Errorf("invalid env var name %q: must match %s", key, envKeyPattern)
		}
		fmt.Fprintf(&b, "export %s=%s; ", key, shellescape.Quote(value))
	}
	return b.String(), nil
}
