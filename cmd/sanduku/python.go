package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jkaninda/sanduku/internal/sandbox"
	"github.com/jkaninda/sanduku/internal/tools"
)

var (
	pythonExpr    string
	pythonTimeout int
	pythonPuts    []string
	pythonFetch   bool
)

var pythonCmd = &cobra.Command{
	Use:     "python [script.py]",
	Aliases: []string{"code"},
	Short:   "Run Python code in a fresh sandbox",
	Long: `Run a Python script inside a sandbox. The code is taken from a local
file argument, from -e, or from stdin when neither is given.

Files the script writes to /workspace/output are listed on stderr after
the run so they can be fetched with "sanduku get".

Examples:
  sanduku python analysis.py
  sanduku python -e 'print(6 * 7)'
  cat gen.py | sanduku python`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPython,
}

func init() {
	pythonCmd.Flags().StringVarP(&pythonExpr, "eval", "e", "", "Python code to run inline")
	pythonCmd.Flags().IntVar(&pythonTimeout, "timeout", 0, "timeout in seconds (0 = configured default)")
	pythonCmd.Flags().StringArrayVar(&pythonPuts, "put", nil, "stage a local file into the sandbox: local[:remote] (repeatable)")
	pythonCmd.Flags().BoolVar(&pythonFetch, "fetch-output", false, "download files written to /workspace/output")
}

func runPython(_ *cobra.Command, args []string) error {
	logger := newLogger()

	source, label, err := readPythonSource(args)
	if err != nil {
		return err
	}

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
		"code": source,
	}
	if pythonTimeout > 0 {
		params["timeout_seconds"] = pythonTimeout
	}

	puts, err := parsePuts(pythonPuts)
	if err != nil {
		return err
	}

	res, err := runTool(ctx, sc, toolRun{
		Tool:    "python",
		Command: label,
		Params:  params,
		Before: func(ctx context.Context, sb sandbox.Sandbox) error {
			return stageFiles(ctx, sc, sb, puts)
		},
		After: func(ctx context.Context, sb sandbox.Sandbox, res *tools.Result) error {
			if !pythonFetch {
				return nil
			}
			return fetchGenerated(ctx, sc, sb, res.GeneratedFiles)
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
	for _, f := range res.GeneratedFiles {
		fmt.Fprintf(os.Stderr, "generated: %s\n", f)
	}

	if code := exitCodeOf(res); code != 0 {
		// os.Exit skips deferred calls; release components first.
		sc.Cleanup()
		os.Exit(code)
	}
	return nil
}

// readPythonSource resolves the script from the file argument, -e, or stdin.
// The second return value names the source for the history record.
func readPythonSource(args []string) (string, string, error) {
	if len(args) == 1 && pythonExpr != "" {
		return "", "", fmt.Errorf("give either a script file or -e, not both")
	}
	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", "", fmt.Errorf("reading script: %w", err)
		}
		return string(data), args[0], nil
	}
	if pythonExpr != "" {
		return pythonExpr, pythonExpr, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", "", fmt.Errorf("reading stdin: %w", err)
	}
	if len(data) == 0 {
		return "", "", fmt.Errorf("no Python code given: pass a file, -e, or pipe to stdin")
	}
	return string(data), "<stdin>", nil
}
