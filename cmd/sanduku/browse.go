package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jkaninda/sanduku/internal/tools"
)

var browseSelector string

var browseCmd = &cobra.Command{
	Use:   "browse <url>",
	Short: "Fetch a web page with a sandboxed browser",
	Long: `Load a page in a headless browser running inside a sandbox and print
its text content. JavaScript is executed, so pages that render client-side
work too. A CSS selector narrows the output to matching elements.

Examples:
  sanduku browse https://example.com
  sanduku browse https://news.ycombinator.com --selector ".titleline"`,
	Args: cobra.ExactArgs(1),
	RunE: runBrowse,
}

func init() {
	browseCmd.Flags().StringVar(&browseSelector, "selector", "", "CSS selector to extract")
}

func runBrowse(_ *cobra.Command, args []string) error {
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
		"url": args[0],
	}
	if browseSelector != "" {
		params["selector"] = browseSelector
	}

	res, err := runTool(ctx, sc, toolRun{
		Tool:    "browse",
		Command: args[0],
		Params:  params,
	})
	if err != nil {
		return err
	}

	if res.Status != tools.StatusSuccess {
		if res.Error != "" {
			fmt.Fprintln(os.Stderr, res.Error)
		}
		if res.Stderr != "" {
			fmt.Fprint(os.Stderr, res.Stderr)
		}
		// os.Exit skips deferred calls; release components first.
		sc.Cleanup()
		os.Exit(1)
	}

	if res.Title != "" {
		fmt.Fprintf(os.Stderr, "%s (%s)\n", res.Title, res.URL)
	}
	fmt.Println(res.Content)
	return nil
}
