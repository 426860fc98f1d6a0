// Sanduku — isolated command execution in disposable sandboxes.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sanduku",
	Short: "Sanduku — run commands, code, and file operations in disposable sandboxes.",
	Long: `Sanduku executes shell commands, Python code, and file operations inside
isolated sandboxes. Each invocation provisions a fresh environment (a local
Docker container or a Daytona cloud workspace), runs the work under a
bounded timeout, and tears the environment down afterwards.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd, pythonCmd, browseCmd, historyCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
