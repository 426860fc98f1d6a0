package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jkaninda/sanduku/internal/history"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent sandbox executions",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of records to show")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "output as JSON")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Only the history store is needed here, not a sandbox.
	ws, err := initWorkspace(cfg)
	if err != nil {
		return err
	}
	store, err := initHistory(cfg, ws, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Recent(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}

	if historyJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Println("no executions recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tBACKEND\tTOOL\tEXIT\tDURATION\tCOMMAND")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dms\t%s\n",
			rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			rec.Backend,
			rec.Tool,
			exitLabel(rec),
			rec.DurationMS,
			truncateCommand(rec.Command, 60),
		)
	}
	return w.Flush()
}

func exitLabel(rec history.Record) string {
	if rec.TimedOut {
		return "timeout"
	}
	return fmt.Sprintf("%d", rec.ExitCode)
}

func truncateCommand(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
