package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"taskd/internal/app"
	"taskd/internal/config"
	"taskd/internal/storage"
	logx "taskd/pkg/logx"
)

var (
	historyTask  string
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent runs from the run journal",
	RunE:  historyRun,
}

func init() {
	historyCmd.Flags().StringVar(&historyTask, "task", "", "only show runs of this task")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print records as JSON lines")
}

func historyRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewManager(configPath, logx.Nop()).Parse()
	if err != nil {
		return fmt.Errorf("%s: %w", configPath, err)
	}
	st, err := app.OpenHistory(cfg, logx.Nop())
	if errors.Is(err, storage.ErrDisabled) {
		return errors.New("storage is disabled in the config; no run history")
	}
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.RecentRuns(cmd.Context(), storage.Query{Task: historyTask, Limit: historyLimit})
	if err != nil {
		return fmt.Errorf("reading history: %w", err)
	}

	out := cmd.OutOrStdout()
	if historyJSON {
		enc := json.NewEncoder(out)
		for _, r := range runs {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "STARTED\tTASK\tRUN\tDURATION\tFORCED\tRESULT\n")
	for _, r := range runs {
		result := "ok"
		switch {
		case r.Discarded:
			result = "discarded"
		case r.Failed():
			result = r.Error
			if len(result) > 60 {
				result = result[:57] + "..."
			}
		}
		started := "-"
		if !r.Started.IsZero() {
			started = r.Started.Local().Format(time.DateTime)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%t\t%s\n",
			started, r.Task, r.RunCount, time.Duration(r.DurationMS)*time.Millisecond, r.Forced, result)
	}
	return w.Flush()
}
