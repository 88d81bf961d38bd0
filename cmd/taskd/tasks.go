package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"taskd/internal/config"
	logx "taskd/pkg/logx"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List the tasks declared in the config file",
	RunE:  tasksRun,
}

func tasksRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewManager(configPath, logx.Nop()).Parse()
	if err != nil {
		return fmt.Errorf("%s: %w", configPath, err)
	}
	if len(cfg.Tasks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tasks configured.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "NAME\tGROUP\tTRIGGER\tACTION\tAUTOSTART\tFIRST RUN\n")
	for _, tc := range cfg.Tasks {
		tr, err := tc.Trigger()
		if err != nil {
			return err
		}
		first := "on start"
		switch next := tr.Next(time.Time{}, 0); {
		case tr.IsOnDemand():
			first = "on demand"
		case !next.IsZero():
			first = next.Format(time.RFC3339)
		}
		group := tc.Group
		if group == "" {
			group = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
			tc.Name, group, tr.String(), tc.Action.Kind, tc.AutostartEnabled(), first)
	}
	return w.Flush()
}
