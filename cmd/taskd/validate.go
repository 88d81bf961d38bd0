package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"taskd/internal/config"
	logx "taskd/pkg/logx"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config file and exit",
	RunE:  validateRun,
}

func validateRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewManager(configPath, logx.Nop()).Parse()
	if err != nil {
		return fmt.Errorf("%s: %w", configPath, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%d tasks)\n", configPath, len(cfg.Tasks))
	return nil
}
