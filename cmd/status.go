package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"feeder/internal/coordinator"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the last status snapshot a coordinator saved",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := coordinator.NewFileStore(cfg.DataDir).LoadStatus(cmd.Context())
		if err != nil {
			return err //nolint:wrapcheck
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(st); err != nil {
			return fmt.Errorf("print status: %w", err)
		}
		return nil
	},
}
