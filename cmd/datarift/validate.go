package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/datarift/datarift/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration without starting the service",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Parse(configPath)
		if err != nil {
			return fmt.Errorf("cannot load configuration: %w", err)
		}

		violations := cfg.Validate()
		if len(violations) > 0 {
			fmt.Fprintln(os.Stderr, "Configuration is invalid:")
			for _, v := range violations {
				fmt.Fprintf(os.Stderr, "  - %s\n", v)
			}
			os.Exit(1)
		}

		fmt.Printf("Configuration is valid: %d enabled tables\n", len(cfg.EnabledTables()))
		return nil
	},
}

func init() {
	validateCmd.Flags().String("config", "", "Path to the configuration file")
}
