package main

import (
	"fmt"

	"github.com/jpalmerr/serialbridge/config"
	"github.com/spf13/cobra"
)

// validateCmd validates a config file without starting the bridge.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a serialbridge configuration file without starting the bridge.

This command parses the YAML, expands environment variables, and validates
all fields. The device is not opened.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  serialbridge validate -c config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	assets := "embedded"
	if cfg.AssetsDir != "" {
		assets = cfg.AssetsDir
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Device:        %s @ %d baud\n", cfg.Device.Name, cfg.Device.BaudRate)
	fmt.Printf("  Port:          %d\n", cfg.Port)
	fmt.Printf("  Poll interval: %s\n", cfg.PollInterval.Duration())
	fmt.Printf("  Database:      %s\n", cfg.Database)
	fmt.Printf("  Assets:        %s\n", assets)

	return nil
}
