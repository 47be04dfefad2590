// Package main is the entry point for the serialbridge CLI.
//
// The bridge can be run either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	serialbridge serve -c config.yaml    # Start the bridge
//	serialbridge validate -c config.yaml # Validate configuration
//	serialbridge ports                   # List serial ports
//	serialbridge version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "serialbridge",
	Short: "Relay serial device readings to a web dashboard",
	Long: `serialbridge reads text lines from a serial device, keeps the latest one,
stores every line in SQLite, and serves both on a small web dashboard.

Quick start:
  1. Find your device: serialbridge ports
  2. Create a config file (serialbridge.yaml)
  3. Run: serialbridge serve -c serialbridge.yaml
  4. Open http://localhost:8080 in your browser

Example config:
  port: 8080
  database: m5_data.db
  device:
    name: ${SERIAL_DEVICE:-COM6}
    baud_rate: 115200`,
	// No Run/RunE means this just shows help when called without subcommands
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this serialbridge binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("serialbridge %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Register subcommands with root
	rootCmd.AddCommand(versionCmd)
}
