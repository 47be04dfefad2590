package main

import (
	"fmt"

	"github.com/jpalmerr/serialbridge/internal/ingest"
	"github.com/spf13/cobra"
)

// listPorts is replaced in tests.
var listPorts = ingest.ListPorts

// portsCmd lists the serial ports that can be passed as device.name.
var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	Long: `List the serial ports present on this machine.

Use one of the printed names as device.name in the config file or with
serve --device.`,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := listPorts()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(ports) == 0 {
		fmt.Fprintln(out, "No serial ports found.")
		return nil
	}
	for _, p := range ports {
		fmt.Fprintln(out, p)
	}
	return nil
}
