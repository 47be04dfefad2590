package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/serialbridge"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// the simulated device replaces the serial driver (see mock_device.go)
	b, err := serialbridge.New(
		serialbridge.WithDevice("SIM0"),
		serialbridge.WithPortOpener(OpenSimulatedDevice),
		serialbridge.WithPollInterval(100*time.Millisecond),
		serialbridge.WithDatabase("example.db"),
		serialbridge.WithPort(8080),
		serialbridge.WithLogger(logger),
		serialbridge.WithMeasurementCallback(func(r serialbridge.Reading) {
			if !r.Stored() {
				logger.Warn("reading not stored", "value", r.Value, "error", r.Err)
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create bridge", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   serialbridge demo                                   ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Open http://localhost:8080 in your browser          ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Device: simulated battery monitor (SIM0)            ║")
	fmt.Println("  ║   History: example.db                                 ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Press Ctrl+C to stop                                ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		slog.Error("serialbridge error", "error", err)
		os.Exit(1)
	}
}
