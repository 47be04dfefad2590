// Package serialbridge relays text readings from a serial device to a small
// web dashboard, keeping a SQLite history of everything it received.
//
// A microcontroller (an M5Stack in the reference setup) prints one reading
// per line, such as "VOLT:3.30". The bridge polls the port, publishes each
// non-empty line as the latest value, appends it to the history, and serves
// both over HTTP.
//
// # Quick Start
//
//	b, err := serialbridge.New(serialbridge.WithDevice("/dev/ttyUSB0"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Set up graceful shutdown on SIGINT/SIGTERM
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	b.Start(ctx) // blocks until context is cancelled
//
// # Endpoints
//
//   - GET /: the dashboard page
//   - GET /style.css: its stylesheet
//   - GET /data: the latest value as plain text
//   - GET /all_data: the history, newest first, one "ID: ..., Timestamp: ..., Value: ..." line per row
//   - GET /events: latest value changes as Server-Sent Events
//   - GET /metrics: Prometheus metrics
//
// # Failure Handling
//
// Device and database failures never stop the HTTP server. A device that
// cannot be opened or stops answering is reported through the latest value;
// a database that cannot be opened makes /all_data answer
// "Database not connected.".
//
// # Architecture
//
//   - internal/ingest: device polling and line handling
//   - internal/store: latest value cell and SQLite history
//   - internal/server: HTTP routes
//   - internal/metrics: Prometheus collectors
//   - dashboard: embedded web assets
package serialbridge
