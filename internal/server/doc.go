// Package server provides the HTTP server for the serialbridge dashboard.
//
// This package is internal to serialbridge and handles all HTTP concerns:
//
//   - Static assets: index.html at "/" and style.css at "/style.css"
//   - Polling API: the latest value at "/data", full history at "/all_data"
//   - Server-Sent Events: latest value changes at "/events"
//   - Metrics: Prometheus exposition at "/metrics"
//
// Every handler works before the device has produced data and with an inert
// database; failures are rendered as plain text, never as a hung request.
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
package server
