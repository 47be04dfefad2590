// Package store provides persistence and shared state for measurements.
//
// This package is internal to serialbridge and provides:
//
//   - [Gateway]: Interface over the durable measurement history
//   - [SQLite]: SQLite implementation of Gateway with a single connection
//   - [Disconnected]: Inert Gateway used when the database cannot be opened
//   - [Latest]: The process-wide latest value cell with pub/sub
//
// Latest is safe for concurrent access: readers never block on the writer
// and subscribers receive updates via channels with non-blocking sends
// (slow subscribers miss updates rather than stall the ingest loop).
//
// Users of the serialbridge library should not need to interact with this
// package directly. Storage is managed internally by the Bridge.
package store
