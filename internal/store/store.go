package store

import (
	"context"
	"errors"
	"time"
)

// TimeLayout is the textual form SQLite uses for CURRENT_TIMESTAMP.
const TimeLayout = "2006-01-02 15:04:05"

var (
	// ErrNotConnected is returned by every operation of an inert gateway.
	ErrNotConnected = errors.New("database not connected")

	// ErrEmptyValue is returned when inserting an empty measurement value.
	ErrEmptyValue = errors.New("measurement value must not be empty")
)

// Measurement is one persisted row of the measurement history.
//
// ID and Timestamp are assigned by the database at insert time; the
// ingest loop only supplies Value.
type Measurement struct {
	// ID increases monotonically in insertion order.
	ID int64 `json:"id"`

	// Timestamp is the insert time in UTC with second resolution.
	Timestamp time.Time `json:"timestamp"`

	// Value is the trimmed, non-empty text line received from the device.
	Value string `json:"value"`
}

// Gateway defines the operations on the measurement history.
//
// Implementations must be safe for concurrent use: the ingest loop writes
// while HTTP handlers read.
type Gateway interface {
	// Insert appends one measurement and returns the stored row.
	// Returns ErrEmptyValue if value is empty.
	Insert(ctx context.Context, value string) (Measurement, error)

	// All returns every measurement, newest first.
	All(ctx context.Context) ([]Measurement, error)

	// Close releases the underlying handle. Safe to call multiple times.
	Close() error
}
