package serialbridge

import (
	"io"
	"time"
)

// Reading is one line received from the device, as handed to measurement
// callbacks.
//
// Reading is delivered after the line became the latest value and after the
// history insert was attempted, so ID and StoredAt are known when storing
// succeeded.
type Reading struct {
	// Value is the line text with surrounding whitespace removed.
	Value string

	// ReceivedAt is when the bridge processed the line.
	ReceivedAt time.Time

	// ID is the history row id. Zero if the line was not stored.
	ID int64

	// StoredAt is the row timestamp assigned by the database, in UTC.
	StoredAt time.Time

	// Err is the storage error, if any. A non-nil Err does not mean the line
	// was lost: it is still the latest value.
	Err error
}

// Stored reports whether the reading was appended to the history.
func (r Reading) Stored() bool {
	return r.Err == nil && r.ID != 0
}

// PortOpener opens a serial device by name.
//
// The returned reader must not block indefinitely: a Read with no pending
// data should return (0, nil) after a short timeout, the way serial ports
// configured with a read timeout behave. Close must unblock a pending Read.
type PortOpener func(name string) (io.ReadCloser, error)
