// Package ingest reads measurements from a serial-attached device.
//
// This package is internal to serialbridge and owns the serial connection.
// A [Loop] opens the device once, then polls it for available bytes at a
// fixed interval. Every non-empty text line replaces the shared latest value
// and is appended to the measurement history.
//
// The main components are:
//
//   - [Port]: The byte stream of an opened device
//   - [Opener]: Opens a device by name; [SerialOpener] opens real serial ports
//   - [Loop]: The polling loop
//   - [Line]: One processed line, handed to the optional line handler
//
// A failure to open the device or to read from it ends the loop, never the
// process. There is no reconnect logic.
package ingest
