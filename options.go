package serialbridge

import (
	"errors"
	"io/fs"
	"log/slog"
	"time"
)

// bridgeConfig holds mutable state during Bridge construction.
type bridgeConfig struct {
	device       string
	baudRate     int
	readTimeout  time.Duration
	port         int
	pollInterval time.Duration
	database     string
	queryTimeout time.Duration
	assets       fs.FS
	openPort     PortOpener
	logger       *slog.Logger
	callbacks    []func(Reading)
}

// Option is a function that configures a [Bridge] instance during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
type Option func(*bridgeConfig) error

// WithDevice sets the serial device to read from, such as "COM6" or
// "/dev/ttyUSB0". Required.
//
// Returns an error if the name is empty.
func WithDevice(name string) Option {
	return func(cfg *bridgeConfig) error {
		if name == "" {
			return errors.New("device name cannot be empty")
		}
		cfg.device = name
		return nil
	}
}

// WithBaudRate sets the serial line speed. Defaults to 115200.
//
// Ignored when a custom opener is installed with [WithPortOpener].
// Returns an error if the rate is zero or negative.
func WithBaudRate(rate int) Option {
	return func(cfg *bridgeConfig) error {
		if rate <= 0 {
			return errors.New("baud rate must be positive")
		}
		cfg.baudRate = rate
		return nil
	}
}

// WithReadTimeout sets how long a single serial read waits for data.
// Defaults to 10ms.
//
// Ignored when a custom opener is installed with [WithPortOpener].
// Returns an error if the duration is zero or negative.
func WithReadTimeout(d time.Duration) Option {
	return func(cfg *bridgeConfig) error {
		if d <= 0 {
			return errors.New("read timeout must be positive")
		}
		cfg.readTimeout = d
		return nil
	}
}

// WithPort sets the HTTP port for the dashboard server.
//
// The dashboard will be available at http://localhost:<port>.
// Defaults to 8080 if not specified.
//
// Example:
//
//	b, err := serialbridge.New(
//	    serialbridge.WithDevice("COM6"),
//	    serialbridge.WithPort(9090),
//	)
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *bridgeConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithPollInterval sets the pause between two polls of the device.
// Defaults to 100ms.
//
// Returns an error if the duration is zero or negative.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *bridgeConfig) error {
		if d <= 0 {
			return errors.New("poll interval must be positive")
		}
		cfg.pollInterval = d
		return nil
	}
}

// WithDatabase sets the SQLite file that holds the measurement history.
// The file and its table are created if missing. Defaults to "m5_data.db".
//
// Returns an error if the path is empty.
func WithDatabase(path string) Option {
	return func(cfg *bridgeConfig) error {
		if path == "" {
			return errors.New("database path cannot be empty")
		}
		cfg.database = path
		return nil
	}
}

// WithQueryTimeout bounds each history query made by /all_data.
// Defaults to 5 seconds.
//
// Returns an error if the duration is zero or negative.
func WithQueryTimeout(d time.Duration) Option {
	return func(cfg *bridgeConfig) error {
		if d <= 0 {
			return errors.New("query timeout must be positive")
		}
		cfg.queryTimeout = d
		return nil
	}
}

// WithAssets replaces the embedded dashboard with fsys, which must hold
// index.html and style.css at its root.
//
// Example:
//
//	b, err := serialbridge.New(
//	    serialbridge.WithDevice("COM6"),
//	    serialbridge.WithAssets(os.DirFS("./web")),
//	)
//
// Returns an error if fsys is nil.
func WithAssets(fsys fs.FS) Option {
	return func(cfg *bridgeConfig) error {
		if fsys == nil {
			return errors.New("assets cannot be nil")
		}
		cfg.assets = fsys
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the Bridge instance.
//
// This allows SDK consumers to control where logs are written and in what
// format. If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *bridgeConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithMeasurementCallback registers a function to be called for every line
// received from the device.
//
// Multiple callbacks may be registered; they execute in registration order.
//
// IMPORTANT: Callbacks must be non-blocking. They run on the ingest
// goroutine, so a slow callback delays the next device poll.
//
// Panics within callbacks are recovered and logged; they do not stop ingest.
//
// Example:
//
//	b, err := serialbridge.New(
//	    serialbridge.WithDevice("COM6"),
//	    serialbridge.WithMeasurementCallback(func(r serialbridge.Reading) {
//	        if !r.Stored() {
//	            log.Printf("not stored: %s (%v)", r.Value, r.Err)
//	        }
//	    }),
//	)
//
// Nil callbacks are silently ignored.
func WithMeasurementCallback(cb func(Reading)) Option {
	return func(cfg *bridgeConfig) error {
		if cb == nil {
			return nil // no-op for nil callback (safe to call)
		}
		cfg.callbacks = append(cfg.callbacks, cb)
		return nil
	}
}

// WithPortOpener replaces the serial driver. Useful for simulated devices
// and tests.
//
// Returns an error if open is nil.
func WithPortOpener(open PortOpener) Option {
	return func(cfg *bridgeConfig) error {
		if open == nil {
			return errors.New("port opener cannot be nil")
		}
		cfg.openPort = open
		return nil
	}
}
