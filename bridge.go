package serialbridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/jpalmerr/serialbridge/dashboard"
	"github.com/jpalmerr/serialbridge/internal/ingest"
	"github.com/jpalmerr/serialbridge/internal/metrics"
	"github.com/jpalmerr/serialbridge/internal/server"
	"github.com/jpalmerr/serialbridge/internal/store"
)

const (
	defaultPort         = 8080
	defaultPollInterval = ingest.DefaultPollInterval
	defaultDatabase     = "m5_data.db"
	defaultQueryTimeout = server.DefaultQueryTimeout
	defaultBaudRate     = 115200
	defaultReadTimeout  = 10 * time.Millisecond
)

// Bridge connects one serial device to a small HTTP dashboard.
//
// Bridge reads text lines from the device, keeps the most recent one as the
// latest value, appends every line to a SQLite history, and serves both over
// HTTP. It is created using [New] with functional options and started with
// [Bridge.Start].
//
// The typical lifecycle is:
//
//	b, err := serialbridge.New(serialbridge.WithDevice("COM6"))
//	if err != nil {
//	    slog.Error("failed to create bridge", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	b.Start(ctx) // blocks until context cancelled
//
// The HTTP server does not depend on the device: if the device cannot be
// opened or stops responding, the dashboard keeps serving the history and
// an explanatory latest value.
type Bridge struct {
	device       string
	port         int
	pollInterval time.Duration
	database     string
	queryTimeout time.Duration
	assets       fs.FS
	openPort     PortOpener
	logger       *slog.Logger
	callbacks    []func(Reading)

	latest *store.Latest
}

// New creates a new [Bridge] instance with the given options.
//
// A device must be configured via [WithDevice]. Other options have sensible
// defaults:
//   - Port: 8080
//   - Poll interval: 100ms
//   - Database: m5_data.db in the working directory
//   - Query timeout: 5 seconds
//   - Baud rate: 115200
//   - Assets: the embedded dashboard
//
// Returns an error if no device is configured or if any option is invalid.
func New(opts ...Option) (*Bridge, error) {
	cfg := &bridgeConfig{
		port:         defaultPort,
		pollInterval: defaultPollInterval,
		database:     defaultDatabase,
		queryTimeout: defaultQueryTimeout,
		baudRate:     defaultBaudRate,
		readTimeout:  defaultReadTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.device == "" {
		return nil, errors.New("a device is required")
	}

	// default to slog.Default() if no logger provided
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	assets := cfg.assets
	if assets == nil {
		assets = dashboard.Assets()
	}

	openPort := cfg.openPort
	if openPort == nil {
		serialOpen := ingest.SerialOpener(cfg.baudRate, cfg.readTimeout)
		openPort = func(name string) (io.ReadCloser, error) {
			return serialOpen(name)
		}
	}

	return &Bridge{
		device:       cfg.device,
		port:         cfg.port,
		pollInterval: cfg.pollInterval,
		database:     cfg.database,
		queryTimeout: cfg.queryTimeout,
		assets:       assets,
		openPort:     openPort,
		logger:       logger,
		callbacks:    cfg.callbacks,
		latest:       store.NewLatest(),
	}, nil
}

// Start opens the database, starts the HTTP server and the ingest loop, and
// blocks until the provided context is cancelled.
//
// Startup order:
//
//   - The database is opened; on failure the bridge logs the error and keeps
//     running with an inert history (every /all_data request explains that
//     the database is not connected)
//   - The HTTP server binds its port; a bind failure is the only error Start
//     returns
//   - The ingest loop opens the device in the background
//
// On cancellation Start waits for the ingest loop and the HTTP server to
// stop, then closes the database. Returns nil on graceful shutdown.
func (b *Bridge) Start(ctx context.Context) error {
	b.logger.Info("serialbridge starting", "device", b.device, "database", b.database)

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	m := metrics.New()
	gateway := b.openGateway(ctx)

	httpServer := server.NewServer(server.Config{
		Port:         b.port,
		Latest:       b.latest,
		Gateway:      gateway,
		Assets:       b.assets,
		QueryTimeout: b.queryTimeout,
		Metrics:      m,
		Logger:       b.logger,
	})
	if err := httpServer.Start(ctx); err != nil {
		b.closeGateway(gateway)
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	b.logger.Info("dashboard available", "url", fmt.Sprintf("http://localhost:%d", b.port))

	loop, err := ingest.NewLoop(ingest.LoopConfig{
		Device:       b.device,
		Open:         b.opener(),
		PollInterval: b.pollInterval,
		Latest:       b.latest,
		Gateway:      gateway,
		Metrics:      m,
		OnLine:       b.dispatch,
		Logger:       b.logger,
	})
	if err != nil {
		// the HTTP server is already running; keep serving without ingest
		b.logger.Error("failed to create ingest loop", "error", err)
	}

	// track the ingest goroutine to ensure clean shutdown
	var wg sync.WaitGroup
	if loop != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop.Run(ctx)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	<-httpServer.Done()
	b.closeGateway(gateway)

	b.logger.Info("serialbridge stopped")
	return nil
}

// Latest returns the current latest value: the most recent device line or
// a status message such as the device being unreachable.
func (b *Bridge) Latest() string {
	return b.latest.Get()
}

// Device returns the configured device name.
func (b *Bridge) Device() string {
	return b.device
}

// Port returns the configured HTTP port for the dashboard server.
func (b *Bridge) Port() int {
	return b.port
}

// PollInterval returns the configured pause between device polls.
func (b *Bridge) PollInterval() time.Duration {
	return b.pollInterval
}

// Database returns the configured SQLite file path.
func (b *Bridge) Database() string {
	return b.database
}

// openGateway opens the SQLite history, falling back to an inert gateway.
func (b *Bridge) openGateway(ctx context.Context) store.Gateway {
	db, err := store.OpenSQLite(ctx, b.database, b.logger)
	if err != nil {
		b.logger.Error("database unavailable, history disabled",
			"path", b.database,
			"error", err,
		)
		return store.Disconnected()
	}
	return db
}

func (b *Bridge) closeGateway(g store.Gateway) {
	if err := g.Close(); err != nil {
		b.logger.Error("failed to close database", "error", err)
	}
}

// opener adapts the public PortOpener to the ingest package.
func (b *Bridge) opener() ingest.Opener {
	return func(name string) (ingest.Port, error) {
		return b.openPort(name)
	}
}

// dispatch hands a processed line to every registered callback.
func (b *Bridge) dispatch(line ingest.Line) {
	if len(b.callbacks) == 0 {
		return
	}

	reading := lineToReading(line)
	for _, cb := range b.callbacks {
		invokeCallbackSafe(cb, reading, b.logger)
	}
}

// lineToReading converts an ingest line to the public type.
func lineToReading(line ingest.Line) Reading {
	return Reading{
		Value:      line.Value,
		ReceivedAt: line.ReceivedAt,
		ID:         line.Measurement.ID,
		StoredAt:   line.Measurement.Timestamp,
		Err:        line.StoreErr,
	}
}

// invokeCallbackSafe calls a measurement callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(Reading), reading Reading, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("measurement callback panicked",
				"panic", r,
				"value", reading.Value,
			)
		}
	}()
	cb(reading)
}
