package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpalmerr/serialbridge/internal/metrics"
	"github.com/jpalmerr/serialbridge/internal/store"
)

const (
	// readBufferSize bounds the bytes consumed by a single poll and the
	// length of an unterminated line held between polls.
	readBufferSize = 4096

	// DefaultPollInterval is the pause between two polls of the device.
	DefaultPollInterval = 100 * time.Millisecond

	// ConnectedMessage is the latest value right after the device opened.
	ConnectedMessage = "Connected, waiting for data..."
)

// UnreachableMessage is the latest value after the device failed to open.
func UnreachableMessage(device string) string {
	return fmt.Sprintf("Device error: %s not found (unreachable).", device)
}

// LostMessage is the latest value after reading from the device failed.
func LostMessage(device string) string {
	return fmt.Sprintf("Device error: connection to %s lost.", device)
}

// Line is one non-empty line received from the device.
type Line struct {
	// Value is the trimmed line text.
	Value string

	// ReceivedAt is when the loop processed the line.
	ReceivedAt time.Time

	// Measurement is the stored row; zero if storing failed.
	Measurement store.Measurement

	// StoreErr is the error returned by the gateway, if any.
	StoreErr error
}

// LoopConfig contains everything a [Loop] needs.
type LoopConfig struct {
	// Device is the name passed to Open.
	Device string

	// Open opens the device. Required.
	Open Opener

	// PollInterval is the pause between polls. Defaults to DefaultPollInterval.
	PollInterval time.Duration

	// Latest receives every line and status transition. Required.
	Latest *store.Latest

	// Gateway stores every line. Required.
	Gateway store.Gateway

	// Metrics is updated per poll. Required.
	Metrics *metrics.Metrics

	// OnLine is called after each line was stored (or failed to). Optional.
	OnLine func(Line)

	// Logger for loop events. Defaults to slog.Default().
	Logger *slog.Logger
}

// Loop polls a single device and fans its lines out to the latest value
// cell and the gateway.
//
// A Loop runs once: [Loop.Run] returns when the device cannot be opened,
// when a read fails, or when the context is cancelled.
type Loop struct {
	device       string
	open         Opener
	pollInterval time.Duration
	latest       *store.Latest
	gateway      store.Gateway
	metrics      *metrics.Metrics
	onLine       func(Line)
	logger       *slog.Logger

	// pending holds the bytes after the last newline seen.
	pending []byte
}

// NewLoop creates a [Loop] from cfg.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.Open == nil {
		return nil, errors.New("ingest: opener is required")
	}
	if cfg.Latest == nil || cfg.Gateway == nil || cfg.Metrics == nil {
		return nil, errors.New("ingest: latest, gateway and metrics are required")
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Loop{
		device:       cfg.Device,
		open:         cfg.Open,
		pollInterval: pollInterval,
		latest:       cfg.Latest,
		gateway:      cfg.Gateway,
		metrics:      cfg.Metrics,
		onLine:       cfg.OnLine,
		logger:       logger.With("device", cfg.Device),
	}, nil
}

// Run opens the device and polls it until a read fails or ctx is cancelled.
//
// Run blocks. It never returns an error: every failure is recorded in the
// latest value and logged. The port is closed before Run returns.
func (l *Loop) Run(ctx context.Context) {
	port, err := l.open(l.device)
	if err != nil {
		l.latest.Set(UnreachableMessage(l.device))
		l.logger.Warn("device unavailable, serving without live data", "error", err)
		return
	}

	// Close unblocks a pending Read once ctx is cancelled.
	var closeOnce sync.Once
	closePort := func() {
		closeOnce.Do(func() {
			if err := port.Close(); err != nil {
				l.logger.Warn("failed to close device", "error", err)
			}
		})
	}
	stop := context.AfterFunc(ctx, closePort)
	defer func() {
		stop()
		closePort()
	}()

	l.latest.Set(ConnectedMessage)
	l.metrics.DeviceUp.Set(1)
	defer l.metrics.DeviceUp.Set(0)
	l.logger.Info("device connected", "poll_interval", l.pollInterval.String())

	if err := l.poll(ctx, port); err != nil {
		l.latest.Set(LostMessage(l.device))
		l.logger.Error("ingest loop stopped", "error", err)
		return
	}
	l.logger.Info("ingest loop stopped")
}

// poll runs the read cycle. A panic anywhere in the cycle is recovered here
// and ends the loop with an error carrying a correlation ID.
func (l *Loop) poll(ctx context.Context, port Port) (err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()

			l.logger.Error("ingest loop panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("ingest loop panic (correlation_id: %s)", correlationID)
		}
	}()

	buf := make([]byte, readBufferSize)
	timer := time.NewTimer(l.pollInterval)
	defer timer.Stop()

	for {
		n, readErr := port.Read(buf)
		if ctx.Err() != nil {
			return nil
		}
		if n > 0 {
			l.process(ctx, buf[:n])
		}
		if readErr != nil {
			l.flush(ctx)
			return fmt.Errorf("failed to read from %s: %w", l.device, readErr)
		}
		if n == 0 {
			// device idle: nothing more is coming for the held tail
			l.flush(ctx)
		}

		timer.Reset(l.pollInterval)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}

// process appends one chunk of bytes to the pending tail and handles each
// complete non-empty line. A partial line stays pending for the next read.
func (l *Loop) process(ctx context.Context, chunk []byte) {
	l.pending = append(l.pending, chunk...)

	handled := 0
	for {
		i := bytes.IndexByte(l.pending, '\n')
		if i < 0 {
			break
		}
		if l.emit(ctx, l.pending[:i]) {
			handled++
		}
		l.pending = l.pending[i+1:]
	}
	l.pending = append([]byte(nil), l.pending...)

	if len(bytes.TrimSpace(l.pending)) == 0 {
		l.pending = nil
		if handled == 0 {
			l.metrics.ReadsDropped.Inc()
			l.logger.Debug("dropped whitespace-only read", "bytes", len(chunk))
		}
		return
	}
	if len(l.pending) >= readBufferSize {
		l.flush(ctx)
	}
}

// flush handles the pending tail as a line of its own.
func (l *Loop) flush(ctx context.Context) {
	if len(l.pending) == 0 {
		return
	}
	segment := l.pending
	l.pending = nil
	l.emit(ctx, segment)
}

// emit decodes and trims one segment and handles it if anything is left.
func (l *Loop) emit(ctx context.Context, segment []byte) bool {
	value := strings.TrimSpace(strings.ToValidUTF8(string(segment), "\uFFFD"))
	if value == "" {
		return false
	}
	l.handle(ctx, value)
	return true
}

// handle publishes a line, then stores it. Storage failures are logged and
// counted; they never stop the loop.
func (l *Loop) handle(ctx context.Context, value string) {
	line := Line{Value: value, ReceivedAt: time.Now()}

	l.latest.Set(value)
	l.metrics.LinesReceived.Inc()
	l.logger.Info("line received", "value", value)

	m, err := l.gateway.Insert(ctx, value)
	if err != nil {
		l.metrics.StorageErrors.WithLabelValues(metrics.OpInsert).Inc()
		line.StoreErr = err
		if errors.Is(err, store.ErrNotConnected) {
			l.logger.Debug("measurement not stored", "value", value, "error", err)
		} else {
			l.logger.Error("failed to store measurement", "value", value, "error", err)
		}
	} else {
		line.Measurement = m
	}

	if l.onLine != nil {
		l.onLine(line)
	}
}
