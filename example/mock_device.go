package main

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"
)

// simulatedDevice stands in for a battery monitor that prints one
// "VOLT:<volts>" line per interval, the way the firmware does over USB.
type simulatedDevice struct {
	mu       sync.Mutex
	interval time.Duration
	volts    float64
	next     time.Time
	closed   bool
}

// OpenSimulatedDevice is a serialbridge.PortOpener for a device that
// reports a slowly drifting voltage.
func OpenSimulatedDevice(name string) (io.ReadCloser, error) {
	return &simulatedDevice{
		interval: 500 * time.Millisecond,
		volts:    3.30,
		next:     time.Now(),
	}, nil
}

// Read returns the next line once it is due and (0, nil) otherwise, like a
// serial port with a short read timeout.
func (d *simulatedDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, errors.New("simulated device closed")
	}
	now := time.Now()
	if now.Before(d.next) {
		return 0, nil
	}
	d.next = now.Add(d.interval)

	// drift within the range of a single Li-ion cell under light load
	d.volts += (rand.Float64() - 0.5) * 0.04
	d.volts = min(max(d.volts, 3.00), 4.20)

	return copy(p, fmt.Sprintf("VOLT:%.2f\n", d.volts)), nil
}

func (d *simulatedDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
