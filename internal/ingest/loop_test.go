package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jpalmerr/serialbridge/internal/metrics"
	"github.com/jpalmerr/serialbridge/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePort replays chunks, one per Read, then reports no data (or err).
type fakePort struct {
	mu     sync.Mutex
	chunks []string
	err    error
	closed bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, errors.New("port closed")
	}
	if len(p.chunks) > 0 {
		n := copy(b, p.chunks[0])
		p.chunks = p.chunks[1:]
		return n, nil
	}
	if p.err != nil {
		return 0, p.err
	}
	return 0, nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func openerFor(p *fakePort) Opener {
	return func(string) (Port, error) { return p, nil }
}

// memGateway records inserts in memory.
type memGateway struct {
	mu     sync.Mutex
	values []string
	err    error
	panics bool
}

func (g *memGateway) Insert(_ context.Context, value string) (store.Measurement, error) {
	if g.panics {
		panic("boom")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return store.Measurement{}, g.err
	}
	g.values = append(g.values, value)
	return store.Measurement{ID: int64(len(g.values)), Timestamp: time.Now().UTC(), Value: value}, nil
}

func (g *memGateway) All(context.Context) ([]store.Measurement, error) {
	return nil, nil
}

func (g *memGateway) Close() error { return nil }

func (g *memGateway) stored() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.values...)
}

func newTestLoop(t *testing.T, open Opener, gw store.Gateway, onLine func(Line)) (*Loop, *store.Latest, *metrics.Metrics) {
	t.Helper()

	latest := store.NewLatest()
	m := metrics.New()
	loop, err := NewLoop(LoopConfig{
		Device:       "COM6",
		Open:         open,
		PollInterval: 5 * time.Millisecond,
		Latest:       latest,
		Gateway:      gw,
		Metrics:      m,
		OnLine:       onLine,
		Logger:       testLogger(),
	})
	if err != nil {
		t.Fatalf("NewLoop() error = %v", err)
	}
	return loop, latest, m
}

// runLoop starts the loop and returns a channel closed when Run returns.
func runLoop(ctx context.Context, loop *Loop) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()
	return done
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestLoop_StoresNonEmptyLines(t *testing.T) {
	port := &fakePort{chunks: []string{"23.5\r\n", "   \r\n", "24.1"}}
	gw := &memGateway{}
	loop, latest, m := newTestLoop(t, openerFor(port), gw, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := runLoop(ctx, loop)

	waitFor(t, func() bool { return len(gw.stored()) == 2 })
	cancel()
	<-done

	got := gw.stored()
	if got[0] != "23.5" || got[1] != "24.1" {
		t.Errorf("stored = %v, want [23.5 24.1]", got)
	}
	if v := latest.Get(); v != "24.1" {
		t.Errorf("latest = %q, want %q", v, "24.1")
	}
	if n := testutil.ToFloat64(m.LinesReceived); n != 2 {
		t.Errorf("LinesReceived = %v, want 2", n)
	}
	if n := testutil.ToFloat64(m.ReadsDropped); n != 1 {
		t.Errorf("ReadsDropped = %v, want 1", n)
	}
}

func TestLoop_SplitsLinesWithinOneRead(t *testing.T) {
	port := &fakePort{chunks: []string{"VOLT:3.30\nVOLT:3.31\n\nVOLT:3.29\n"}}
	gw := &memGateway{}
	loop, latest, _ := newTestLoop(t, openerFor(port), gw, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := runLoop(ctx, loop)

	waitFor(t, func() bool { return len(gw.stored()) == 3 })
	cancel()
	<-done

	want := []string{"VOLT:3.30", "VOLT:3.31", "VOLT:3.29"}
	got := gw.stored()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stored[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if v := latest.Get(); v != "VOLT:3.29" {
		t.Errorf("latest = %q, want %q", v, "VOLT:3.29")
	}
}

func TestLoop_JoinsLineSplitAcrossReads(t *testing.T) {
	port := &fakePort{chunks: []string{"VOLT:3.2", "5\n"}}
	gw := &memGateway{}
	loop, latest, m := newTestLoop(t, openerFor(port), gw, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := runLoop(ctx, loop)

	waitFor(t, func() bool { return len(gw.stored()) == 1 })
	// a few idle polls must not produce a second row
	time.Sleep(25 * time.Millisecond)
	cancel()
	<-done

	got := gw.stored()
	if len(got) != 1 || got[0] != "VOLT:3.25" {
		t.Errorf("stored = %v, want [VOLT:3.25]", got)
	}
	if v := latest.Get(); v != "VOLT:3.25" {
		t.Errorf("latest = %q, want %q", v, "VOLT:3.25")
	}
	if n := testutil.ToFloat64(m.ReadsDropped); n != 0 {
		t.Errorf("ReadsDropped = %v, want 0", n)
	}
}

func TestLoop_JoinsRuneSplitAcrossReads(t *testing.T) {
	deg := "\u00b0" // two bytes in UTF-8
	port := &fakePort{chunks: []string{"21.0" + deg[:1], deg[1:] + "C\n"}}
	gw := &memGateway{}
	loop, _, _ := newTestLoop(t, openerFor(port), gw, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := runLoop(ctx, loop)

	waitFor(t, func() bool { return len(gw.stored()) == 1 })
	cancel()
	<-done

	if got := gw.stored()[0]; got != "21.0"+deg+"C" {
		t.Errorf("stored = %q, want %q", got, "21.0"+deg+"C")
	}
}

func TestLoop_FlushesTailOnReadFailure(t *testing.T) {
	port := &fakePort{chunks: []string{"VOLT:3.2"}, err: errors.New("device reports an I/O error")}
	gw := &memGateway{}
	loop, latest, _ := newTestLoop(t, openerFor(port), gw, nil)

	done := runLoop(context.Background(), loop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after read failure")
	}

	got := gw.stored()
	if len(got) != 1 || got[0] != "VOLT:3.2" {
		t.Errorf("stored = %v, want [VOLT:3.2]", got)
	}
	if v := latest.Get(); v != LostMessage("COM6") {
		t.Errorf("latest = %q, want %q", v, LostMessage("COM6"))
	}
}

func TestLoop_ConnectedMessage(t *testing.T) {
	port := &fakePort{}
	loop, latest, m := newTestLoop(t, openerFor(port), &memGateway{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := runLoop(ctx, loop)

	waitFor(t, func() bool { return latest.Get() == ConnectedMessage })
	if up := testutil.ToFloat64(m.DeviceUp); up != 1 {
		t.Errorf("DeviceUp = %v, want 1 while connected", up)
	}

	cancel()
	<-done

	if !port.isClosed() {
		t.Error("port should be closed after Run returns")
	}
	if up := testutil.ToFloat64(m.DeviceUp); up != 0 {
		t.Errorf("DeviceUp = %v, want 0 after stop", up)
	}
}

func TestLoop_OpenFailure(t *testing.T) {
	open := func(string) (Port, error) {
		return nil, errors.New("no such file or directory")
	}
	gw := &memGateway{}
	loop, latest, _ := newTestLoop(t, open, gw, nil)

	done := runLoop(context.Background(), loop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() should return immediately when the device cannot be opened")
	}

	v := latest.Get()
	if !strings.Contains(v, "not found") || !strings.Contains(v, "COM6") {
		t.Errorf("latest = %q, want unreachable message for COM6", v)
	}
	if v != UnreachableMessage("COM6") {
		t.Errorf("latest = %q, want %q", v, UnreachableMessage("COM6"))
	}
}

func TestLoop_ReadFailureEndsLoop(t *testing.T) {
	port := &fakePort{
		chunks: []string{"23.5\n"},
		err:    errors.New("device disconnected"),
	}
	gw := &memGateway{}
	loop, latest, _ := newTestLoop(t, openerFor(port), gw, nil)

	done := runLoop(context.Background(), loop)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after read failure")
	}

	if got := gw.stored(); len(got) != 1 || got[0] != "23.5" {
		t.Errorf("stored = %v, want [23.5]", got)
	}
	if v := latest.Get(); v != LostMessage("COM6") {
		t.Errorf("latest = %q, want %q", v, LostMessage("COM6"))
	}
	if !port.isClosed() {
		t.Error("port should be closed after read failure")
	}
}

func TestLoop_StorageFailureDoesNotStopLoop(t *testing.T) {
	port := &fakePort{chunks: []string{"23.5\n", "24.1\n"}}
	gw := &memGateway{err: errors.New("database is locked")}

	var mu sync.Mutex
	var lines []Line
	onLine := func(l Line) {
		mu.Lock()
		lines = append(lines, l)
		mu.Unlock()
	}
	loop, latest, m := newTestLoop(t, openerFor(port), gw, onLine)

	ctx, cancel := context.WithCancel(context.Background())
	done := runLoop(ctx, loop)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lines) == 2
	})
	cancel()
	<-done

	if v := latest.Get(); v != "24.1" {
		t.Errorf("latest = %q, want %q", v, "24.1")
	}
	if n := testutil.ToFloat64(m.StorageErrors.WithLabelValues(metrics.OpInsert)); n != 2 {
		t.Errorf("StorageErrors{insert} = %v, want 2", n)
	}
	for i, l := range lines {
		if l.StoreErr == nil {
			t.Errorf("lines[%d].StoreErr = nil, want error", i)
		}
	}
}

func TestLoop_DisconnectedGateway(t *testing.T) {
	port := &fakePort{chunks: []string{"23.5"}}

	var got Line
	received := make(chan struct{})
	onLine := func(l Line) {
		got = l
		close(received)
	}
	loop, latest, _ := newTestLoop(t, openerFor(port), store.Disconnected(), onLine)

	ctx, cancel := context.WithCancel(context.Background())
	done := runLoop(ctx, loop)

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("line handler was not called")
	}
	cancel()
	<-done

	if !errors.Is(got.StoreErr, store.ErrNotConnected) {
		t.Errorf("StoreErr = %v, want ErrNotConnected", got.StoreErr)
	}
	if v := latest.Get(); v != "23.5" {
		t.Errorf("latest = %q, want %q", v, "23.5")
	}
}

func TestLoop_PanicIsRecovered(t *testing.T) {
	port := &fakePort{chunks: []string{"23.5"}}
	loop, latest, _ := newTestLoop(t, openerFor(port), &memGateway{panics: true}, nil)

	done := runLoop(context.Background(), loop)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after panic")
	}

	if v := latest.Get(); v != LostMessage("COM6") {
		t.Errorf("latest = %q, want %q", v, LostMessage("COM6"))
	}
	if !port.isClosed() {
		t.Error("port should be closed after panic")
	}
}

func TestNewLoop_Validation(t *testing.T) {
	latest := store.NewLatest()
	m := metrics.New()
	open := openerFor(&fakePort{})

	tests := []struct {
		name string
		cfg  LoopConfig
	}{
		{"missing opener", LoopConfig{Latest: latest, Gateway: &memGateway{}, Metrics: m}},
		{"missing latest", LoopConfig{Open: open, Gateway: &memGateway{}, Metrics: m}},
		{"missing gateway", LoopConfig{Open: open, Latest: latest, Metrics: m}},
		{"missing metrics", LoopConfig{Open: open, Latest: latest, Gateway: &memGateway{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLoop(tt.cfg); err == nil {
				t.Error("NewLoop() expected error, got nil")
			}
		})
	}
}

func TestNewLoop_DefaultPollInterval(t *testing.T) {
	loop, err := NewLoop(LoopConfig{
		Open:    openerFor(&fakePort{}),
		Latest:  store.NewLatest(),
		Gateway: &memGateway{},
		Metrics: metrics.New(),
	})
	if err != nil {
		t.Fatalf("NewLoop() error = %v", err)
	}
	if loop.pollInterval != DefaultPollInterval {
		t.Errorf("pollInterval = %v, want %v", loop.pollInterval, DefaultPollInterval)
	}
}
