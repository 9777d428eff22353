package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, Event) { s.count.Add(1) }

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink { return &gateSink{gate: make(chan struct{})} }

func (s *gateSink) Emit(context.Context, Event) { <-s.gate }

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	if d := NewDispatcher(Config{Enabled: false}, &countingSink{}); d != nil {
		t.Fatalf("disabled config must return nil dispatcher")
	}
	var d *Dispatcher
	d.Emit(context.Background(), Event{EventType: "e"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatalf("nil dispatcher reports drops")
	}
}

func TestDispatcherDeliversOnClose(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "e"})
	}
	d.Close()
	if got := sink.count.Load(); got != 10 {
		t.Fatalf("delivered %d, want 10", got)
	}
}

func TestBufferFullDropIfFullDoesNotBlock(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Emit(context.Background(), Event{EventType: "e2"})

	start := time.Now()
	d.Emit(context.Background(), Event{EventType: "e3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit when DropIfFull is true")
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped counter to increment when queue is full")
	}
}

func TestBufferFullBlocksUntilSpace(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Emit(context.Background(), Event{EventType: "e2"})

	done := make(chan struct{})
	go func() {
		d.Emit(context.Background(), Event{EventType: "e3"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected emit to block while buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected blocked emit to proceed after space is available")
	}
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{
		Timestamp: time.Now().UTC(),
		EventType: "refresh_reuse_detected",
		Severity:  SeverityCritical,
		UserID:    "u1",
		IP:        "127.0.0.1",
	})

	line := strings.TrimSpace(buf.String())
	var decoded map[string]any
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if decoded["severity"] != "critical" || decoded["user_id"] != "u1" {
		t.Fatalf("unexpected line %s", line)
	}
}

func TestSlogSinkLevels(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewSlogSink(logger)

	sink.Emit(context.Background(), Event{EventType: "login_success", Success: true, UserID: "u1"})
	sink.Emit(context.Background(), Event{EventType: "refresh_reuse_detected", Severity: SeverityCritical, Metadata: map[string]string{"revoked": "3"}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 records, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"level":"INFO"`) || !strings.Contains(lines[0], `"user_id":"u1"`) {
		t.Fatalf("unexpected first record %s", lines[0])
	}
	if !strings.Contains(lines[1], `"level":"ERROR"`) || !strings.Contains(lines[1], `"meta.revoked":"3"`) {
		t.Fatalf("unexpected second record %s", lines[1])
	}
}

func TestCloseIdempotentAndEmitAfterCloseSafe(t *testing.T) {
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4, DropIfFull: true}, &countingSink{})
	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Close()
	d.Close()
	d.Emit(context.Background(), Event{EventType: "e2"})
}

type orderSink struct {
	gate chan struct{}
	mu   sync.Mutex
	seen []string
}

func (s *orderSink) Emit(_ context.Context, event Event) {
	<-s.gate
	s.mu.Lock()
	s.seen = append(s.seen, event.EventType)
	s.mu.Unlock()
}

func (s *orderSink) order() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Emit(_ context.Context, event Event) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func TestCriticalEventsJumpRoutineBacklog(t *testing.T) {
	sink := &orderSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)
	ctx := context.Background()

	// Hold the worker inside the first delivery.
	d.Emit(ctx, Event{EventType: "first"})
	deadline := time.Now().Add(2 * time.Second)
	for len(d.routine) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker never picked up the first event")
		}
		time.Sleep(time.Millisecond)
	}
	d.Emit(ctx, Event{EventType: "r1"})
	d.Emit(ctx, Event{EventType: "r2"})
	d.Emit(ctx, Event{EventType: "reuse", Severity: SeverityCritical})

	close(sink.gate)
	d.Close()

	got := strings.Join(sink.order(), ",")
	if got != "first,reuse,r1,r2" {
		t.Fatalf("delivery order = %s", got)
	}
}

func TestDropIfFullNeverDropsCritical(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()
	ctx := context.Background()

	d.Emit(ctx, Event{EventType: "e1"})
	d.Emit(ctx, Event{EventType: "e2"})
	d.Emit(ctx, Event{EventType: "e3"})
	routineDrops := d.Dropped()
	if routineDrops == 0 {
		t.Fatal("expected routine drops with a full lane")
	}

	d.Emit(ctx, Event{EventType: "reuse", Severity: SeverityCritical})
	if got := d.dropped[SeverityCritical].Load(); got != 0 {
		t.Fatalf("critical drops = %d, want 0", got)
	}
	if d.Dropped() != routineDrops {
		t.Fatalf("critical event counted as dropped")
	}
}

func TestCriticalOverflowReachesFallback(t *testing.T) {
	sink := newGateSink()
	overflow := &captureSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, Overflow: overflow}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	// One event held by the worker, one filling the critical lane.
	d.Emit(context.Background(), Event{EventType: "c0", Severity: SeverityCritical})
	d.Emit(context.Background(), Event{EventType: "c1", Severity: SeverityCritical})

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	d.Emit(cancelled, Event{EventType: "c2", Severity: SeverityCritical, UserID: "u1"})

	if got := d.dropped[SeverityCritical].Load(); got != 1 {
		t.Fatalf("critical drops = %d, want 1", got)
	}
	overflow.mu.Lock()
	defer overflow.mu.Unlock()
	if len(overflow.events) != 1 || overflow.events[0].EventType != "c2" || overflow.events[0].Timestamp.IsZero() {
		t.Fatalf("overflow got %+v", overflow.events)
	}
}
