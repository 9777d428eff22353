package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled bool
	// BufferSize is the capacity of each lane.
	BufferSize int
	// DropIfFull makes Emit drop routine events instead of waiting when their lane is
	// full. Critical events always wait for the caller's context.
	DropIfFull bool
	// SinkTimeout bounds each Sink.Emit call; zero means no bound.
	SinkTimeout time.Duration
	// Overflow receives critical events that could not be queued, synchronously on the
	// caller's goroutine. Optional.
	Overflow Sink
}

// Dispatcher forwards events to a sink from one background goroutine. Critical events
// travel in their own lane and are delivered ahead of any routine backlog, so sinks may
// see them out of timestamp order. A nil *Dispatcher is valid and discards everything.
type Dispatcher struct {
	cfg      Config
	sink     Sink
	critical chan Event
	routine  chan Event
	stop     chan struct{}
	stopped  chan struct{}
	once     sync.Once
	closed   atomic.Bool
	dropped  [SeverityCritical + 1]atomic.Uint64
}

// NewDispatcher starts a dispatcher, or returns nil when cfg is disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:      cfg,
		sink:     sink,
		critical: make(chan Event, cfg.BufferSize),
		routine:  make(chan Event, cfg.BufferSize),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.stopped)

	for {
		select {
		case event := <-d.critical:
			d.deliver(event)
			continue
		default:
		}

		select {
		case event := <-d.critical:
			d.deliver(event)
		case event := <-d.routine:
			d.deliver(event)
		case <-d.stop:
			d.drain(d.critical)
			d.drain(d.routine)
			return
		}
	}
}

func (d *Dispatcher) drain(lane chan Event) {
	for {
		select {
		case event := <-lane:
			d.deliver(event)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	ctx := context.Background()
	if d.cfg.SinkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SinkTimeout)
		defer cancel()
	}
	d.sink.Emit(ctx, event)
}

// Emit queues event. A zero Timestamp is filled with the current time.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if event.Severity >= SeverityCritical {
		event.Severity = SeverityCritical
		select {
		case d.critical <- event:
		case <-d.stop:
		case <-ctx.Done():
			d.drop(ctx, event)
		}
		return
	}

	if d.cfg.DropIfFull {
		select {
		case d.routine <- event:
		case <-d.stop:
		default:
			d.drop(ctx, event)
		}
		return
	}
	select {
	case d.routine <- event:
	case <-d.stop:
	case <-ctx.Done():
		d.drop(ctx, event)
	}
}

func (d *Dispatcher) drop(ctx context.Context, event Event) {
	d.dropped[event.Severity].Add(1)
	if event.Severity == SeverityCritical && d.cfg.Overflow != nil {
		d.cfg.Overflow.Emit(context.WithoutCancel(ctx), event)
	}
}

// Close stops accepting events and waits for both lanes to drain.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		<-d.stopped
	})
}

// Dropped counts events of every severity lost to a full lane or a cancelled caller.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	var n uint64
	for i := range d.dropped {
		n += d.dropped[i].Load()
	}
	return n
}
