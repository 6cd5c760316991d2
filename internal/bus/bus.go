// Package bus implements the process-wide agent event bus: a bounded
// broadcast to subscribers plus observer fan-out on dedicated goroutines.
// Publishing is non-blocking and never fails the caller; slow consumers
// lose their oldest events rather than throttling prompt execution.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joescharf/qmt/internal/models"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 256

// Observer consumes events on a dedicated goroutine. An observer error is
// logged and does not affect other observers.
type Observer func(ctx context.Context, ev models.AgentEvent) error

// Bus stamps every published event with a process-wide monotonic sequence
// and the current UTC time, then fans it out.
type Bus struct {
	logger  *slog.Logger
	bufSize int

	seq atomic.Uint64

	mu      sync.Mutex
	subs    map[int]chan models.AgentEvent
	nextSub int
	workers []*observerWorker
	closed  bool

	cancel context.CancelFunc
	ctx    context.Context
	wg     sync.WaitGroup
}

// New creates a bus with the given subscriber buffer size (0 means
// DefaultBufferSize).
func New(logger *slog.Logger, bufSize int) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		logger:  logger,
		bufSize: bufSize,
		subs:    make(map[int]chan models.AgentEvent),
		ctx:     ctx,
		cancel:  cancel,
	}
}

type observerWorker struct {
	queue chan models.AgentEvent
}

// Publish stamps and delivers the event. It never blocks: a full subscriber
// or observer queue drops its oldest event first. After Shutdown, Publish is
// a no-op. The stamped event is returned for callers that need the seq.
//
// Stamping happens under the same lock as delivery so subscribers observe
// seq values in stamped order even when publishers race.
func (b *Bus) Publish(ev models.AgentEvent) models.AgentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev.Seq = b.seq.Add(1)
	ev.Timestamp = time.Now().UTC()
	if b.closed {
		return ev
	}
	for _, ch := range b.subs {
		sendDropOldest(ch, ev)
	}
	for _, w := range b.workers {
		sendDropOldest(w.queue, ev)
	}
	return ev
}

// sendDropOldest delivers ev to ch without blocking, evicting the oldest
// queued event if the channel is full.
func sendDropOldest(ch chan models.AgentEvent, ev models.AgentEvent) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribe returns a bounded receiver and a cancel function that removes
// the subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan models.AgentEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan models.AgentEvent, b.bufSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// RegisterObserver starts a dedicated goroutine feeding the observer from
// its own bounded queue. Must be called before Shutdown.
func (b *Bus) RegisterObserver(name string, fn Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	w := &observerWorker{queue: make(chan models.AgentEvent, b.bufSize)}
	b.workers = append(b.workers, w)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.ctx.Done():
				return
			case ev := <-w.queue:
				b.runObserver(name, fn, ev)
			}
		}
	}()
}

func (b *Bus) runObserver(name string, fn Observer, ev models.AgentEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event observer panicked", "observer", name, "panic", r)
		}
	}()
	if err := fn(b.ctx, ev); err != nil {
		b.logger.Error("event observer failed", "observer", name, "kind", ev.Kind, "error", err)
	}
}

// Seq returns the last stamped sequence number.
func (b *Bus) Seq() uint64 { return b.seq.Load() }

// Shutdown aborts observer goroutines and closes all subscriber channels.
// Subsequent publishes are no-ops.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
}
