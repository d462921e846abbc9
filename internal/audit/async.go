package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const writeTimeout = 5 * time.Second

// Async decouples callers from a Sink.  Log enqueues into a bounded
// buffer and returns immediately; when the buffer is full the record is
// dropped and counted.  A single goroutine drains the buffer in order.
type Async struct {
	sink    Sink
	ch      chan Record
	done    chan struct{}
	log     zerolog.Logger
	onDrop  func()
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

type AsyncOption func(*Async)

// WithLogger sets the logger used to report sink errors.
func WithLogger(l zerolog.Logger) AsyncOption {
	return func(a *Async) { a.log = l }
}

// WithDropHook registers a callback invoked for every dropped record.
func WithDropHook(f func()) AsyncOption {
	return func(a *Async) { a.onDrop = f }
}

// NewAsync starts the writer goroutine.  buffer <= 0 selects 256.
func NewAsync(sink Sink, buffer int, opts ...AsyncOption) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	a := &Async{
		sink: sink,
		ch:   make(chan Record, buffer),
		done: make(chan struct{}),
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.run()
	return a
}

func (a *Async) Log(r Record) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.drop()
		return
	}
	select {
	case a.ch <- r:
	default:
		a.drop()
	}
}

func (a *Async) drop() {
	a.dropped.Add(1)
	if a.onDrop != nil {
		a.onDrop()
	}
}

// Dropped reports how many records were discarded.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }

// Close stops accepting records and waits until the buffer is drained.
func (a *Async) Close() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()
	<-a.done
	return nil
}

func (a *Async) run() {
	defer close(a.done)
	for r := range a.ch {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := a.sink.Write(ctx, r); err != nil {
			a.log.Warn().Err(err).Str("conversation_id", r.ConversationID).Msg("audit write failed")
		}
		cancel()
	}
}
