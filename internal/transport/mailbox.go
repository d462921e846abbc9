// Package transport moves envelopes between participants of one process.
// Each participant owns a Mailbox; the Bus routes by receiver id.
// Delivery is reliable and FIFO per mailbox, so order is preserved for
// every sender→receiver pair.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/iliyamo/cinema-seat-negotiation/internal/message"
)

var (
	ErrMailboxClosed      = errors.New("mailbox closed")
	ErrUnknownParticipant = errors.New("unknown participant")
)

// Mailbox is an unbounded inbound queue.  Put never blocks; Receive
// suspends the caller until an envelope arrives, the mailbox is closed
// or ctx is done.
type Mailbox struct {
	owner string

	mu     sync.Mutex
	queue  []message.Envelope
	notify chan struct{}
	closed bool
}

func NewMailbox(owner string) *Mailbox {
	return &Mailbox{owner: owner, notify: make(chan struct{}, 1)}
}

func (m *Mailbox) Owner() string { return m.owner }

// Put appends env to the queue.
func (m *Mailbox) Put(env message.Envelope) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrMailboxClosed
	}
	m.queue = append(m.queue, env)
	m.mu.Unlock()
	m.signal()
	return nil
}

func (m *Mailbox) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// TryReceive pops the head of the queue without waiting.  ok is false
// when the queue is empty.
func (m *Mailbox) TryReceive() (env message.Envelope, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return message.Envelope{}, false
	}
	env = m.queue[0]
	m.queue[0] = message.Envelope{}
	m.queue = m.queue[1:]
	return env, true
}

// Ready returns a channel that receives a value after new envelopes have
// been queued.  Callers drain with TryReceive until it reports empty,
// then wait on Ready again.
func (m *Mailbox) Ready() <-chan struct{} { return m.notify }

// Receive blocks until an envelope is available.  Queued envelopes are
// still returned after Close; ErrMailboxClosed is returned once the
// queue is empty.
func (m *Mailbox) Receive(ctx context.Context) (message.Envelope, error) {
	for {
		if env, ok := m.TryReceive(); ok {
			return env, nil
		}
		if m.isClosed() {
			return message.Envelope{}, ErrMailboxClosed
		}
		select {
		case <-ctx.Done():
			return message.Envelope{}, ctx.Err()
		case <-m.notify:
		}
	}
}

func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Mailbox) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close rejects further Puts and wakes any waiting receiver.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.signal()
}
