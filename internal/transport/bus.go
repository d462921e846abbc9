package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iliyamo/cinema-seat-negotiation/internal/audit"
	"github.com/iliyamo/cinema-seat-negotiation/internal/message"
)

// Sender is what participants need to emit envelopes.
type Sender interface {
	Send(ctx context.Context, env message.Envelope) error
}

// Bus is the in-process router between registered mailboxes.
type Bus struct {
	mu        sync.RWMutex
	mailboxes map[string]*Mailbox
	audit     audit.Logger
	now       func() time.Time
}

type BusOption func(*Bus)

// WithAudit records every successful send.
func WithAudit(l audit.Logger) BusOption {
	return func(b *Bus) { b.audit = l }
}

// WithNow overrides the clock used to stamp SentAt.
func WithNow(now func() time.Time) BusOption {
	return func(b *Bus) { b.now = now }
}

func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		mailboxes: make(map[string]*Mailbox),
		audit:     audit.Nop{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register creates the mailbox for id.
func (b *Bus) Register(id string) (*Mailbox, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.mailboxes[id]; ok {
		return nil, fmt.Errorf("participant %q already registered", id)
	}
	mb := NewMailbox(id)
	b.mailboxes[id] = mb
	return mb, nil
}

// Unregister closes and removes the mailbox for id.
func (b *Bus) Unregister(id string) {
	b.mu.Lock()
	mb, ok := b.mailboxes[id]
	delete(b.mailboxes, id)
	b.mu.Unlock()
	if ok {
		mb.Close()
	}
}

func (b *Bus) Send(ctx context.Context, env message.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	mb, ok := b.mailboxes[env.Receiver]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("send to %q: %w", env.Receiver, ErrUnknownParticipant)
	}
	if env.SentAt.IsZero() {
		env.SentAt = b.now()
	}
	if err := mb.Put(env); err != nil {
		return fmt.Errorf("send to %q: %w", env.Receiver, err)
	}
	b.audit.Log(audit.Record{
		Timestamp:      env.SentAt,
		Sender:         env.Sender,
		Receiver:       env.Receiver,
		Intent:         env.Intent.String(),
		ConversationID: env.ConversationID,
		Content:        env.Content,
		Level:          audit.LevelInfo,
	})
	return nil
}
