package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-negotiation/internal/audit"
	"github.com/iliyamo/cinema-seat-negotiation/internal/message"
)

func TestMailbox_FIFO(t *testing.T) {
	mb := NewMailbox("provider")
	for i := 0; i < 3; i++ {
		require.NoError(t, mb.Put(message.Envelope{Content: fmt.Sprint(i)}))
	}
	assert.Equal(t, 3, mb.Len())
	for i := 0; i < 3; i++ {
		env, ok := mb.TryReceive()
		require.True(t, ok)
		assert.Equal(t, fmt.Sprint(i), env.Content)
	}
	_, ok := mb.TryReceive()
	assert.False(t, ok)
}

func TestMailbox_ReceiveSuspendsUntilPut(t *testing.T) {
	mb := NewMailbox("provider")
	got := make(chan message.Envelope, 1)
	go func() {
		env, err := mb.Receive(context.Background())
		if err == nil {
			got <- env
		}
	}()

	select {
	case <-got:
		t.Fatal("receive returned before anything was queued")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, mb.Put(message.Envelope{Content: "hello"}))
	select {
	case env := <-got:
		assert.Equal(t, "hello", env.Content)
	case <-time.After(time.Second):
		t.Fatal("receive did not wake up")
	}
}

func TestMailbox_ReceiveHonoursContext(t *testing.T) {
	mb := NewMailbox("provider")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := mb.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMailbox_CloseDrainsThenFails(t *testing.T) {
	mb := NewMailbox("provider")
	require.NoError(t, mb.Put(message.Envelope{Content: "last"}))
	mb.Close()

	assert.ErrorIs(t, mb.Put(message.Envelope{}), ErrMailboxClosed)
	env, err := mb.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "last", env.Content)
	_, err = mb.Receive(context.Background())
	assert.ErrorIs(t, err, ErrMailboxClosed)
}

func TestBus_SendRoutesAndAudits(t *testing.T) {
	mem := audit.NewMemory()
	stamp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	bus := NewBus(WithAudit(mem), WithNow(func() time.Time { return stamp }))
	mb, err := bus.Register("provider")
	require.NoError(t, err)

	_, err = bus.Register("provider")
	assert.Error(t, err)

	env := message.Envelope{Sender: "customer", Receiver: "provider", Intent: message.Request, ConversationID: "c1", Content: "ALTERNATIVE:VIP"}
	require.NoError(t, bus.Send(context.Background(), env))

	got, ok := mb.TryReceive()
	require.True(t, ok)
	assert.Equal(t, stamp, got.SentAt)
	assert.Equal(t, "ALTERNATIVE:VIP", got.Content)

	recs := mem.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "REQUEST", recs[0].Intent)
	assert.Equal(t, "c1", recs[0].ConversationID)
}

func TestBus_UnknownAndUnregistered(t *testing.T) {
	bus := NewBus()
	err := bus.Send(context.Background(), message.Envelope{Receiver: "nobody"})
	assert.True(t, errors.Is(err, ErrUnknownParticipant))

	_, err = bus.Register("provider")
	require.NoError(t, err)
	bus.Unregister("provider")
	err = bus.Send(context.Background(), message.Envelope{Receiver: "provider"})
	assert.ErrorIs(t, err, ErrUnknownParticipant)
}

func TestBus_PerSenderOrderUnderConcurrency(t *testing.T) {
	bus := NewBus()
	mb, err := bus.Register("provider")
	require.NoError(t, err)

	const senders, perSender = 4, 50
	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				_ = bus.Send(context.Background(), message.Envelope{
					Sender: fmt.Sprintf("c%d", s), Receiver: "provider", Content: fmt.Sprint(i),
				})
			}
		}(s)
	}
	wg.Wait()

	next := map[string]int{}
	for {
		env, ok := mb.TryReceive()
		if !ok {
			break
		}
		assert.Equal(t, fmt.Sprint(next[env.Sender]), env.Content)
		next[env.Sender]++
	}
	for s := 0; s < senders; s++ {
		assert.Equal(t, perSender, next[fmt.Sprintf("c%d", s)])
	}
}
