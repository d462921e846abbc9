package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-negotiation/internal/audit"
)

type fakeChannel struct {
	mu         sync.Mutex
	declared   []string
	published  []amqp.Publishing
	keys       []string
	publishErr error
	deliveries chan amqp.Delivery
	closed     bool
}

func (f *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !durable {
		return amqp.Queue{}, errors.New("queue must be durable")
	}
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Qos(int, int, bool) error { return nil }

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func dialerFor(chs ...*fakeChannel) (Dialer, *int) {
	calls := 0
	return func(string) (Channel, io.Closer, error) {
		calls++
		if calls > len(chs) {
			return nil, nil, errors.New("broker down")
		}
		return chs[calls-1], nil, nil
	}, &calls
}

type acker struct {
	mu     sync.Mutex
	acks   int
	nacks  int
	notify chan struct{}
}

func newAcker() *acker { return &acker{notify: make(chan struct{}, 16)} }

func (a *acker) Ack(uint64, bool) error {
	a.mu.Lock()
	a.acks++
	a.mu.Unlock()
	a.notify <- struct{}{}
	return nil
}

func (a *acker) Nack(uint64, bool, bool) error {
	a.mu.Lock()
	a.nacks++
	a.mu.Unlock()
	a.notify <- struct{}{}
	return nil
}

func (a *acker) Reject(uint64, bool) error { return a.Nack(0, false, false) }

func sampleRecord() audit.Record {
	return audit.Record{
		Timestamp:      time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC),
		Sender:         "customer",
		Receiver:       "provider",
		Intent:         "REQUEST",
		ConversationID: "customer_booking_1",
		Content:        "BOOKING:Time=19:00,Seats=A1,Class=VIP",
		Level:          audit.LevelInfo,
	}
}

func TestAuditEvent_RoundTrip(t *testing.T) {
	r := sampleRecord()
	assert.Equal(t, r, EventFromRecord(r).Record())
}

func TestPublisher_PublishesPersistentJSON(t *testing.T) {
	ch := &fakeChannel{}
	dial, calls := dialerFor(ch)
	p := NewPublisher("", "negotiation.audit", WithDialer(dial))

	require.NoError(t, p.Write(context.Background(), sampleRecord()))
	require.NoError(t, p.Write(context.Background(), sampleRecord()))

	assert.Equal(t, 1, *calls)
	assert.Equal(t, []string{"negotiation.audit"}, ch.declared)
	require.Len(t, ch.published, 2)
	msg := ch.published[0]
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, "negotiation.audit", ch.keys[0])

	var ev AuditEvent
	require.NoError(t, json.Unmarshal(msg.Body, &ev))
	assert.Equal(t, "customer_booking_1", ev.ConversationID)
	assert.Equal(t, "INFO", ev.Level)
}

func TestPublisher_ReconnectsAfterFailure(t *testing.T) {
	bad := &fakeChannel{publishErr: errors.New("channel closed")}
	good := &fakeChannel{}
	dial, calls := dialerFor(bad, good)
	p := NewPublisher("amqp://broker", "q", WithDialer(dial))

	assert.Error(t, p.Write(context.Background(), sampleRecord()))
	assert.True(t, bad.closed)
	require.NoError(t, p.Write(context.Background(), sampleRecord()))
	assert.Equal(t, 2, *calls)
	assert.Len(t, good.published, 1)
	require.NoError(t, p.Close())
	assert.True(t, good.closed)
}

func TestPublisher_DialFailure(t *testing.T) {
	dial, _ := dialerFor()
	p := NewPublisher("", "q", WithDialer(dial))
	assert.ErrorContains(t, p.Write(context.Background(), sampleRecord()), "broker down")
}

func TestConsumer_AcksGoodAndRejectsBad(t *testing.T) {
	sink := audit.NewMemory()
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery, 4)}
	dial, _ := dialerFor(ch)
	c := NewConsumer("", "negotiation.audit", sink, WithConsumerDialer(dial))

	ack := newAcker()
	body, err := json.Marshal(EventFromRecord(sampleRecord()))
	require.NoError(t, err)
	ch.deliveries <- amqp.Delivery{Acknowledger: ack, Body: body}
	ch.deliveries <- amqp.Delivery{Acknowledger: ack, Body: []byte("{not json")}
	ch.deliveries <- amqp.Delivery{Acknowledger: ack, Body: []byte("{}")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	for range 3 {
		select {
		case <-ack.notify:
		case <-time.After(2 * time.Second):
			t.Fatal("delivery not settled")
		}
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 1, ack.acks)
	assert.Equal(t, 2, ack.nacks)
	require.Len(t, sink.Records(), 1)
	assert.Equal(t, sampleRecord(), sink.Records()[0])
	assert.True(t, ch.closed)
}

func TestConsumer_BacksOffWhileBrokerIsDown(t *testing.T) {
	clk := clockwork.NewFakeClock()
	dial, calls := dialerFor()
	c := NewConsumer("", "q", audit.NewMemory(), WithConsumerDialer(dial), WithConsumerClock(clk))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	clk.BlockUntil(1)
	clk.Advance(time.Second)
	clk.BlockUntil(1)
	clk.Advance(2 * time.Second)
	clk.BlockUntil(1)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 3, *calls)
}
