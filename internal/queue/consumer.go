package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/iliyamo/cinema-seat-negotiation/internal/audit"
)

const maxBackoff = 30 * time.Second

// Consumer drains the audit queue into a sink.  Run keeps reconnecting
// with exponential backoff until its context is cancelled.
type Consumer struct {
	url   string
	queue string
	sink  audit.Sink
	dial  Dialer
	log   zerolog.Logger
	clock clockwork.Clock
}

type ConsumerOption func(*Consumer)

func WithConsumerDialer(d Dialer) ConsumerOption {
	return func(c *Consumer) { c.dial = d }
}

func WithConsumerLogger(l zerolog.Logger) ConsumerOption {
	return func(c *Consumer) { c.log = l }
}

// WithConsumerClock drives the reconnect backoff.
func WithConsumerClock(clk clockwork.Clock) ConsumerOption {
	return func(c *Consumer) { c.clock = clk }
}

func NewConsumer(url, queue string, sink audit.Sink, opts ...ConsumerOption) *Consumer {
	if url == "" {
		url = DefaultURL
	}
	c := &Consumer{
		url:   url,
		queue: queue,
		sink:  sink,
		dial:  DialAMQP,
		log:   zerolog.Nop(),
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run returns nil once ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		ch, conn, err := c.dial(c.url)
		if err != nil {
			c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("failed to dial broker")
			if !c.sleep(ctx, backoff) {
				return nil
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = c.consumeLoop(ctx, ch)
		_ = ch.Close()
		if conn != nil {
			_ = conn.Close()
		}
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn().Err(err).Msg("consume loop ended, reconnecting")
		if !c.sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (c *Consumer) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.clock.After(d):
		return true
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, ch Channel) error {
	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn().Err(err).Msg("set QoS failed")
	}
	if err := declare(ch, c.queue); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.log.Info().Str("queue", c.queue).Msg("consuming audit records")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.deliver(ctx, d)
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery) {
	if err := c.handleMessage(ctx, d.Body); err != nil {
		c.log.Error().Err(err).Msg("handle message failed")
		_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
		return
	}
	_ = d.Ack(false)
}

func (c *Consumer) handleMessage(ctx context.Context, body []byte) error {
	var ev AuditEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.ConversationID == "" && ev.Intent == "" {
		return errors.New("empty audit event")
	}
	if err := c.sink.Write(ctx, ev.Record()); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}
