package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/iliyamo/cinema-seat-negotiation/internal/audit"
)

// Publisher is an audit.Sink that publishes each record as a persistent
// JSON message to a durable queue.  The channel is opened lazily and
// re-opened after a failed publish.
type Publisher struct {
	url   string
	queue string
	dial  Dialer
	log   zerolog.Logger
	now   func() time.Time

	mu   sync.Mutex
	ch   Channel
	conn io.Closer
}

type PublisherOption func(*Publisher)

func WithDialer(d Dialer) PublisherOption { return func(p *Publisher) { p.dial = d } }

func WithPublisherLogger(l zerolog.Logger) PublisherOption {
	return func(p *Publisher) { p.log = l }
}

func NewPublisher(url, queue string, opts ...PublisherOption) *Publisher {
	if url == "" {
		url = DefaultURL
	}
	p := &Publisher{url: url, queue: queue, dial: DialAMQP, log: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ audit.Sink = (*Publisher)(nil)

func (p *Publisher) Write(ctx context.Context, r audit.Record) error {
	body, err := json.Marshal(EventFromRecord(r))
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		if err := p.connect(); err != nil {
			return err
		}
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		Timestamp:    p.now().UTC(),
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		pub,
	); err != nil {
		p.log.Warn().Err(err).Str("queue", p.queue).Msg("publish failed, dropping channel")
		p.reset()
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}
	return nil
}

func (p *Publisher) connect() error {
	ch, conn, err := p.dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq: dial: %w", err)
	}
	if err := declare(ch, p.queue); err != nil {
		_ = ch.Close()
		if conn != nil {
			_ = conn.Close()
		}
		return fmt.Errorf("rabbitmq: queue declare: %w", err)
	}
	p.ch, p.conn = ch, conn
	p.log.Info().Str("queue", p.queue).Msg("audit publisher connected")
	return nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}
