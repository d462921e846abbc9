// Package app assembles the negotiation system from configuration: the
// audit pipeline, the seat inventory, the authority and the customer
// coordinators sharing one bus.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/cinema-seat-negotiation/internal/audit"
	"github.com/iliyamo/cinema-seat-negotiation/internal/config"
	"github.com/iliyamo/cinema-seat-negotiation/internal/database"
	"github.com/iliyamo/cinema-seat-negotiation/internal/metrics"
	"github.com/iliyamo/cinema-seat-negotiation/internal/queue"
)

// AuditPipeline is the non-blocking audit logger handed to participants
// plus the resources behind its sinks.
type AuditPipeline struct {
	*audit.Async
	closers []io.Closer
}

// Close drains pending records and then releases the sinks.
func (p *AuditPipeline) Close() error {
	errs := []error{p.Async.Close()}
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = append(errs, p.closers[i].Close())
	}
	return errors.Join(errs...)
}

// OpenAudit opens every sink named in cfg.Audit.Sinks.  rdb may be nil
// unless the redis sink is selected.
func OpenAudit(ctx context.Context, cfg config.Config, rdb *redis.Client, log zerolog.Logger, m *metrics.Metrics) (*AuditPipeline, error) {
	p := &AuditPipeline{}
	var sinks audit.Multi
	fail := func(err error) (*AuditPipeline, error) {
		for _, c := range p.closers {
			_ = c.Close()
		}
		return nil, err
	}
	for _, name := range cfg.Audit.Sinks {
		switch name {
		case "csv":
			s, err := audit.OpenCSV(cfg.Audit.CSVPath)
			if err != nil {
				return fail(err)
			}
			p.closers = append(p.closers, s)
			sinks = append(sinks, s)
		case "amqp":
			pub := queue.NewPublisher(cfg.RabbitMQURL, cfg.Audit.Queue, queue.WithPublisherLogger(log))
			p.closers = append(p.closers, pub)
			sinks = append(sinks, pub)
		case "redis":
			if rdb == nil {
				return fail(errors.New("app: redis audit sink selected but redis is unreachable"))
			}
			sinks = append(sinks, audit.NewRedisStreamSink(rdb, cfg.Audit.RedisStream, cfg.Audit.RedisMaxLen))
		case "mysql":
			db, err := database.Open(ctx, cfg.DB)
			if err != nil {
				return fail(fmt.Errorf("app: mysql audit sink: %w", err))
			}
			p.closers = append(p.closers, db)
			s := audit.NewMySQLSink(db)
			if err := s.EnsureSchema(ctx); err != nil {
				return fail(fmt.Errorf("app: mysql audit schema: %w", err))
			}
			sinks = append(sinks, s)
		default:
			return fail(fmt.Errorf("app: unknown audit sink %q", name))
		}
	}
	var sink audit.Sink = sinks
	if len(sinks) == 1 {
		sink = sinks[0]
	}
	p.Async = audit.NewAsync(sink, cfg.Audit.Buffer,
		audit.WithLogger(log.With().Str("component", "audit").Logger()),
		audit.WithDropHook(m.AuditDropped.Inc))
	return p, nil
}
