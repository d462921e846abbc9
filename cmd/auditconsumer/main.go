// Command auditconsumer drains the audit queue into the conversation CSV
// log.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/iliyamo/cinema-seat-negotiation/internal/audit"
	"github.com/iliyamo/cinema-seat-negotiation/internal/config"
	"github.com/iliyamo/cinema-seat-negotiation/internal/logging"
	"github.com/iliyamo/cinema-seat-negotiation/internal/queue"
)

func main() {
	log := logging.ConfigureRuntime()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	flags := pflag.NewFlagSet("auditconsumer", pflag.ExitOnError)
	csvPath := flags.String("csv", cfg.Audit.CSVPath, "CSV file records are appended to")
	queueName := flags.String("queue", cfg.Audit.Queue, "queue to consume")
	_ = flags.Parse(os.Args[1:])

	sink, err := audit.OpenCSV(*csvPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open csv")
	}
	defer func() { _ = sink.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("queue", *queueName).Str("csv", sink.Path()).Msg("audit consumer starting")
	c := queue.NewConsumer(cfg.RabbitMQURL, *queueName, sink,
		queue.WithConsumerLogger(log.With().Str("component", "audit-consumer").Logger()))
	if err := c.Run(ctx); err != nil {
		log.Error().Err(err).Msg("audit consumer stopped")
	}
}
