// Command server hosts the seat authority and a customer coordinator
// behind the HTTP caller API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/cinema-seat-negotiation/internal/app"
	"github.com/iliyamo/cinema-seat-negotiation/internal/config"
	"github.com/iliyamo/cinema-seat-negotiation/internal/handler"
	"github.com/iliyamo/cinema-seat-negotiation/internal/logging"
	"github.com/iliyamo/cinema-seat-negotiation/internal/metrics"
	"github.com/iliyamo/cinema-seat-negotiation/internal/middleware"
	"github.com/iliyamo/cinema-seat-negotiation/internal/router"
)

func main() {
	log := logging.ConfigureRuntime()
	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(log zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var rdb *redis.Client
	if cfg.RateLimit.Enabled || cfg.HasSink("redis") {
		if rdb = config.NewRedisClient(cfg.Redis); rdb == nil {
			log.Warn().Str("addr", cfg.Redis.Addr).Msg("redis unreachable, rate limiting disabled")
		} else {
			defer func() { _ = rdb.Close() }()
		}
	}

	pipeline, err := app.OpenAudit(ctx, cfg, rdb, log, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := pipeline.Close(); err != nil {
			log.Warn().Err(err).Msg("audit close")
		}
	}()

	layout, err := config.LoadLayout(cfg.Authority.LayoutFile)
	if err != nil {
		return err
	}
	sys, err := app.NewSystem(cfg, layout, app.Options{Audit: pipeline, Log: log, Metrics: m})
	if err != nil {
		return err
	}
	sysDone := make(chan error, 1)
	go func() { sysDone <- sys.Run(ctx) }()

	neg, err := handler.NewNegotiationHandler(sys.Coordinators[0], 0)
	if err != nil {
		return err
	}
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestLogger(log.With().Str("component", "http").Logger()))
	router.RegisterRoutes(e, reg)
	router.RegisterAPI(e, handler.NewSeatHandler(sys.Inventory, cfg.Authority.AlternativeLimit), neg, cfg.RateLimit, rdb, log)

	addr := ":" + cfg.Port
	log.Info().Str("addr", addr).Str("env", cfg.Env).Int("seats", sys.Inventory.Stats().Total).Msg("listening")
	srvErr := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case err := <-srvErr:
		stop()
		<-sysDone
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	return <-sysDone
}
