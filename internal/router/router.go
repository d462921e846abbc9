// Package router defines how HTTP routes are registered for the API.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/cinema-seat-negotiation/internal/config"
	"github.com/iliyamo/cinema-seat-negotiation/internal/handler"
	"github.com/iliyamo/cinema-seat-negotiation/internal/middleware"
)

// RegisterRoutes registers the unversioned operational endpoints: the
// health check and the Prometheus scrape endpoint for gatherer.
func RegisterRoutes(e *echo.Echo, gatherer prometheus.Gatherer) {
	e.GET("/healthz", handler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// RegisterAPI registers the /v1 seat and negotiation endpoints.  When
// rdb is non-nil the group is guarded by the token-bucket limiter.
func RegisterAPI(e *echo.Echo, seats *handler.SeatHandler, neg *handler.NegotiationHandler, rl config.RateLimitConfig, rdb *redis.Client, log zerolog.Logger) {
	g := e.Group("/v1")
	if rdb != nil {
		g.Use(middleware.NewTokenBucket(rl, rdb, middleware.WithRateLimitLogger(log)))
	}

	g.GET("/seats", seats.ListSeats)
	g.GET("/seats/alternatives", seats.Alternatives)
	g.GET("/transactions", seats.Transactions)

	g.POST("/negotiations", neg.StartNegotiation)
	g.POST("/bookings", neg.StartBooking)
	g.GET("/negotiations/:id", neg.GetNegotiation)
}
