package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/iliyamo/cinema-seat-negotiation/internal/audit"
	"github.com/iliyamo/cinema-seat-negotiation/internal/authority"
	"github.com/iliyamo/cinema-seat-negotiation/internal/config"
	"github.com/iliyamo/cinema-seat-negotiation/internal/inventory"
	"github.com/iliyamo/cinema-seat-negotiation/internal/metrics"
	"github.com/iliyamo/cinema-seat-negotiation/internal/negotiation"
	"github.com/iliyamo/cinema-seat-negotiation/internal/transport"
)

// System is one authority and its customers on a shared bus.
type System struct {
	Bus          *transport.Bus
	Inventory    *inventory.Inventory
	Authority    *authority.Authority
	Coordinators []*negotiation.Coordinator
}

// Options carries the process-wide collaborators.
type Options struct {
	Audit     audit.Logger
	Log       zerolog.Logger
	Metrics   *metrics.Metrics
	Customers int // coordinators to create; at least one
	OnResult  func(negotiation.Result)
}

// NewSystem builds the inventory from layout and registers every
// participant.  Customers are named customer, customer_2, customer_3...
func NewSystem(cfg config.Config, layout []inventory.SeatSpec, opts Options) (*System, error) {
	if opts.Audit == nil {
		opts.Audit = audit.Nop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewUnregistered()
	}
	if opts.Customers < 1 {
		opts.Customers = 1
	}
	bus := transport.NewBus(transport.WithAudit(opts.Audit))
	inv, err := inventory.New(layout,
		inventory.WithLogger(opts.Log.With().Str("component", "inventory").Logger()),
		inventory.WithMetrics(opts.Metrics))
	if err != nil {
		return nil, fmt.Errorf("app: inventory: %w", err)
	}
	mb, err := bus.Register(authority.DefaultID)
	if err != nil {
		return nil, err
	}
	auth, err := authority.New(inv, mb, bus,
		authority.WithAudit(opts.Audit),
		authority.WithLogger(opts.Log),
		authority.WithMetrics(opts.Metrics),
		authority.WithAlternativeLimit(cfg.Authority.AlternativeLimit),
		authority.WithReplyCacheSize(cfg.Authority.ReplyCacheSize),
		authority.WithSelfCheckInterval(cfg.Authority.SelfCheckInterval))
	if err != nil {
		return nil, err
	}
	s := &System{Bus: bus, Inventory: inv, Authority: auth}
	for i := 1; i <= opts.Customers; i++ {
		id := negotiation.DefaultID
		if i > 1 {
			id = fmt.Sprintf("%s_%d", negotiation.DefaultID, i)
		}
		cmb, err := bus.Register(id)
		if err != nil {
			return nil, err
		}
		copts := []negotiation.Option{
			negotiation.WithAuthority(auth.ID()),
			negotiation.WithAudit(opts.Audit),
			negotiation.WithLogger(opts.Log),
			negotiation.WithMetrics(opts.Metrics),
			negotiation.WithTimeout(cfg.Negotiation.Timeout),
			negotiation.WithRetryDelay(cfg.Negotiation.RetryDelay),
			negotiation.WithMaxRetries(cfg.Negotiation.MaxRetries),
		}
		if opts.OnResult != nil {
			copts = append(copts, negotiation.WithResultCallback(opts.OnResult))
		}
		c, err := negotiation.New(cmb, bus, copts...)
		if err != nil {
			return nil, err
		}
		s.Coordinators = append(s.Coordinators, c)
	}
	return s, nil
}

// Run drives every participant until ctx is done.
func (s *System) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, len(s.Coordinators)+1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = s.Authority.Run(ctx)
	}()
	for i, c := range s.Coordinators {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i+1] = c.Run(ctx)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
