// Command simulate runs an authority and several customers in one
// process, lets them race for seats and prints every outcome and the
// final seat map.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/iliyamo/cinema-seat-negotiation/internal/app"
	"github.com/iliyamo/cinema-seat-negotiation/internal/config"
	"github.com/iliyamo/cinema-seat-negotiation/internal/logging"
	"github.com/iliyamo/cinema-seat-negotiation/internal/metrics"
	"github.com/iliyamo/cinema-seat-negotiation/internal/model"
	"github.com/iliyamo/cinema-seat-negotiation/internal/negotiation"
)

type options struct {
	customers int
	requests  int
	class     string
	tickets   int
	seats     []string
	direct    bool
	title     string
	showTime  string
	layout    string
	deadline  time.Duration
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var o options
	flags := pflag.NewFlagSet("simulate", pflag.ContinueOnError)
	flags.IntVarP(&o.customers, "customers", "n", 3, "number of competing customers")
	flags.IntVarP(&o.requests, "requests", "r", 1, "bookings started by each customer")
	flags.StringVarP(&o.class, "class", "c", "VIP", "seat class to ask for (VIP, Regular, Economy)")
	flags.IntVarP(&o.tickets, "tickets", "t", 2, "seats per booking")
	flags.StringSliceVar(&o.seats, "seats", nil, "exact seats for direct booking, e.g. A1,A2")
	flags.BoolVar(&o.direct, "direct", false, "skip the info request and book seats directly")
	flags.StringVar(&o.title, "film", "Avengers: Endgame", "film title sent with info requests")
	flags.StringVar(&o.showTime, "time", "19:00", "show time")
	flags.StringVar(&o.layout, "layout", "", "YAML seat layout (default: built-in 12 seat layout)")
	flags.DurationVar(&o.deadline, "deadline", 2*time.Minute, "give up waiting for results after this long")
	if err := flags.Parse(args); err != nil {
		return o, err
	}
	if o.customers < 1 || o.requests < 1 {
		return o, fmt.Errorf("customers and requests must be at least 1")
	}
	if len(o.seats) > 0 {
		o.direct = true
	}
	return o, nil
}

func run(args []string, out io.Writer) error {
	o, err := parseFlags(args)
	if err != nil {
		return err
	}
	log := logging.ConfigureRuntime()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if o.layout != "" {
		cfg.Authority.LayoutFile = o.layout
	}
	class, err := model.ParseSeatClass(o.class)
	if err != nil {
		return err
	}
	layout, err := config.LoadLayout(cfg.Authority.LayoutFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := metrics.New(prometheus.NewRegistry())
	// The simulation runs without Redis, so the redis sink is not offered.
	pipeline, err := app.OpenAudit(ctx, cfg, nil, log, m)
	if err != nil {
		return err
	}
	defer func() { _ = pipeline.Close() }()

	sys, err := app.NewSystem(cfg, layout, app.Options{Audit: pipeline, Log: log, Metrics: m, Customers: o.customers})
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- sys.Run(ctx) }()

	req := negotiation.Request{Title: o.title, Date: "Today", Time: o.showTime, Class: class, Tickets: o.tickets, Seats: o.seats}
	var (
		mu      sync.Mutex
		results []negotiation.Result
		wg      sync.WaitGroup
	)
	for _, c := range sys.Coordinators {
		for range o.requests {
			start := c.StartNegotiation
			if o.direct {
				start = c.StartDirectBooking
			}
			h, err := start(ctx, req)
			if err != nil {
				return err
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				wctx, wcancel := context.WithTimeout(ctx, o.deadline)
				defer wcancel()
				res, err := h.Wait(wctx)
				if err != nil {
					res = negotiation.Result{ConversationID: h.ConversationID(), Message: err.Error()}
				}
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}()
		}
	}
	wg.Wait()
	cancel()
	if err := <-done; err != nil {
		return err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].ConversationID < results[j].ConversationID })
	report(out, results, sys)
	return nil
}

func report(out io.Writer, results []negotiation.Result, sys *app.System) {
	ok := 0
	fmt.Fprintln(out, "== negotiations")
	for _, r := range results {
		status := "FAILED "
		if r.Success {
			status = "BOOKED "
			ok++
		}
		fmt.Fprintf(out, "%s %-24s retries=%d", status, r.ConversationID, r.Retries)
		if r.Success {
			fmt.Fprintf(out, " txn=%s seats=%s", r.TransactionID, strings.Join(r.Seats, ","))
		} else {
			fmt.Fprintf(out, " reason=%s", r.Message)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "%d of %d booked\n\n", ok, len(results))

	fmt.Fprintln(out, "== seats")
	for _, s := range sys.Inventory.Seats() {
		state := "free"
		if !s.Available {
			state = "taken"
		}
		fmt.Fprintf(out, "%-4s %-8s %7d %s\n", s.ID, s.Class, s.Price, state)
	}
	st := sys.Inventory.Stats()
	fmt.Fprintf(out, "%d of %d seats available\n", st.Available, st.Total)
}
