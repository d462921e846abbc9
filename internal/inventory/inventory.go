// Package inventory is the single owner of seat state.  Reads share a
// read lock; bookings validate optimistically under the read lock and
// commit under the exclusive lock after validating again, so no reader
// or competing booker ever sees a partially booked set.
package inventory

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/iliyamo/cinema-seat-negotiation/internal/metrics"
	"github.com/iliyamo/cinema-seat-negotiation/internal/model"
)

// DefaultAlternativeLimit caps SuggestAlternatives when no limit is given.
const DefaultAlternativeLimit = 5

type Outcome int

const (
	Booked Outcome = iota + 1
	Contention
)

func (o Outcome) String() string {
	switch o {
	case Booked:
		return "booked"
	case Contention:
		return "contention"
	}
	return "unknown"
}

// BookResult is the non-error result of Book.  Transaction is set when
// Outcome is Booked; Unavailable lists the taken seats on Contention.
type BookResult struct {
	Outcome     Outcome
	Transaction model.BookingTransaction
	Unavailable []string
}

// Availability answers Query.
type Availability struct {
	Class model.SeatClass
	Seats []model.Seat
	Count int
}

// Stats is the result of a self-check.
type Stats struct {
	Available int
	Total     int
	ByClass   map[model.SeatClass]int
}

type Inventory struct {
	mu     sync.RWMutex
	seats  map[string]*model.Seat
	order  []string
	ledger []model.BookingTransaction
	byConv map[convKey]int
	txnSeq int

	clock   clockwork.Clock
	log     zerolog.Logger
	metrics *metrics.Metrics
}

type Option func(*Inventory)

func WithClock(c clockwork.Clock) Option { return func(i *Inventory) { i.clock = c } }

func WithLogger(l zerolog.Logger) Option { return func(i *Inventory) { i.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(i *Inventory) { i.metrics = m } }

// New builds an inventory where every seat of layout is available.
func New(layout []SeatSpec, opts ...Option) (*Inventory, error) {
	if err := ValidateLayout(layout); err != nil {
		return nil, fmt.Errorf("invalid layout: %w", err)
	}
	inv := &Inventory{
		seats:  make(map[string]*model.Seat, len(layout)),
		order:  make([]string, 0, len(layout)),
		byConv: make(map[convKey]int),
		clock:  clockwork.NewRealClock(),
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	if inv.metrics == nil {
		inv.metrics = metrics.NewUnregistered()
	}
	now := inv.clock.Now()
	for _, s := range layout {
		class, _ := model.ParseSeatClass(string(s.Class))
		inv.seats[s.ID] = &model.Seat{ID: s.ID, Class: class, Price: s.Price, Available: true, LastModified: now}
		inv.order = append(inv.order, s.ID)
	}
	inv.metrics.SeatsTotal.Set(float64(len(layout)))
	inv.metrics.SeatsAvailable.Set(float64(len(layout)))
	return inv, nil
}

func parseClass(class model.SeatClass) (model.SeatClass, error) {
	if class == "" {
		return "", invalid("seat class is required")
	}
	c, err := model.ParseSeatClass(string(class))
	if err != nil {
		return "", invalid("unknown seat class %q", string(class))
	}
	return c, nil
}

// Query lists every available seat of class in layout order.
func (inv *Inventory) Query(class model.SeatClass) (Availability, error) {
	c, err := parseClass(class)
	if err != nil {
		return Availability{}, err
	}
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := Availability{Class: c}
	for _, id := range inv.order {
		if s := inv.seats[id]; s.Available && s.Class == c {
			out.Seats = append(out.Seats, *s)
		}
	}
	out.Count = len(out.Seats)
	return out, nil
}

// validateLocked runs the static checks and returns the seats that are
// no longer available.  Callers hold at least the read lock.
func (inv *Inventory) validateLocked(seatIDs []string, class model.SeatClass) ([]string, error) {
	if len(seatIDs) == 0 {
		return nil, invalid("empty seat list")
	}
	seen := make(map[string]struct{}, len(seatIDs))
	var taken []string
	for _, id := range seatIDs {
		if _, dup := seen[id]; dup {
			return nil, invalid("seat %s requested twice", id)
		}
		seen[id] = struct{}{}
		s, ok := inv.seats[id]
		if !ok {
			return nil, invalid("unknown seat %s", id)
		}
		if s.Class != class {
			return nil, invalid("seat %s is %s, not %s", id, s.Class, class)
		}
		if !s.Available {
			taken = append(taken, id)
		}
	}
	return taken, nil
}

// Check reports whether Book would currently succeed, without booking.
func (inv *Inventory) Check(seatIDs []string, class model.SeatClass) error {
	c, err := parseClass(class)
	if err != nil {
		return err
	}
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	taken, err := inv.validateLocked(seatIDs, c)
	if err != nil {
		return err
	}
	if len(taken) > 0 {
		return &ContentionError{Unavailable: taken}
	}
	return nil
}

// convKey identifies a conversation across participants; conversation
// ids are only unique per sender.
type convKey struct {
	sender       string
	conversation string
}

type bookOptions struct {
	key convKey
}

type BookOption func(*bookOptions)

// ForConversation records the requesting conversation on the
// transaction so a repeated request from the same sender can be
// answered with it.
func ForConversation(sender, conversationID string) BookOption {
	return func(o *bookOptions) { o.key = convKey{sender: sender, conversation: conversationID} }
}

// Book reserves exactly seatIDs or nothing.  Contention is an outcome,
// not an error; the error is a *ValidationError when the request itself
// is wrong.
func (inv *Inventory) Book(seatIDs []string, class model.SeatClass, opts ...BookOption) (BookResult, error) {
	var o bookOptions
	for _, opt := range opts {
		opt(&o)
	}
	c, err := parseClass(class)
	if err != nil {
		inv.metrics.Bookings.WithLabelValues("invalid").Inc()
		return BookResult{}, err
	}

	inv.mu.RLock()
	taken, err := inv.validateLocked(seatIDs, c)
	inv.mu.RUnlock()
	if err != nil {
		inv.metrics.Bookings.WithLabelValues("invalid").Inc()
		return BookResult{}, err
	}
	if len(taken) > 0 {
		inv.metrics.Bookings.WithLabelValues(Contention.String()).Inc()
		return BookResult{Outcome: Contention, Unavailable: taken}, nil
	}

	start := time.Now()
	inv.mu.Lock()
	// Another booker may have committed between the read check and here.
	taken, err = inv.validateLocked(seatIDs, c)
	if err != nil || len(taken) > 0 {
		inv.mu.Unlock()
		inv.metrics.CommitDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			inv.metrics.Bookings.WithLabelValues("invalid").Inc()
			return BookResult{}, err
		}
		inv.metrics.Bookings.WithLabelValues(Contention.String()).Inc()
		return BookResult{Outcome: Contention, Unavailable: taken}, nil
	}
	now := inv.clock.Now()
	total := 0
	for _, id := range seatIDs {
		s := inv.seats[id]
		s.Available = false
		s.LastModified = now
		total += s.Price
	}
	inv.txnSeq++
	txn := model.BookingTransaction{
		ID:             fmt.Sprintf("TXN_%d", inv.txnSeq),
		SeatIDs:        append([]string(nil), seatIDs...),
		Class:          c,
		TotalPrice:     total,
		ConversationID: o.key.conversation,
		CreatedAt:      now,
	}
	inv.ledger = append(inv.ledger, txn)
	if o.key.conversation != "" {
		inv.byConv[o.key] = len(inv.ledger) - 1
	}
	inv.mu.Unlock()
	inv.metrics.CommitDuration.Observe(time.Since(start).Seconds())
	inv.metrics.Bookings.WithLabelValues(Booked.String()).Inc()

	inv.log.Info().Str("txn", txn.ID).Strs("seats", txn.SeatIDs).Str("class", string(c)).Msg("booking committed")
	return BookResult{Outcome: Booked, Transaction: txn}, nil
}

// TransactionFor returns the transaction committed for sender's
// conversation.
func (inv *Inventory) TransactionFor(sender, conversationID string) (model.BookingTransaction, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	i, ok := inv.byConv[convKey{sender: sender, conversation: conversationID}]
	if !ok {
		return model.BookingTransaction{}, false
	}
	return inv.ledger[i], true
}

// SuggestAlternatives returns up to limit available seats, preferred
// class first and then the rest of the layout.  An unknown or empty
// class just means no preference.
func (inv *Inventory) SuggestAlternatives(class model.SeatClass, limit int) []model.Seat {
	if limit <= 0 {
		limit = DefaultAlternativeLimit
	}
	preferred, _ := model.ParseSeatClass(string(class))
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := make([]model.Seat, 0, limit)
	for pass := 0; pass < 2 && len(out) < limit; pass++ {
		for _, id := range inv.order {
			s := inv.seats[id]
			if !s.Available || (s.Class == preferred) != (pass == 0) {
				continue
			}
			out = append(out, *s)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

// Seat returns a copy of one seat.
func (inv *Inventory) Seat(id string) (model.Seat, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	s, ok := inv.seats[id]
	if !ok {
		return model.Seat{}, false
	}
	return *s, true
}

// Seats returns a snapshot of every seat in layout order.
func (inv *Inventory) Seats() []model.Seat {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := make([]model.Seat, 0, len(inv.order))
	for _, id := range inv.order {
		out = append(out, *inv.seats[id])
	}
	return out
}

// Transactions returns a snapshot of the ledger in commit order.
func (inv *Inventory) Transactions() []model.BookingTransaction {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return append([]model.BookingTransaction(nil), inv.ledger...)
}

func (inv *Inventory) Stats() Stats {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	st := Stats{Total: len(inv.order), ByClass: make(map[model.SeatClass]int)}
	for _, id := range inv.order {
		if s := inv.seats[id]; s.Available {
			st.Available++
			st.ByClass[s.Class]++
		}
	}
	return st
}
