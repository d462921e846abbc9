package negotiation

import (
	"context"
	"fmt"
	"sync"

	"github.com/iliyamo/cinema-seat-negotiation/internal/message"
	"github.com/iliyamo/cinema-seat-negotiation/internal/model"
)

// Request is what the caller wants booked.  Seats is only used by direct
// booking; when empty, direct booking asks for <prefix>1..<prefix>n.
type Request struct {
	Title   string
	Date    string
	Time    string
	Class   model.SeatClass
	Tickets int
	Seats   []string
}

// validate rejects values the content encoding would split or truncate.
func (r Request) validate(direct bool) error {
	var err error
	if direct {
		err = message.BookingRequest{Time: r.Time, Seats: r.Seats, Class: string(r.Class)}.Validate()
	} else {
		err = message.InfoRequest{Film: r.Title, Date: r.Date, Time: r.Time, Class: string(r.Class)}.Validate()
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// Result is the one-shot outcome of a negotiation.
type Result struct {
	ConversationID string
	Success        bool
	Message        string
	TransactionID  string
	Seats          []string
	Retries        int
}

// Handle tracks one negotiation started by the caller.
type Handle struct {
	id   string
	done chan struct{}
	once sync.Once
	res  Result
}

func newHandle(id string) *Handle {
	return &Handle{id: id, done: make(chan struct{})}
}

func (h *Handle) ConversationID() string { return h.id }

// Done is closed once the result is available.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the outcome, or false while the negotiation runs.
func (h *Handle) Result() (Result, bool) {
	select {
	case <-h.done:
		return h.res, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the negotiation finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (h *Handle) complete(r Result) bool {
	fired := false
	h.once.Do(func() {
		h.res = r
		close(h.done)
		fired = true
	})
	return fired
}
