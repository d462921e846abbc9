package negotiation

import (
	"slices"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/iliyamo/cinema-seat-negotiation/internal/message"
	"github.com/iliyamo/cinema-seat-negotiation/internal/model"
)

type pendingRequest struct {
	intent  message.Intent
	content string
	kind    string
}

// conversation is one negotiation.  Only the coordinator goroutine
// touches it.
type conversation struct {
	id        string
	req       Request
	class     model.SeatClass
	seats     []string
	state     State
	retries   int
	changedAt time.Time

	pending  pendingRequest
	tokens   []string
	awaiting bool
	epoch    int
	timer    clockwork.Timer

	handle *Handle
}

func (c *conversation) accepts(token string) bool {
	return token != "" && slices.Contains(c.tokens, token)
}

func (c *conversation) bookingContent() string {
	return message.BookingRequest{
		Time:  c.req.Time,
		Seats: c.seats,
		Class: string(c.class),
	}.String()
}

// pickSeats chooses n offered seats, all of one class.  The preferred
// class wins when it offers enough; otherwise the first class, in offer
// order, that does.
func pickSeats(offered []message.OfferedSeat, preferred model.SeatClass, n int) (model.SeatClass, []string, bool) {
	byClass := make(map[model.SeatClass][]string)
	var order []model.SeatClass
	for _, s := range offered {
		class, err := model.ParseSeatClass(s.Class)
		if err != nil {
			continue
		}
		if _, seen := byClass[class]; !seen {
			order = append(order, class)
		}
		byClass[class] = append(byClass[class], s.ID)
	}
	if ids := byClass[preferred]; len(ids) >= n {
		return preferred, ids[:n:n], true
	}
	for _, class := range order {
		if ids := byClass[class]; len(ids) >= n {
			return class, ids[:n:n], true
		}
	}
	return "", nil, false
}
