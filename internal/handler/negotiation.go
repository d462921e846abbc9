package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-negotiation/internal/model"
	"github.com/iliyamo/cinema-seat-negotiation/internal/negotiation"
)

const (
	defaultHandleCache = 4096
	maxWait            = 30 * time.Second
)

// Negotiator starts conversations with the authority.
type Negotiator interface {
	StartNegotiation(ctx context.Context, req negotiation.Request) (*negotiation.Handle, error)
	StartDirectBooking(ctx context.Context, req negotiation.Request) (*negotiation.Handle, error)
}

// NegotiationHandler starts negotiations on behalf of HTTP callers and
// keeps the most recent handles so results can be polled.
type NegotiationHandler struct {
	coord   Negotiator
	handles *lru.Cache[string, *negotiation.Handle]
}

func NewNegotiationHandler(coord Negotiator, cacheSize int) (*NegotiationHandler, error) {
	if coord == nil {
		return nil, errors.New("handler: nil negotiator")
	}
	if cacheSize < 1 {
		cacheSize = defaultHandleCache
	}
	cache, err := lru.New[string, *negotiation.Handle](cacheSize)
	if err != nil {
		return nil, err
	}
	return &NegotiationHandler{coord: coord, handles: cache}, nil
}

type negotiationBody struct {
	Title   string   `json:"title"`
	Date    string   `json:"date"`
	Time    string   `json:"time"`
	Class   string   `json:"class"`
	Tickets int      `json:"tickets"`
	Seats   []string `json:"seats"`
}

func (b negotiationBody) request() (negotiation.Request, error) {
	class, err := model.ParseSeatClass(b.Class)
	if err != nil {
		return negotiation.Request{}, err
	}
	if b.Tickets < 0 {
		return negotiation.Request{}, errors.New("tickets must not be negative")
	}
	seats := make([]string, 0, len(b.Seats))
	for _, s := range b.Seats {
		if s = strings.TrimSpace(s); s != "" {
			seats = append(seats, strings.ToUpper(s))
		}
	}
	return negotiation.Request{
		Title:   b.Title,
		Date:    b.Date,
		Time:    b.Time,
		Class:   class,
		Tickets: b.Tickets,
		Seats:   seats,
	}, nil
}

// StartNegotiation handles POST /v1/negotiations.  The conversation asks
// for the class listing first and picks seats from the offer.  It
// answers 202 with the conversation id to poll.
func (h *NegotiationHandler) StartNegotiation(c echo.Context) error {
	return h.start(c, h.coord.StartNegotiation)
}

// StartBooking handles POST /v1/bookings.  The conversation books the
// named seats (or the first seats of the class) directly.
func (h *NegotiationHandler) StartBooking(c echo.Context) error {
	return h.start(c, h.coord.StartDirectBooking)
}

func (h *NegotiationHandler) start(c echo.Context, begin func(context.Context, negotiation.Request) (*negotiation.Handle, error)) error {
	var body negotiationBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	req, err := body.request()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	handle, err := begin(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, negotiation.ErrInvalidRequest) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		if errors.Is(err, negotiation.ErrStopped) {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "negotiation service stopped"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "start negotiation failed"})
	}
	h.handles.Add(handle.ConversationID(), handle)
	c.Response().Header().Set(echo.HeaderLocation, "/v1/negotiations/"+handle.ConversationID())
	return c.JSON(http.StatusAccepted, render(handle))
}

// GetNegotiation handles GET /v1/negotiations/:id.  ?wait=<duration>
// blocks up to that long (at most 30s) for the result.
func (h *NegotiationHandler) GetNegotiation(c echo.Context) error {
	handle, ok := h.handles.Get(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "negotiation not found"})
	}
	if raw := c.QueryParam("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid wait duration"})
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), min(d, maxWait))
		defer cancel()
		_, _ = handle.Wait(ctx)
	}
	return c.JSON(http.StatusOK, render(handle))
}

type negotiationView struct {
	ConversationID string   `json:"conversation_id"`
	Status         string   `json:"status"`
	Message        string   `json:"message,omitempty"`
	TransactionID  string   `json:"transaction_id,omitempty"`
	Seats          []string `json:"seats,omitempty"`
	Retries        int      `json:"retries"`
}

func render(h *negotiation.Handle) negotiationView {
	res, done := h.Result()
	v := negotiationView{ConversationID: h.ConversationID(), Status: "pending"}
	if !done {
		return v
	}
	v.Status = "failed"
	if res.Success {
		v.Status = "completed"
	}
	v.Message = res.Message
	v.TransactionID = res.TransactionID
	v.Seats = res.Seats
	v.Retries = res.Retries
	return v
}
