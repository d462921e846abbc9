package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-negotiation/internal/inventory"
	"github.com/iliyamo/cinema-seat-negotiation/internal/model"
)

// SeatHandler exposes read-only views of the inventory.  Nothing here
// mutates seats; bookings go through the negotiation endpoints.
type SeatHandler struct {
	Inv      *inventory.Inventory
	AltLimit int
}

func NewSeatHandler(inv *inventory.Inventory, altLimit int) *SeatHandler {
	if inv == nil {
		panic("nil inventory passed to NewSeatHandler")
	}
	if altLimit < 1 {
		altLimit = inventory.DefaultAlternativeLimit
	}
	return &SeatHandler{Inv: inv, AltLimit: altLimit}
}

type seatView struct {
	ID           string    `json:"id"`
	Class        string    `json:"class"`
	Price        int       `json:"price"`
	Available    bool      `json:"available"`
	LastModified time.Time `json:"last_modified"`
}

func viewSeats(seats []model.Seat) []seatView {
	out := make([]seatView, 0, len(seats))
	for _, s := range seats {
		out = append(out, seatView{ID: s.ID, Class: string(s.Class), Price: s.Price, Available: s.Available, LastModified: s.LastModified})
	}
	return out
}

// ListSeats handles GET /v1/seats.  With ?class= it lists the available
// seats of that class; without it every seat is listed with its status.
func (h *SeatHandler) ListSeats(c echo.Context) error {
	class := c.QueryParam("class")
	if class == "" {
		st := h.Inv.Stats()
		return c.JSON(http.StatusOK, echo.Map{
			"seats":     viewSeats(h.Inv.Seats()),
			"available": st.Available,
			"total":     st.Total,
		})
	}
	av, err := h.Inv.Query(model.SeatClass(class))
	if err != nil {
		return validationError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"class": av.Class,
		"seats": viewSeats(av.Seats),
		"count": av.Count,
	})
}

// Alternatives handles GET /v1/seats/alternatives?class=&limit=.
func (h *SeatHandler) Alternatives(c echo.Context) error {
	class, err := model.ParseSeatClass(c.QueryParam("class"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	limit := h.AltLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "limit must be a positive integer"})
		}
		limit = n
	}
	return c.JSON(http.StatusOK, echo.Map{"seats": viewSeats(h.Inv.SuggestAlternatives(class, limit))})
}

type transactionView struct {
	ID             string    `json:"id"`
	Seats          []string  `json:"seats"`
	Class          string    `json:"class"`
	TotalPrice     int       `json:"total_price"`
	ConversationID string    `json:"conversation_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Transactions handles GET /v1/transactions and lists the committed
// bookings in commit order.
func (h *SeatHandler) Transactions(c echo.Context) error {
	txns := h.Inv.Transactions()
	out := make([]transactionView, 0, len(txns))
	for _, t := range txns {
		out = append(out, transactionView{
			ID:             t.ID,
			Seats:          t.SeatIDs,
			Class:          string(t.Class),
			TotalPrice:     t.TotalPrice,
			ConversationID: t.ConversationID,
			CreatedAt:      t.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"transactions": out})
}

func validationError(c echo.Context, err error) error {
	var ve *inventory.ValidationError
	if errors.As(err, &ve) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": ve.Reason})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "inventory error"})
}
