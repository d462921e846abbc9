package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-negotiation/internal/authority"
	"github.com/iliyamo/cinema-seat-negotiation/internal/inventory"
	"github.com/iliyamo/cinema-seat-negotiation/internal/negotiation"
	"github.com/iliyamo/cinema-seat-negotiation/internal/transport"
)

type stack struct {
	e   *echo.Echo
	inv *inventory.Inventory
}

func newStack(t *testing.T) *stack {
	t.Helper()
	bus := transport.NewBus()
	inv, err := inventory.New(inventory.DefaultLayout())
	require.NoError(t, err)

	amb, err := bus.Register(authority.DefaultID)
	require.NoError(t, err)
	auth, err := authority.New(inv, amb, bus, authority.WithSelfCheckInterval(0))
	require.NoError(t, err)
	cmb, err := bus.Register(negotiation.DefaultID)
	require.NoError(t, err)
	coord, err := negotiation.New(cmb, bus)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() { _ = auth.Run(ctx); done <- struct{}{} }()
	go func() { _ = coord.Run(ctx); done <- struct{}{} }()
	t.Cleanup(func() {
		cancel()
		<-done
		<-done
	})

	neg, err := NewNegotiationHandler(coord, 16)
	require.NoError(t, err)
	seats := NewSeatHandler(inv, 5)
	e := echo.New()
	e.GET("/healthz", Health)
	e.GET("/v1/seats", seats.ListSeats)
	e.GET("/v1/seats/alternatives", seats.Alternatives)
	e.GET("/v1/transactions", seats.Transactions)
	e.POST("/v1/negotiations", neg.StartNegotiation)
	e.POST("/v1/bookings", neg.StartBooking)
	e.GET("/v1/negotiations/:id", neg.GetNegotiation)
	return &stack{e: e, inv: inv}
}

func (s *stack) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	s := newStack(t)
	rec, _ := s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestListSeats(t *testing.T) {
	s := newStack(t)

	rec, out := s.do(t, http.MethodGet, "/v1/seats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 12, out["total"])
	assert.EqualValues(t, 12, out["available"])

	rec, out = s.do(t, http.MethodGet, "/v1/seats?class=vip", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "VIP", out["class"])
	assert.EqualValues(t, 3, out["count"])

	rec, out = s.do(t, http.MethodGet, "/v1/seats?class=gold", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["error"], "unknown seat class")
}

func TestAlternatives(t *testing.T) {
	s := newStack(t)

	rec, out := s.do(t, http.MethodGet, "/v1/seats/alternatives?class=Regular&limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	seats := out["seats"].([]any)
	require.Len(t, seats, 2)
	assert.Equal(t, "B1", seats[0].(map[string]any)["id"])

	rec, _ = s.do(t, http.MethodGet, "/v1/seats/alternatives?class=Regular&limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNegotiation_StartAndWait(t *testing.T) {
	s := newStack(t)

	rec, out := s.do(t, http.MethodPost, "/v1/negotiations", `{"title":"Dune","date":"Today","time":"19:00","class":"VIP","tickets":2}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := out["conversation_id"].(string)
	assert.Equal(t, "/v1/negotiations/"+id, rec.Header().Get(echo.HeaderLocation))

	rec, out = s.do(t, http.MethodGet, "/v1/negotiations/"+id+"?wait=5s", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", out["status"])
	assert.Equal(t, "TXN_1", out["transaction_id"])
	assert.Equal(t, []any{"A1", "A2"}, out["seats"])

	rec, out = s.do(t, http.MethodGet, "/v1/transactions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	txns := out["transactions"].([]any)
	require.Len(t, txns, 1)
	assert.Equal(t, id, txns[0].(map[string]any)["conversation_id"])
}

func TestBooking_DirectSeatsAndRefusal(t *testing.T) {
	s := newStack(t)

	rec, out := s.do(t, http.MethodPost, "/v1/bookings", `{"class":"economy","seats":["c4"," c5 "],"time":"10:00"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec, out = s.do(t, http.MethodGet, "/v1/negotiations/"+out["conversation_id"].(string)+"?wait=5s", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", out["status"])
	assert.Equal(t, []any{"C4", "C5"}, out["seats"])
	seat, ok := s.inv.Seat("C4")
	require.True(t, ok)
	assert.False(t, seat.Available)

	// A1 is VIP, so the authority refuses and nothing is booked.
	rec, out = s.do(t, http.MethodPost, "/v1/bookings", `{"class":"Economy","seats":["A1"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	_, out = s.do(t, http.MethodGet, "/v1/negotiations/"+out["conversation_id"].(string)+"?wait=5s", "")
	assert.Equal(t, "failed", out["status"])
	assert.NotEmpty(t, out["message"])
	assert.Len(t, s.inv.Transactions(), 1)
}

func TestNegotiation_BadInput(t *testing.T) {
	s := newStack(t)

	rec, out := s.do(t, http.MethodPost, "/v1/negotiations", `{"class":"Gold"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["error"], "unknown seat class")

	rec, _ = s.do(t, http.MethodPost, "/v1/negotiations", `{"class":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/v1/negotiations/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, out = s.do(t, http.MethodPost, "/v1/negotiations", `{"title":"Dune, Part Two","class":"VIP","tickets":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["error"], "film")

	rec, out = s.do(t, http.MethodPost, "/v1/bookings", `{"class":"VIP","seats":["A1;A2"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["error"], "seat")
	assert.Empty(t, s.inv.Transactions())
}
