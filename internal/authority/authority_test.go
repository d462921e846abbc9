package authority

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-negotiation/internal/audit"
	"github.com/iliyamo/cinema-seat-negotiation/internal/inventory"
	"github.com/iliyamo/cinema-seat-negotiation/internal/message"
	"github.com/iliyamo/cinema-seat-negotiation/internal/metrics"
	"github.com/iliyamo/cinema-seat-negotiation/internal/transport"
)

type fixture struct {
	bus      *transport.Bus
	inv      *inventory.Inventory
	customer *transport.Mailbox
	metrics  *metrics.Metrics
	audit    *audit.Memory
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{audit: audit.NewMemory(), metrics: metrics.New(prometheus.NewRegistry())}
	f.bus = transport.NewBus()
	var err error
	f.inv, err = inventory.New(inventory.DefaultLayout())
	require.NoError(t, err)
	mb, err := f.bus.Register(DefaultID)
	require.NoError(t, err)
	f.customer, err = f.bus.Register("customer")
	require.NoError(t, err)

	a, err := New(f.inv, mb, f.bus, WithAudit(f.audit), WithMetrics(f.metrics), WithSelfCheckInterval(0))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return f
}

func (f *fixture) ask(t *testing.T, intent message.Intent, conv, token, content string) message.Envelope {
	t.Helper()
	require.NoError(t, f.bus.Send(context.Background(), message.Envelope{
		Sender: "customer", Receiver: DefaultID, Intent: intent,
		ConversationID: conv, ReplyWith: token, Content: content,
	}))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := f.customer.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, conv, reply.ConversationID)
	assert.Equal(t, token, reply.InReplyTo)
	return reply
}

func TestInfoRequest(t *testing.T) {
	f := setup(t)
	req := message.InfoRequest{Film: "Dune", Date: "Today", Time: "19:00", Class: "VIP", Tickets: 2}
	reply := f.ask(t, message.Request, "c1", "info_1", req.String())

	assert.Equal(t, message.Inform, reply.Intent)
	assert.Contains(t, reply.Content, "Available VIP seats: A1(150000), A2(150000), A3(150000), Total available: 3")
	assert.Contains(t, reply.Content, "Movie: Dune")
}

func TestInfoRequest_UnknownClassIsRefused(t *testing.T) {
	f := setup(t)
	req := message.InfoRequest{Film: "Dune", Class: "Balcony", Tickets: 1}
	reply := f.ask(t, message.Request, "c1", "info_1", req.String())
	assert.Equal(t, message.Refuse, reply.Intent)
	assert.True(t, strings.HasPrefix(reply.Content, message.ErrorPrefix))
}

func TestBookingRequest_ConfirmThenDisconfirm(t *testing.T) {
	f := setup(t)
	book := message.BookingRequest{Time: "19:00", Seats: []string{"A1", "A2"}, Class: "VIP"}

	reply := f.ask(t, message.Request, "c1", "booking_1", book.String())
	require.Equal(t, message.Confirm, reply.Intent)
	txn, ok := message.ParseTransactionID(reply.Content)
	require.True(t, ok)
	assert.Equal(t, "TXN_1", txn)
	assert.Contains(t, reply.Content, "Kursi: A1,A2")

	reply = f.ask(t, message.Request, "c2", "booking_1", book.String())
	assert.Equal(t, message.Disconfirm, reply.Intent)
	assert.Equal(t, message.DisconfirmText, reply.Content)
	assert.Equal(t, 10, f.inv.Stats().Available)
}

func TestBookingRequest_ClassMismatchIsRefusedWithoutChange(t *testing.T) {
	f := setup(t)
	book := message.BookingRequest{Time: "19:00", Seats: []string{"A1"}, Class: "Regular"}
	reply := f.ask(t, message.Request, "c1", "booking_1", book.String())
	assert.Equal(t, message.Refuse, reply.Intent)
	assert.Equal(t, 12, f.inv.Stats().Available)
}

func TestQueryIf_AgreeAndRefuse(t *testing.T) {
	f := setup(t)
	check := message.BookingRequest{Time: "19:00", Seats: []string{"B1"}, Class: "Regular"}

	reply := f.ask(t, message.QueryIf, "c1", "check_1", check.String())
	assert.Equal(t, message.Agree, reply.Intent)
	assert.Equal(t, 12, f.inv.Stats().Available, "a check must not book")

	_, err := f.inv.Book([]string{"B1"}, "Regular")
	require.NoError(t, err)
	reply = f.ask(t, message.QueryIf, "c1", "check_2", check.String())
	assert.Equal(t, message.Refuse, reply.Intent)
}

func TestAlternativeRequest(t *testing.T) {
	f := setup(t)
	_, err := f.inv.Book([]string{"B1"}, "Regular")
	require.NoError(t, err)

	reply := f.ask(t, message.Request, "c1", "alt_1", message.AlternativeRequest{Class: "Regular"}.String())
	require.Equal(t, message.Inform, reply.Intent)
	seats, err := message.ParseAlternativesResponse(reply.Content)
	require.NoError(t, err)
	require.Len(t, seats, 5)
	assert.Equal(t, message.OfferedSeat{ID: "B2", Class: "Regular"}, seats[0])
	for _, s := range seats {
		assert.NotEqual(t, "B1", s.ID)
	}
}

func TestUnrecognisedContentIsFailure(t *testing.T) {
	f := setup(t)
	reply := f.ask(t, message.Request, "c1", "x_1", "CANCEL:A1")
	assert.Equal(t, message.Failure, reply.Intent)
	assert.Equal(t, "Error: Format pesan tidak dikenali", reply.Content)

	reply = f.ask(t, message.Inform, "c1", "x_2", "REQUEST_INFO:Film=X")
	assert.Equal(t, message.Failure, reply.Intent)
}

func TestDuplicateRequestIsReplayedNotReprocessed(t *testing.T) {
	f := setup(t)
	book := message.BookingRequest{Time: "19:00", Seats: []string{"C1"}, Class: "Economy"}

	first := f.ask(t, message.Request, "c1", "booking_1", book.String())
	second := f.ask(t, message.Request, "c1", "booking_1", book.String())
	assert.Equal(t, message.Confirm, first.Intent)
	assert.Equal(t, first.Content, second.Content)
	assert.Len(t, f.inv.Transactions(), 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Replays))
}

func TestRetriedBookingWithNewTokenGetsSameTransaction(t *testing.T) {
	f := setup(t)
	book := message.BookingRequest{Time: "19:00", Seats: []string{"C2", "C3"}, Class: "Economy"}

	first := f.ask(t, message.Request, "c1", "booking_1", book.String())
	retry := f.ask(t, message.Request, "c1", "booking_2", book.String())
	require.Equal(t, message.Confirm, retry.Intent)

	a, _ := message.ParseTransactionID(first.Content)
	b, _ := message.ParseTransactionID(retry.Content)
	assert.Equal(t, a, b)
	require.Len(t, f.inv.Transactions(), 1)
	assert.Equal(t, "c1", f.inv.Transactions()[0].ConversationID)
}

func TestReceivesAreAudited(t *testing.T) {
	f := setup(t)
	f.ask(t, message.Request, "c9", "alt_1", "ALTERNATIVE:VIP")
	recs := f.audit.Records()
	require.NotEmpty(t, recs)
	assert.Equal(t, "customer", recs[0].Sender)
	assert.Equal(t, DefaultID, recs[0].Receiver)
	assert.Equal(t, "c9", recs[0].ConversationID)
}
