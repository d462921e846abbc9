// Package authority runs the inventory authority participant: it drains
// its mailbox one envelope at a time, answers info, check, booking and
// alternative requests against the inventory, and replays cached replies
// for requests it has already answered.
package authority

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/iliyamo/cinema-seat-negotiation/internal/audit"
	"github.com/iliyamo/cinema-seat-negotiation/internal/inventory"
	"github.com/iliyamo/cinema-seat-negotiation/internal/message"
	"github.com/iliyamo/cinema-seat-negotiation/internal/metrics"
	"github.com/iliyamo/cinema-seat-negotiation/internal/model"
	"github.com/iliyamo/cinema-seat-negotiation/internal/transport"
)

const (
	DefaultID             = "provider"
	DefaultReplyCacheSize = 1024

	unrecognizedFormat = "Format pesan tidak dikenali"
)

type replyKey struct {
	sender       string
	conversation string
	replyWith    string
}

type Authority struct {
	id        string
	inv       *inventory.Inventory
	mailbox   *transport.Mailbox
	out       transport.Sender
	audit     audit.Logger
	log       zerolog.Logger
	metrics   *metrics.Metrics
	replies   *lru.Cache[replyKey, message.Envelope]
	altLimit  int
	cacheSize int
	interval  time.Duration
}

type Option func(*Authority)

func WithAudit(l audit.Logger) Option { return func(a *Authority) { a.audit = l } }

func WithLogger(l zerolog.Logger) Option { return func(a *Authority) { a.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(a *Authority) { a.metrics = m } }

// WithAlternativeLimit caps the seats offered per alternative request.
func WithAlternativeLimit(n int) Option { return func(a *Authority) { a.altLimit = n } }

// WithReplyCacheSize bounds how many answered requests are remembered.
func WithReplyCacheSize(n int) Option { return func(a *Authority) { a.cacheSize = n } }

// WithSelfCheckInterval sets the inventory self-check period; zero or
// negative disables the background check.
func WithSelfCheckInterval(d time.Duration) Option { return func(a *Authority) { a.interval = d } }

// New binds an authority to its mailbox.  Replies go out through out.
func New(inv *inventory.Inventory, mb *transport.Mailbox, out transport.Sender, opts ...Option) (*Authority, error) {
	if inv == nil || mb == nil || out == nil {
		return nil, errors.New("authority: inventory, mailbox and sender are required")
	}
	a := &Authority{
		id:        mb.Owner(),
		inv:       inv,
		mailbox:   mb,
		out:       out,
		audit:     audit.Nop{},
		log:       zerolog.Nop(),
		altLimit:  inventory.DefaultAlternativeLimit,
		cacheSize: DefaultReplyCacheSize,
		interval:  inventory.DefaultSelfCheckInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = metrics.NewUnregistered()
	}
	cache, err := lru.New[replyKey, message.Envelope](a.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("authority: reply cache: %w", err)
	}
	a.replies = cache
	a.log = a.log.With().Str("component", "authority").Str("participant", a.id).Logger()
	return a, nil
}

func (a *Authority) ID() string { return a.id }

// Run processes envelopes until ctx is done or the mailbox is closed.
func (a *Authority) Run(ctx context.Context) error {
	if a.interval > 0 {
		go a.inv.RunSelfCheck(ctx, a.interval, func(st inventory.Stats) {
			a.audit.Log(audit.Record{
				Sender:         a.id,
				Receiver:       audit.System,
				Intent:         "SEAT_CHECK",
				ConversationID: "system",
				Content:        fmt.Sprintf("%d of %d seats available", st.Available, st.Total),
				Level:          audit.LevelDebug,
			})
		})
	}
	a.log.Info().Int("seats", a.inv.Stats().Total).Msg("authority started")
	for {
		env, err := a.mailbox.Receive(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrMailboxClosed) || ctx.Err() != nil {
				a.log.Info().Msg("authority stopped")
				return nil
			}
			return err
		}
		a.handle(ctx, env)
	}
}

func (a *Authority) handle(ctx context.Context, env message.Envelope) {
	a.audit.Log(audit.Record{
		Sender:         env.Sender,
		Receiver:       a.id,
		Intent:         env.Intent.String(),
		ConversationID: env.ConversationID,
		Content:        env.Content,
		Level:          audit.LevelInfo,
	})

	key := replyKey{sender: env.Sender, conversation: env.ConversationID, replyWith: env.ReplyWith}
	if env.ReplyWith != "" {
		if cached, ok := a.replies.Get(key); ok {
			a.metrics.Replays.Inc()
			a.log.Warn().Str("conversation_id", env.ConversationID).Str("reply_with", env.ReplyWith).Msg("duplicate request, replaying reply")
			a.send(ctx, cached)
			return
		}
	}

	reply := a.process(env)
	if env.ReplyWith != "" {
		a.replies.Add(key, reply)
	}
	a.send(ctx, reply)
}

func (a *Authority) send(ctx context.Context, reply message.Envelope) {
	if err := a.out.Send(ctx, reply); err != nil {
		a.log.Error().Err(err).Str("conversation_id", reply.ConversationID).Str("receiver", reply.Receiver).Msg("reply not delivered")
		a.audit.Log(audit.Record{
			Sender:         a.id,
			Receiver:       reply.Receiver,
			Intent:         "ERROR",
			ConversationID: reply.ConversationID,
			Content:        "reply not delivered: " + err.Error(),
			Level:          audit.LevelError,
		})
	}
}

func (a *Authority) process(env message.Envelope) message.Envelope {
	switch env.Intent {
	case message.Request:
		switch {
		case strings.HasPrefix(env.Content, message.InfoPrefix):
			return a.handleInfo(env)
		case strings.HasPrefix(env.Content, message.BookingPrefix):
			return a.handleBooking(env)
		case strings.HasPrefix(env.Content, message.AlternativePrefix):
			return a.handleAlternative(env)
		}
	case message.QueryIf:
		if strings.HasPrefix(env.Content, message.BookingPrefix) {
			return a.handleCheck(env)
		}
	}
	a.log.Warn().Str("intent", env.Intent.String()).Str("content", env.Content).Msg("unrecognised request")
	return env.Reply(message.Failure, message.ErrorContent(unrecognizedFormat))
}

func (a *Authority) handleInfo(env message.Envelope) message.Envelope {
	req, err := message.ParseInfoRequest(env.Content)
	if err != nil {
		return env.Reply(message.Failure, message.ErrorContent(unrecognizedFormat))
	}
	av, err := a.inv.Query(model.SeatClass(req.Class))
	if err != nil {
		return env.Reply(message.Refuse, message.ErrorContent(err.Error()))
	}
	offered := make([]message.OfferedSeat, 0, len(av.Seats))
	for _, s := range av.Seats {
		offered = append(offered, message.OfferedSeat{ID: s.ID, Class: string(s.Class), Price: s.Price})
	}
	return env.Reply(message.Inform, message.InfoResponse(req.Film, req.Date, string(av.Class), offered))
}

func (a *Authority) handleBooking(env message.Envelope) message.Envelope {
	req, err := message.ParseBookingRequest(env.Content)
	if err != nil {
		return env.Reply(message.Failure, message.ErrorContent(unrecognizedFormat))
	}
	if txn, ok := a.inv.TransactionFor(env.Sender, env.ConversationID); ok && slices.Equal(txn.SeatIDs, req.Seats) {
		// A retried request whose first attempt already committed.
		a.metrics.Replays.Inc()
		return env.Reply(message.Confirm, message.ConfirmResponse(txn.ID, txn.SeatIDs, req.Time))
	}
	res, err := a.inv.Book(req.Seats, model.SeatClass(req.Class), inventory.ForConversation(env.Sender, env.ConversationID))
	if err != nil {
		return env.Reply(message.Refuse, message.ErrorContent(err.Error()))
	}
	if res.Outcome != inventory.Booked {
		a.log.Info().Str("conversation_id", env.ConversationID).Strs("unavailable", res.Unavailable).Msg("booking contention")
		return env.Reply(message.Disconfirm, message.DisconfirmText)
	}
	return env.Reply(message.Confirm, message.ConfirmResponse(res.Transaction.ID, res.Transaction.SeatIDs, req.Time))
}

func (a *Authority) handleCheck(env message.Envelope) message.Envelope {
	req, err := message.ParseBookingRequest(env.Content)
	if err != nil {
		return env.Reply(message.Failure, message.ErrorContent(unrecognizedFormat))
	}
	if err := a.inv.Check(req.Seats, model.SeatClass(req.Class)); err != nil {
		return env.Reply(message.Refuse, message.ErrorContent(err.Error()))
	}
	return env.Reply(message.Agree, "Kursi tersedia: "+strings.Join(req.Seats, ","))
}

func (a *Authority) handleAlternative(env message.Envelope) message.Envelope {
	req, err := message.ParseAlternativeRequest(env.Content)
	if err != nil {
		return env.Reply(message.Failure, message.ErrorContent(unrecognizedFormat))
	}
	seats := a.inv.SuggestAlternatives(model.SeatClass(req.Class), a.altLimit)
	offered := make([]message.OfferedSeat, 0, len(seats))
	for _, s := range seats {
		offered = append(offered, message.OfferedSeat{ID: s.ID, Class: string(s.Class), Price: s.Price})
	}
	return env.Reply(message.Inform, message.AlternativesResponse(offered))
}
