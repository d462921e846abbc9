// Package negotiation implements the customer side of a seat booking: a
// Coordinator participant that drives each conversation through its
// states, re-attempts on contention, failure and timeout, and reports a
// single result per conversation to the caller.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/iliyamo/cinema-seat-negotiation/internal/audit"
	"github.com/iliyamo/cinema-seat-negotiation/internal/authority"
	"github.com/iliyamo/cinema-seat-negotiation/internal/message"
	"github.com/iliyamo/cinema-seat-negotiation/internal/metrics"
	"github.com/iliyamo/cinema-seat-negotiation/internal/model"
	"github.com/iliyamo/cinema-seat-negotiation/internal/transport"
)

const (
	DefaultID         = "customer"
	DefaultTimeout    = 30 * time.Second
	DefaultRetryDelay = time.Second
	DefaultMaxRetries = 3
)

type startKind int

const (
	startNegotiation startKind = iota
	startDirect
)

type command struct {
	kind  startKind
	req   Request
	reply chan *Handle
}

type timerKind int

const (
	timeoutTimer timerKind = iota
	retryTimer
)

type timerEvent struct {
	kind  timerKind
	conv  string
	epoch int
}

// Coordinator owns a set of conversations with one authority.  All of
// its state is confined to the goroutine running Run.
type Coordinator struct {
	id          string
	authorityID string
	mailbox     *transport.Mailbox
	out         transport.Sender
	clock       clockwork.Clock
	audit       audit.Logger
	log         zerolog.Logger
	metrics     *metrics.Metrics
	timeout     time.Duration
	retryDelay  time.Duration
	maxRetries  int
	onResult    func(Result)

	commands chan command
	timers   chan timerEvent
	running  chan struct{}
	stopped  chan struct{}

	convSeq       int
	tokenSeq      int
	conversations map[string]*conversation
}

type Option func(*Coordinator)

func WithClock(c clockwork.Clock) Option { return func(co *Coordinator) { co.clock = c } }

func WithTimeout(d time.Duration) Option { return func(co *Coordinator) { co.timeout = d } }

// WithRetryDelay sets the pause between a contention reply and the
// alternatives request.
func WithRetryDelay(d time.Duration) Option { return func(co *Coordinator) { co.retryDelay = d } }

func WithMaxRetries(n int) Option { return func(co *Coordinator) { co.maxRetries = n } }

// WithResultCallback registers fn to be called once per finished
// conversation.  fn runs on the coordinator goroutine and must not block.
func WithResultCallback(fn func(Result)) Option { return func(co *Coordinator) { co.onResult = fn } }

func WithAudit(l audit.Logger) Option { return func(co *Coordinator) { co.audit = l } }

func WithLogger(l zerolog.Logger) Option { return func(co *Coordinator) { co.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(co *Coordinator) { co.metrics = m } }

// WithAuthority names the participant requests are addressed to.
func WithAuthority(id string) Option { return func(co *Coordinator) { co.authorityID = id } }

// New binds a coordinator to its mailbox.  Requests go out through out.
func New(mb *transport.Mailbox, out transport.Sender, opts ...Option) (*Coordinator, error) {
	if mb == nil || out == nil {
		return nil, errors.New("negotiation: mailbox and sender are required")
	}
	c := &Coordinator{
		id:            mb.Owner(),
		authorityID:   authority.DefaultID,
		mailbox:       mb,
		out:           out,
		clock:         clockwork.NewRealClock(),
		audit:         audit.Nop{},
		log:           zerolog.Nop(),
		timeout:       DefaultTimeout,
		retryDelay:    DefaultRetryDelay,
		maxRetries:    DefaultMaxRetries,
		commands:      make(chan command),
		timers:        make(chan timerEvent, 16),
		running:       make(chan struct{}),
		stopped:       make(chan struct{}),
		conversations: make(map[string]*conversation),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.NewUnregistered()
	}
	if c.timeout <= 0 {
		return nil, errors.New("negotiation: timeout must be positive")
	}
	if c.maxRetries < 0 {
		return nil, errors.New("negotiation: max retries must not be negative")
	}
	c.log = c.log.With().Str("component", "coordinator").Str("participant", c.id).Logger()
	return c, nil
}

func (c *Coordinator) ID() string { return c.id }

// StartNegotiation begins a conversation with an info request for
// req.Class.  Delivery problems are reported through the handle; a
// field that cannot be encoded is rejected with ErrInvalidRequest.
func (c *Coordinator) StartNegotiation(ctx context.Context, req Request) (*Handle, error) {
	if err := req.validate(false); err != nil {
		return nil, err
	}
	return c.submit(ctx, command{kind: startNegotiation, req: req})
}

// StartDirectBooking begins a conversation with a booking request for
// req.Seats, or for the first req.Tickets seats of the class when no
// seats are named.
func (c *Coordinator) StartDirectBooking(ctx context.Context, req Request) (*Handle, error) {
	if err := req.validate(true); err != nil {
		return nil, err
	}
	return c.submit(ctx, command{kind: startDirect, req: req})
}

func (c *Coordinator) submit(ctx context.Context, cmd command) (*Handle, error) {
	cmd.reply = make(chan *Handle, 1)
	select {
	case c.commands <- cmd:
	case <-c.stopped:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case h := <-cmd.reply:
		return h, nil
	case <-c.stopped:
		return nil, ErrStopped
	}
}

// Run serves commands, envelopes and timers until ctx is done.  Open
// conversations are then failed so no caller waits forever.
func (c *Coordinator) Run(ctx context.Context) error {
	select {
	case <-c.running:
		return errors.New("negotiation: coordinator already running")
	default:
		close(c.running)
	}
	defer close(c.stopped)
	c.log.Info().Str("authority", c.authorityID).Dur("timeout", c.timeout).Int("max_retries", c.maxRetries).Msg("coordinator started")
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			c.log.Info().Msg("coordinator stopped")
			return nil
		case cmd := <-c.commands:
			cmd.reply <- c.start(ctx, cmd)
		case ev := <-c.timers:
			c.onTimer(ctx, ev)
		case <-c.mailbox.Ready():
			for {
				env, ok := c.mailbox.TryReceive()
				if !ok {
					break
				}
				c.receive(ctx, env)
			}
		}
	}
}

func (c *Coordinator) shutdown() {
	for _, conv := range c.conversations {
		c.finish(conv, Result{Message: ErrStopped.Error()})
	}
}

func (c *Coordinator) start(ctx context.Context, cmd command) *Handle {
	c.convSeq++
	req := cmd.req
	if cmd.kind == startDirect && len(req.Seats) > 0 {
		req.Tickets = len(req.Seats)
	}
	if req.Tickets <= 0 {
		req.Tickets = 1
	}
	conv := &conversation{
		id:    fmt.Sprintf("%s_booking_%d", c.id, c.convSeq),
		req:   req,
		class: req.Class,
		state: Idle,
	}
	conv.handle = newHandle(conv.id)
	conv.changedAt = c.clock.Now()
	c.conversations[conv.id] = conv
	c.log.Info().Str("conversation_id", conv.id).Str("class", string(req.Class)).Int("tickets", req.Tickets).Msg("conversation started")

	switch cmd.kind {
	case startDirect:
		seats := req.Seats
		if len(seats) == 0 {
			seats = generateSeats(req.Class, req.Tickets)
		}
		conv.seats = seats
		c.transition(conv, RequestingBooking)
		c.issue(ctx, conv, message.Request, conv.bookingContent(), "booking")
	default:
		c.transition(conv, RequestingInfo)
		c.issue(ctx, conv, message.Request, message.InfoRequest{
			Film:    req.Title,
			Date:    req.Date,
			Time:    req.Time,
			Class:   string(req.Class),
			Tickets: req.Tickets,
		}.String(), "info_request")
	}
	return conv.handle
}

func generateSeats(class model.SeatClass, n int) []string {
	seats := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		seats = append(seats, fmt.Sprintf("%s%d", class.SeatPrefix(), i))
	}
	return seats
}

// issue sends a new request for conv, replacing the accepted tokens.
func (c *Coordinator) issue(ctx context.Context, conv *conversation, intent message.Intent, content, kind string) {
	conv.pending = pendingRequest{intent: intent, content: content, kind: kind}
	conv.tokens = conv.tokens[:0]
	c.send(ctx, conv)
}

// reissue resends the outstanding request under a fresh token.  Tokens of
// earlier attempts stay acceptable.
func (c *Coordinator) reissue(ctx context.Context, conv *conversation) {
	c.send(ctx, conv)
}

func (c *Coordinator) send(ctx context.Context, conv *conversation) {
	c.tokenSeq++
	token := fmt.Sprintf("%s_%d", conv.pending.kind, c.tokenSeq)
	conv.tokens = append(conv.tokens, token)
	env := message.Envelope{
		Sender:         c.id,
		Receiver:       c.authorityID,
		Intent:         conv.pending.intent,
		ConversationID: conv.id,
		ReplyWith:      token,
		Content:        conv.pending.content,
	}
	if err := c.out.Send(ctx, env); err != nil {
		c.log.Error().Err(err).Str("conversation_id", conv.id).Msg("request not delivered")
		c.fail(conv, fmt.Errorf("%w: %v", ErrTransport, err))
		return
	}
	conv.awaiting = true
	c.armTimeout(conv)
}

func (c *Coordinator) armTimeout(conv *conversation) {
	c.stopTimer(conv)
	epoch := conv.epoch
	id := conv.id
	conv.timer = c.clock.AfterFunc(c.timeout, func() {
		c.post(timerEvent{kind: timeoutTimer, conv: id, epoch: epoch})
	})
}

func (c *Coordinator) scheduleRetry(conv *conversation) {
	c.stopTimer(conv)
	epoch := conv.epoch
	id := conv.id
	conv.timer = c.clock.AfterFunc(c.retryDelay, func() {
		c.post(timerEvent{kind: retryTimer, conv: id, epoch: epoch})
	})
}

// stopTimer cancels the pending timer and bumps the epoch so an event
// that already fired is ignored.
func (c *Coordinator) stopTimer(conv *conversation) {
	if conv.timer != nil {
		conv.timer.Stop()
		conv.timer = nil
	}
	conv.epoch++
}

func (c *Coordinator) post(ev timerEvent) {
	select {
	case c.timers <- ev:
	case <-c.stopped:
	}
}

func (c *Coordinator) onTimer(ctx context.Context, ev timerEvent) {
	conv, ok := c.conversations[ev.conv]
	if !ok || conv.epoch != ev.epoch {
		return
	}
	switch ev.kind {
	case timeoutTimer:
		if !conv.awaiting || !conv.state.Waiting() {
			return
		}
		c.log.Warn().Str("conversation_id", conv.id).Str("state", conv.state.String()).Msg("no response before timeout")
		c.audit.Log(audit.Record{
			Sender:         c.id,
			Receiver:       audit.System,
			Intent:         "TIMEOUT",
			ConversationID: conv.id,
			Content:        fmt.Sprintf("Timeout in state %s after %s", conv.state, c.timeout),
			Level:          audit.LevelWarning,
		})
		if !c.retry(conv, "timeout") {
			c.fail(conv, fmt.Errorf("%w: %w", ErrMaxRetries, ErrTimeout))
			return
		}
		c.reissue(ctx, conv)
	case retryTimer:
		c.requestAlternatives(ctx, conv)
	}
}

// retry spends one unit of the conversation's budget.  It reports false
// when the budget was already spent.
func (c *Coordinator) retry(conv *conversation, reason string) bool {
	if conv.retries >= c.maxRetries {
		return false
	}
	conv.retries++
	c.metrics.Retries.WithLabelValues(reason).Inc()
	c.log.Info().Str("conversation_id", conv.id).Str("reason", reason).Int("attempt", conv.retries).Msg("retrying")
	c.audit.Log(audit.Record{
		Sender:         c.id,
		Receiver:       audit.System,
		Intent:         "RETRY",
		ConversationID: conv.id,
		Content:        fmt.Sprintf("Retry %d/%d after %s", conv.retries, c.maxRetries, reason),
		Level:          audit.LevelInfo,
	})
	return true
}

func (c *Coordinator) requestAlternatives(ctx context.Context, conv *conversation) {
	c.transition(conv, RequestingInfo)
	c.issue(ctx, conv, message.Request, message.AlternativeRequest{Class: string(conv.class)}.String(), "alternative")
}

func (c *Coordinator) receive(ctx context.Context, env message.Envelope) {
	c.audit.Log(audit.Record{
		Sender:         env.Sender,
		Receiver:       c.id,
		Intent:         env.Intent.String(),
		ConversationID: env.ConversationID,
		Content:        env.Content,
		Level:          audit.LevelInfo,
	})
	conv, ok := c.conversations[env.ConversationID]
	if !ok {
		c.stale(env, "unknown conversation")
		return
	}
	if !conv.awaiting || !conv.accepts(env.InReplyTo) {
		c.stale(env, "unexpected in-reply-to token")
		return
	}
	conv.awaiting = false
	c.stopTimer(conv)

	switch {
	case env.Intent == message.Failure:
		c.onFailure(ctx, conv, env)
	case env.Intent == message.Refuse && conv.state == CheckingSeat:
		if !c.retry(conv, "refuse") {
			c.fail(conv, fmt.Errorf("%w: %s", ErrMaxRetries, message.ErrorReason(env.Content)))
			return
		}
		c.requestAlternatives(ctx, conv)
	case env.Intent == message.Refuse:
		c.fail(conv, fmt.Errorf("%w: %s", ErrRejected, message.ErrorReason(env.Content)))
	case conv.state == RequestingInfo && env.Intent == message.Inform:
		c.onOptions(ctx, conv, env)
	case conv.state == CheckingSeat && env.Intent == message.Agree:
		c.transition(conv, RequestingBooking)
		c.issue(ctx, conv, message.Request, conv.bookingContent(), "booking")
	case conv.state == RequestingBooking && env.Intent == message.Confirm:
		c.onConfirm(conv, env)
	case conv.state == RequestingBooking && env.Intent == message.Disconfirm:
		if !c.retry(conv, "contention") {
			c.fail(conv, fmt.Errorf("%w: %s", ErrMaxRetries, env.Content))
			return
		}
		c.scheduleRetry(conv)
	default:
		c.log.Warn().Str("conversation_id", conv.id).Str("state", conv.state.String()).Str("intent", env.Intent.String()).Msg("unexpected reply")
		c.onFailure(ctx, conv, env)
	}
}

func (c *Coordinator) stale(env message.Envelope, why string) {
	c.metrics.StaleMessages.Inc()
	c.log.Warn().Str("conversation_id", env.ConversationID).Str("in_reply_to", env.InReplyTo).Str("intent", env.Intent.String()).Msg(why)
	c.audit.Log(audit.Record{
		Sender:         env.Sender,
		Receiver:       c.id,
		Intent:         "STALE",
		ConversationID: env.ConversationID,
		Content:        fmt.Sprintf("%s: %s", ErrStaleMessage, why),
		Level:          audit.LevelWarning,
	})
}

func (c *Coordinator) onFailure(ctx context.Context, conv *conversation, env message.Envelope) {
	if !c.retry(conv, "failure") {
		c.fail(conv, fmt.Errorf("%w: %s", ErrMaxRetries, message.ErrorReason(env.Content)))
		return
	}
	c.reissue(ctx, conv)
}

func (c *Coordinator) onOptions(ctx context.Context, conv *conversation, env message.Envelope) {
	c.transition(conv, ReceivedOptions)
	var offered []message.OfferedSeat
	if message.IsAlternatives(env.Content) {
		offered, _ = message.ParseAlternativesResponse(env.Content)
	} else if offer, err := message.ParseInfoResponse(env.Content); err == nil {
		offered = offer.Seats
	}
	class, seats, ok := pickSeats(offered, conv.class, conv.req.Tickets)
	if !ok {
		c.fail(conv, fmt.Errorf("%w: need %d, %d offered", ErrNoSeats, conv.req.Tickets, len(offered)))
		return
	}
	conv.class = class
	conv.seats = seats
	c.transition(conv, CheckingSeat)
	c.issue(ctx, conv, message.QueryIf, conv.bookingContent(), "check")
}

func (c *Coordinator) onConfirm(conv *conversation, env message.Envelope) {
	txn, ok := message.ParseTransactionID(env.Content)
	if !ok {
		c.log.Warn().Str("conversation_id", conv.id).Str("content", env.Content).Msg("confirm without transaction id")
	}
	c.transition(conv, BookingCompleted)
	c.finish(conv, Result{Success: true, Message: env.Content, TransactionID: txn})
}

func (c *Coordinator) transition(conv *conversation, next State) {
	prev := conv.state
	conv.state = next
	conv.changedAt = c.clock.Now()
	c.log.Debug().Str("conversation_id", conv.id).Str("from", prev.String()).Str("to", next.String()).Msg("state changed")
	c.audit.Log(audit.Record{
		Sender:         c.id,
		Receiver:       audit.System,
		Intent:         "STATE_CHANGE",
		ConversationID: conv.id,
		Content:        fmt.Sprintf("State changed from %s to %s", prev, next),
		Level:          audit.LevelInfo,
	})
}

func (c *Coordinator) fail(conv *conversation, err error) {
	if conv.state.Terminal() {
		return
	}
	c.log.Warn().Err(err).Str("conversation_id", conv.id).Str("state", conv.state.String()).Int("retries", conv.retries).Msg("negotiation failed")
	c.audit.Log(audit.Record{
		Sender:         c.id,
		Receiver:       audit.System,
		Intent:         "ERROR",
		ConversationID: conv.id,
		Content:        err.Error(),
		Level:          audit.LevelError,
	})
	c.transition(conv, Error)
	c.finish(conv, Result{Message: err.Error()})
}

func (c *Coordinator) finish(conv *conversation, res Result) {
	c.stopTimer(conv)
	delete(c.conversations, conv.id)
	res.ConversationID = conv.id
	res.Retries = conv.retries
	if res.Success {
		res.Seats = conv.seats
	}
	outcome := "failure"
	status := "FAILED"
	if res.Success {
		outcome = "success"
		status = "SUCCESS"
	}
	c.metrics.Negotiations.WithLabelValues(outcome).Inc()
	c.audit.Log(audit.Record{
		Sender:         c.id,
		Receiver:       audit.System,
		Intent:         "CONFIRMATION",
		ConversationID: conv.id,
		Content:        fmt.Sprintf("Sending confirmation to caller: %s - %s", status, res.Message),
		Level:          audit.LevelInfo,
	})
	if conv.handle.complete(res) && c.onResult != nil {
		c.onResult(res)
	}
}
