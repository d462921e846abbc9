package negotiation

import "errors"

var (
	// ErrTimeout marks an attempt that got no reply in time.
	ErrTimeout = errors.New("no response before timeout")
	// ErrMaxRetries ends a conversation whose retry budget is spent.
	ErrMaxRetries = errors.New("maximum retry attempts reached")
	// ErrStaleMessage marks an envelope for an unknown conversation or
	// with an unexpected in-reply-to token.  Such envelopes are dropped.
	ErrStaleMessage = errors.New("stale message")
	// ErrRejected is a validation failure reported by the authority.
	ErrRejected = errors.New("request rejected")
	// ErrTransport means the request could not be delivered.
	ErrTransport = errors.New("transport failure")
	// ErrNoSeats means the offered seats cannot cover the ticket count.
	ErrNoSeats = errors.New("not enough seats offered")
	// ErrInvalidRequest means a request field cannot be put on the wire.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrStopped is returned once the coordinator loop has exited.
	ErrStopped = errors.New("coordinator stopped")
)
