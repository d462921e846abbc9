// Package message defines the envelope exchanged between negotiating
// participants and the flat string protocol carried in its content.
package message

import (
	"fmt"
	"time"
)

// Intent is the purpose of an envelope.
type Intent string

const (
	Request    Intent = "REQUEST"
	QueryIf    Intent = "QUERY_IF"
	Inform     Intent = "INFORM"
	Agree      Intent = "AGREE"
	Refuse     Intent = "REFUSE"
	Confirm    Intent = "CONFIRM"
	Disconfirm Intent = "DISCONFIRM"
	Failure    Intent = "FAILURE"
)

// Valid reports whether i is one of the known intents.
func (i Intent) Valid() bool {
	switch i {
	case Request, QueryIf, Inform, Agree, Refuse, Confirm, Disconfirm, Failure:
		return true
	}
	return false
}

func (i Intent) String() string { return string(i) }

// Envelope is an immutable message value.  ReplyWith is set by the
// sender of a request; the response carries the same token in InReplyTo.
type Envelope struct {
	Sender         string
	Receiver       string
	Intent         Intent
	ConversationID string
	ReplyWith      string
	InReplyTo      string
	Content        string
	SentAt         time.Time
}

// Reply builds the response to e: participants swapped, conversation id
// copied and InReplyTo set to e's reply token.
func (e Envelope) Reply(intent Intent, content string) Envelope {
	return Envelope{
		Sender:         e.Receiver,
		Receiver:       e.Sender,
		Intent:         intent,
		ConversationID: e.ConversationID,
		InReplyTo:      e.ReplyWith,
		Content:        content,
	}
}

func (e Envelope) String() string {
	return fmt.Sprintf("%s -> %s %s conv=%s reply_with=%s in_reply_to=%s %q",
		e.Sender, e.Receiver, e.Intent, e.ConversationID, e.ReplyWith, e.InReplyTo, e.Content)
}
