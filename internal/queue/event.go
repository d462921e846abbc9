// Package queue moves audit records over RabbitMQ: a Publisher that acts
// as an audit sink and a Consumer that appends delivered records to
// another sink (the CSV log in cmd/auditconsumer).
package queue

import (
	"time"

	"github.com/iliyamo/cinema-seat-negotiation/internal/audit"
)

// AuditEvent is the JSON body of one queued audit record.
type AuditEvent struct {
	Timestamp      string `json:"timestamp"`
	Sender         string `json:"sender"`
	Receiver       string `json:"receiver"`
	Intent         string `json:"intent"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	Level          string `json:"level"`
}

func EventFromRecord(r audit.Record) AuditEvent {
	return AuditEvent{
		Timestamp:      r.Timestamp.UTC().Format(time.RFC3339Nano),
		Sender:         r.Sender,
		Receiver:       r.Receiver,
		Intent:         r.Intent,
		ConversationID: r.ConversationID,
		Content:        r.Content,
		Level:          string(r.Level),
	}
}

// Record converts the event back.  An unparseable timestamp yields the
// zero time.
func (e AuditEvent) Record() audit.Record {
	ts, _ := time.Parse(time.RFC3339Nano, e.Timestamp)
	return audit.Record{
		Timestamp:      ts,
		Sender:         e.Sender,
		Receiver:       e.Receiver,
		Intent:         e.Intent,
		ConversationID: e.ConversationID,
		Content:        e.Content,
		Level:          audit.Level(e.Level),
	}
}
