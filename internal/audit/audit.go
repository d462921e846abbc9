// Package audit carries the append-only stream of negotiation steps
// (sends, receives, state changes, retries, outcomes) to one or more
// sinks.  The negotiating participants only ever call Logger.Log, which
// must not block; storage format is owned by the sinks.
package audit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Level classifies a record.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
	LevelDebug   Level = "DEBUG"
)

// System is used as sender/receiver for steps that are not messages.
const System = "SYSTEM"

// Record is one audit entry.  Intent holds the message intent for
// sends/receives and an event name (STATE_CHANGE, RETRY, TIMEOUT, ...)
// otherwise.
type Record struct {
	Timestamp      time.Time `json:"timestamp"`
	Sender         string    `json:"sender"`
	Receiver       string    `json:"receiver"`
	Intent         string    `json:"intent"`
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	Level          Level     `json:"level"`
}

// Sink persists records.  Implementations must be safe for concurrent use.
type Sink interface {
	Write(ctx context.Context, r Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r Record) error

func (f SinkFunc) Write(ctx context.Context, r Record) error { return f(ctx, r) }

// Logger is the fire-and-forget entry point used by the core.
type Logger interface {
	Log(r Record)
}

// Nop discards every record.
type Nop struct{}

func (Nop) Log(Record) {}

// Multi fans a record out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Write(ctx context.Context, r Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory keeps records in memory.  It is both a Sink and a Logger and is
// mostly useful in tests.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Write(_ context.Context, r Record) error {
	m.Log(r)
	return nil
}

func (m *Memory) Log(r Record) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	m.mu.Lock()
	m.records = append(m.records, r)
	m.mu.Unlock()
}

// Records returns a copy of everything logged so far.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// Filter returns the records whose intent equals intent.
func (m *Memory) Filter(intent string) []Record {
	var out []Record
	for _, r := range m.Records() {
		if r.Intent == intent {
			out = append(out, r)
		}
	}
	return out
}
