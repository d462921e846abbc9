package audit

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const timestampLayout = "2006-01-02 15:04:05"

var csvHeader = []string{"timestamp", "sender", "receiver", "performative", "conversationId", "content", "level"}

// CSVSink appends records to a CSV file.  The header is written when the
// file is empty.  Commas in content become ';' and newlines become
// spaces so every record stays on one line.
type CSVSink struct {
	mu   sync.Mutex
	f    *os.File
	w    *csv.Writer
	path string
}

// OpenCSV opens (or creates) path for appending, creating parent
// directories as needed.
func OpenCSV(path string) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit csv: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat audit csv: %w", err)
	}
	s := &CSVSink{f: f, w: csv.NewWriter(f), path: path}
	if st.Size() == 0 {
		if err := s.w.Write(csvHeader); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
		s.w.Flush()
	}
	return s, nil
}

func (s *CSVSink) Path() string { return s.path }

func (s *CSVSink) Write(_ context.Context, r Record) error {
	row := []string{
		r.Timestamp.Format(timestampLayout),
		r.Sender,
		r.Receiver,
		r.Intent,
		r.ConversationID,
		escapeContent(r.Content),
		string(r.Level),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("write audit row: %w", err)
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	return s.f.Close()
}

func escapeContent(c string) string {
	c = strings.ReplaceAll(c, ",", ";")
	c = strings.ReplaceAll(c, "\r", " ")
	return strings.ReplaceAll(c, "\n", " ")
}
