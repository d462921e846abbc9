package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateTableSQL is the schema expected by MySQLSink.
const CreateTableSQL = `CREATE TABLE IF NOT EXISTS negotiation_audit (
    id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
    logged_at DATETIME(3) NOT NULL,
    sender VARCHAR(64) NOT NULL,
    receiver VARCHAR(64) NOT NULL,
    intent VARCHAR(32) NOT NULL,
    conversation_id VARCHAR(128) NOT NULL,
    content TEXT NOT NULL,
    level VARCHAR(8) NOT NULL,
    KEY idx_negotiation_audit_conversation (conversation_id)
)`

const insertAuditSQL = `INSERT INTO negotiation_audit (logged_at, sender, receiver, intent, conversation_id, content, level) VALUES (?, ?, ?, ?, ?, ?, ?)`

// MySQLSink inserts one row per record into negotiation_audit.
type MySQLSink struct {
	db *sql.DB
}

func NewMySQLSink(db *sql.DB) *MySQLSink {
	return &MySQLSink{db: db}
}

// EnsureSchema creates the audit table if it does not exist.
func (s *MySQLSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, CreateTableSQL); err != nil {
		return fmt.Errorf("create negotiation_audit: %w", err)
	}
	return nil
}

func (s *MySQLSink) Write(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx, insertAuditSQL,
		r.Timestamp.UTC(), r.Sender, r.Receiver, r.Intent, r.ConversationID, r.Content, string(r.Level))
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}
