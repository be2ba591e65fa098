package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/haasonsaas/nexus/pkg/models"
)

// PostgresSink persists tool invocations to a durable table, for
// deployments where the async buffered Logger's stdout/file output isn't
// queryable after the fact. It implements the same AuditEmitter/AuditSink
// shapes as Logger so either can back gate.Gate and tooldispatch.Dispatcher
// interchangeably.
type PostgresSink struct {
	db            *sql.DB
	retention     time.Duration
	writeTimeout  time.Duration
}

// NewPostgresSink opens dsn (driver "postgres", from lib/pq) and verifies
// connectivity. retention configures PurgeExpired's cutoff.
func NewPostgresSink(dsn string, retention time.Duration) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping postgres: %w", err)
	}
	return &PostgresSink{db: db, retention: retention, writeTimeout: 5 * time.Second}, nil
}

// NewPostgresSinkFromDB wraps an already-open *sql.DB, letting tests
// inject a go-sqlmock connection instead of dialing a real server.
func NewPostgresSinkFromDB(db *sql.DB, retention time.Duration) *PostgresSink {
	return &PostgresSink{db: db, retention: retention, writeTimeout: 5 * time.Second}
}

// Close releases the underlying connection pool.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

const insertAuditEventSQL = `
INSERT INTO audit_events
	(event_id, event_type, level, occurred_at, session_id, user_id, tool_name, action, duration_ms, error, details)
VALUES
	($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

// Record implements gate.AuditEmitter.
func (s *PostgresSink) Record(ctx context.Context, kind, userID, detail string) {
	s.insert(ctx, &Event{
		Type:      EventPermissionDenied,
		Level:     LevelWarn,
		UserID:    userID,
		Action:    "gate_" + kind,
		Timestamp: time.Now(),
		Details:   map[string]any{"detail": detail},
	})
}

// RecordToolInvocation implements tooldispatch.AuditSink.
func (s *PostgresSink) RecordToolInvocation(ctx context.Context, inv models.ToolInvocation) {
	eventType := EventToolCompletion
	level := LevelInfo
	switch inv.Outcome {
	case models.ToolOutcomeDenied:
		eventType = EventToolDenied
		level = LevelWarn
	case models.ToolOutcomeError, models.ToolOutcomeTimeout:
		level = LevelWarn
	}
	s.insert(ctx, &Event{
		Type:      eventType,
		Level:     level,
		SessionID: inv.SessionID,
		UserID:    inv.UserID,
		ToolName:  inv.ToolName,
		Action:    "tool_" + string(inv.Outcome),
		Duration:  time.Duration(inv.DurationMS) * time.Millisecond,
		Error:     inv.PolicyReason,
		Timestamp: time.Now(),
		Details:   map[string]any{"agent_kind": inv.AgentKind},
	})
}

// insert writes event, logging via the standard library logger on
// failure rather than propagating the error — an audit write must never
// fail the operation it's recording.
func (s *PostgresSink) insert(ctx context.Context, event *Event) {
	if event.ID == "" {
		event.ID = fmt.Sprintf("%d", time.Now().UnixNano())
	}
	details, err := json.Marshal(event.Details)
	if err != nil {
		details = []byte("{}")
	}

	wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	_, _ = s.db.ExecContext(wctx, insertAuditEventSQL,
		event.ID, event.Type, event.Level, event.Timestamp,
		event.SessionID, event.UserID, event.ToolName, event.Action,
		event.Duration.Milliseconds(), event.Error, details,
	)
}

// PurgeExpired deletes every row older than the configured retention,
// per spec.md §6's audit.retention_days.
func (s *PostgresSink) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.retention)
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit: purge expired: %w", err)
	}
	return res.RowsAffected()
}
