package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"gogetter/internal/goals"
)

const defaultAuditPath = "audit/events.db"

// Event types recorded by the orchestration core.
const (
	EventWizardCreated   = "wizard.created"
	EventWizardStep      = "wizard.step"
	EventWizardConfirmed = "wizard.confirmed"
	EventWizardCancelled = "wizard.cancelled"
	EventWizardsExpired  = "wizard.expired"
	EventIsolation       = "wizard.isolation_violation"
	EventPlanActivated   = "plan.activated"
	EventGroupChange     = "group.change"
	EventReplanStarted   = "group.replan_started"
	EventReplanFinished  = "group.replan_finished"
	EventGroupsCompleted = "group.completed"
	EventGroupCancelled  = "group.cancelled"
	EventJobStarted      = "job.started"
	EventJobFinished     = "job.finished"
	EventDaemonStarted   = "daemon.started"
	EventDaemonStopped   = "daemon.stopped"
)

// Logger writes audit events to a specific SQLite DB path.
type Logger struct {
	DBPath string
	log    *slog.Logger
}

// Event is one stored audit record.
type Event struct {
	ID          int64     `json:"id"`
	OperationID string    `json:"operation_id"`
	TS          time.Time `json:"ts"`
	Actor       string    `json:"actor"`
	Type        string    `json:"type"`
	PayloadJSON string    `json:"payload_json"`
}

// NewLogger returns a Logger bound to the provided DB path. An empty path
// falls back to GOGETTER_AUDIT_DB and then audit/events.db.
func NewLogger(dbPath string, log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{DBPath: dbPath, log: log}
}

// LogEvent writes an audit event and returns its operation id.
func (l *Logger) LogEvent(ctx context.Context, actor string, eventType string, payload any) (string, error) {
	resolved, err := resolveDBPath(l.DBPath)
	if err != nil {
		return "", err
	}
	db, err := open(resolved)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = db.Close()
	}()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	opID := uuid.NewString()
	_, err = db.ExecContext(ctx,
		"INSERT INTO events (operation_id, ts, actor, type, payload_json) VALUES (?, ?, ?, ?, ?)",
		opID,
		time.Now().UTC().Format(time.RFC3339Nano),
		actor,
		eventType,
		string(payloadJSON),
	)
	if err != nil {
		return "", fmt.Errorf("insert audit event: %w", err)
	}
	return opID, nil
}

// Record writes an event after the fact. Failures are logged and never
// returned; audit must not roll back committed work. A nil Logger records
// nothing.
func (l *Logger) Record(ctx context.Context, actor goals.Actor, eventType string, payload any) {
	if l == nil {
		return
	}
	if _, err := l.LogEvent(ctx, actor.String(), eventType, payload); err != nil {
		l.log.Warn("audit event dropped", "type", eventType, "error", err)
	}
}

// Recent returns the newest events first, optionally filtered by type.
func (l *Logger) Recent(ctx context.Context, limit int, eventType string) ([]Event, error) {
	resolved, err := resolveDBPath(l.DBPath)
	if err != nil {
		return nil, err
	}
	db, err := open(resolved)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = db.Close()
	}()
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT id, operation_id, ts, actor, type, payload_json FROM events"
	args := []any{}
	if eventType != "" {
		query += " WHERE type = ?"
		args = append(args, eventType)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var ts string
		if err := rows.Scan(&ev.ID, &ev.OperationID, &ts, &ev.Actor, &ev.Type, &ev.PayloadJSON); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.TS, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return out, nil
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			operation_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			actor TEXT NOT NULL,
			type TEXT NOT NULL,
			payload_json TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}
	return nil
}

func resolveDBPath(dbPath string) (string, error) {
	if dbPath == "" {
		dbPath = os.Getenv("GOGETTER_AUDIT_DB")
	}
	if dbPath == "" {
		dbPath = defaultAuditPath
	}
	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return "", fmt.Errorf("resolve audit db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", fmt.Errorf("ensure audit db dir: %w", err)
	}
	return absPath, nil
}
